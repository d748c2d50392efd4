// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"

	"strategy-center/pkg/log"
)

// Middleware 中间件管理器
type Middleware struct {
	logger *log.Logger
}

// NewMiddleware 创建中间件管理器；logger 为 nil 时不输出访问日志
func NewMiddleware(logger *log.Logger) *Middleware {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Middleware{logger: logger}
}

// CORS origins 为空时允许任意来源
func (m *Middleware) CORS(origins []string) app.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(c context.Context, ctx *app.RequestContext) {
		origin := string(ctx.GetHeader("Origin"))
		switch {
		case len(allowed) == 0 || allowed["*"]:
			ctx.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			ctx.Header("Access-Control-Allow-Origin", origin)
			ctx.Header("Vary", "Origin")
		}
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-User-ID, X-User-Role")
		ctx.Header("Access-Control-Max-Age", "86400")

		if string(ctx.Method()) == consts.MethodOptions {
			ctx.AbortWithStatus(consts.StatusNoContent)
			return
		}
		ctx.Next(c)
	}
}

// RateLimit 全局令牌桶限流（突发为 rps）；rps<=0 时不限流
func (m *Middleware) RateLimit(rps int) app.HandlerFunc {
	if rps <= 0 {
		return func(c context.Context, ctx *app.RequestContext) { ctx.Next(c) }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), rps)
	return func(c context.Context, ctx *app.RequestContext) {
		if !limiter.Allow() {
			ctx.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{
				"error": "too many requests",
			})
			return
		}
		ctx.Next(c)
	}
}
