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
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"strategy-center/pkg/metrics"
)

// AccessLog 记录访问日志与 HTTP 请求计数
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)

		method := string(ctx.Method())
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := ctx.Response.StatusCode()
		metrics.HTTPRequestTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		if route == "/metrics" || route == "/api/health" {
			return
		}
		resourceType, resourceID := extractResource(string(ctx.Path()))
		attrs := []any{
			"method", method,
			"path", string(ctx.Path()),
			"status", code,
			"duration_ms", time.Since(start).Milliseconds(),
			"action", determineAction(method, route),
		}
		if resourceID != "" {
			attrs = append(attrs, "resource", resourceType, "resource_id", resourceID)
		}
		if id, ok := IdentityOf(ctx); ok {
			attrs = append(attrs, "user_id", id.UserID)
		}
		if code >= 500 {
			m.logger.Error("http request", attrs...)
		} else {
			m.logger.Info("http request", attrs...)
		}
	}
}

// determineAction 根据方法与路由模板确定操作类型
func determineAction(method, route string) string {
	switch {
	case method == "POST" && strings.HasSuffix(route, "/execute"):
		return "submit_job"
	case method == "POST" && strings.HasSuffix(route, "/cancel"):
		return "cancel_job"
	case method == "POST" && strings.HasSuffix(route, "/review"):
		return "review_approval"
	case method == "POST" && route == "/api/auth/login":
		return "login"
	case method == "POST" && route == "/api/users":
		return "create_user"
	case strings.HasPrefix(route, "/api/jobs"):
		return "view_job"
	case strings.HasPrefix(route, "/api/approvals"):
		return "view_approval"
	}
	return "read"
}

// extractResource 从路径提取资源类型和 ID
func extractResource(path string) (resourceType string, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 {
		// /api/jobs/:id -> job, :id
		switch parts[1] {
		case "jobs":
			return "job", parts[2]
		case "approvals":
			return "approval", parts[2]
		case "agents":
			return "agent", parts[2]
		}
	}
	return "", ""
}
