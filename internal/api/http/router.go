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

package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"strategy-center/internal/api/http/middleware"
	"strategy-center/pkg/auth"
)

// Router HTTP 路由器
type Router struct {
	handler     *Handler
	middleware  *middleware.Middleware
	jwt         *middleware.JWTAuth
	corsEnabled bool
	corsOrigins []string
	rateLimit   int
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetJWT 启用 JWT 认证；未设置时使用 X-User-ID / X-User-Role 开发身份
func (r *Router) SetJWT(j *middleware.JWTAuth) {
	r.jwt = j
}

// SetCORS 启用 CORS；origins 为空表示允许任意来源
func (r *Router) SetCORS(origins []string) {
	r.corsEnabled = true
	r.corsOrigins = origins
}

// SetRateLimit 全局每秒请求上限，<=0 关闭
func (r *Router) SetRateLimit(rps int) {
	r.rateLimit = rps
}

// Build 创建 Hertz 实例并注册路由，opts 可追加 tracer 等选项
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	all := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(all...)
	r.Register(h)
	return h
}

// Register 注册全部路由
func (r *Router) Register(h *server.Hertz) {
	h.Use(r.middleware.AccessLog())
	if r.corsEnabled {
		h.Use(r.middleware.CORS(r.corsOrigins))
		h.OPTIONS("/*path", func(c context.Context, ctx *app.RequestContext) {
			ctx.AbortWithStatus(consts.StatusNoContent)
		})
	}
	if r.rateLimit > 0 {
		h.Use(r.middleware.RateLimit(r.rateLimit))
	}

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	if r.jwt != nil {
		api.POST("/auth/login", r.jwt.LoginHandler)
		api.POST("/auth/refresh", r.jwt.RefreshHandler)
	}

	var authn []app.HandlerFunc
	if r.jwt != nil {
		authn = r.jwt.Handlers()
	} else {
		authn = []app.HandlerFunc{middleware.DevIdentity()}
	}
	sec := api.Group("", authn...)
	sec.GET("/auth/me", r.handler.Me)

	sec.GET("/agents", middleware.RequirePermission(auth.PermissionAgentView), r.handler.ListAgents)
	sec.POST("/agents/:name/execute", middleware.RequirePermission(auth.PermissionJobCreate), r.handler.ExecuteAgent)

	jobs := sec.Group("/jobs")
	{
		jobs.GET("", middleware.RequirePermission(auth.PermissionJobView), r.handler.ListJobs)
		jobs.GET("/:id", middleware.RequirePermission(auth.PermissionJobView), r.handler.GetJob)
		jobs.POST("/:id/cancel", middleware.RequirePermission(auth.PermissionJobCancel), r.handler.CancelJob)
	}

	// 审阅权限由 ApprovalGate 判定，提交者也可查看自己 Job 的审批详情
	approvals := sec.Group("/approvals")
	{
		approvals.GET("", r.handler.ListApprovals)
		approvals.GET("/:id", r.handler.GetApproval)
		approvals.POST("/:id/review", r.handler.ReviewApproval)
	}

	users := sec.Group("/users", middleware.RequirePermission(auth.PermissionUserManage))
	{
		users.POST("", r.handler.CreateUser)
		users.GET("", r.handler.ListUsers)
	}

	sec.GET("/stats/dashboard", middleware.RequirePermission(auth.PermissionStatsView), r.handler.DashboardStats)
}
