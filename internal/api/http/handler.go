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
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"strategy-center/internal/agent"
	"strategy-center/internal/agent/job"
	"strategy-center/pkg/auth"
	apperrors "strategy-center/pkg/errors"
	"strategy-center/pkg/log"
	"strategy-center/pkg/metrics"
)

// Handler HTTP 处理器
type Handler struct {
	runner       *job.Runner
	gate         *job.ApprovalGate
	users        auth.UserStore
	logger       *log.Logger
	previewChars int
	running      func() int
}

// NewHandler 创建 HTTP 处理器；users 为 nil 时用户管理接口返回 404
func NewHandler(runner *job.Runner, gate *job.ApprovalGate, users auth.UserStore, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{
		runner:       runner,
		gate:         gate,
		users:        users,
		logger:       logger,
		previewChars: DefaultPreviewChars,
	}
}

// SetPreviewChars 设置审批列表预览长度
func (h *Handler) SetPreviewChars(n int) {
	if n > 0 {
		h.previewChars = n
	}
}

// SetRunningFunc 注入进程内执行中 Job 数（dashboard 展示）
func (h *Handler) SetRunningFunc(f func() int) {
	h.running = f
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "strategy-center-api",
		"agents":    h.runner.Registry().Len(),
	})
}

// Me 当前调用方身份
// GET /api/auth/me
func (h *Handler) Me(c context.Context, ctx *app.RequestContext) {
	id := auth.IdentityFrom(c)
	out := map[string]interface{}{
		"user_id": id.UserID,
		"role":    id.Role,
	}
	out["permissions"] = auth.RolePermissions[id.Role]
	if h.users != nil {
		u, err := h.users.Get(c, id.UserID)
		if err != nil {
			writeError(c, ctx, err)
			return
		}
		if u != nil {
			out["user"] = newUserView(u)
		}
	}
	ctx.JSON(consts.StatusOK, out)
}

// ListAgents 列出已注册的 Agent 及其参数
// GET /api/agents
func (h *Handler) ListAgents(c context.Context, ctx *app.RequestContext) {
	agents := h.runner.Registry().List()
	infos := make([]agent.Info, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, agent.Describe(a))
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"agents": infos,
		"total":  len(infos),
	})
}

// ExecuteAgent 提交 Job，立即返回 202
// POST /api/agents/:name/execute
func (h *Handler) ExecuteAgent(c context.Context, ctx *app.RequestContext) {
	var req executeRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	requiresApproval := true
	if req.RequiresApproval != nil {
		requiresApproval = *req.RequiresApproval
	}
	id := auth.IdentityFrom(c)
	j, err := h.runner.Submit(c, job.SubmitRequest{
		AgentName:        ctx.Param("name"),
		Task:             req.Task,
		Parameters:       req.Parameters,
		CreatedBy:        id.UserID,
		RequiresApproval: requiresApproval,
		Priority:         strings.ToLower(strings.TrimSpace(req.Priority)),
	})
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusAccepted, executeResponse{
		JobID:          j.ID,
		Status:         j.Status,
		AgentName:      j.AgentName,
		Priority:       job.PriorityName(j.Priority),
		ApprovalStatus: j.ApprovalStatus,
		CreatedAt:      j.CreatedAt,
	})
}

// ListJobs 按 CreatedAt 倒序列出 Job；非管理员只能看到自己的 Job
// GET /api/jobs?status=&owner=&agent=&limit=&offset=
func (h *Handler) ListJobs(c context.Context, ctx *app.RequestContext) {
	limit, offset, ok := pageParams(ctx)
	if !ok {
		return
	}
	filter := job.JobFilter{
		AgentName: ctx.Query("agent"),
		CreatedBy: ctx.Query("owner"),
		Limit:     limit,
		Offset:    offset,
	}
	if s := ctx.Query("status"); s != "" {
		st, valid := job.ParseJobStatus(strings.ToLower(s))
		if !valid {
			badRequest(ctx, "unknown status "+s)
			return
		}
		filter.Status = &st
	}
	id := auth.IdentityFrom(c)
	if !id.Can(auth.PermissionJobViewAll) {
		filter.CreatedBy = id.UserID
	}
	jobs, err := h.runner.List(c, filter)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newJobView(j))
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"jobs":   views,
		"total":  len(views),
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob 查询单个 Job（提交者或管理员）
// GET /api/jobs/:id
func (h *Handler) GetJob(c context.Context, ctx *app.RequestContext) {
	j, err := h.ownedJob(c, ctx.Param("id"), auth.PermissionJobViewAll)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, newJobView(j))
}

// CancelJob 取消 Pending/Running Job（提交者或管理员）
// POST /api/jobs/:id/cancel
func (h *Handler) CancelJob(c context.Context, ctx *app.RequestContext) {
	jobID := ctx.Param("id")
	if _, err := h.ownedJob(c, jobID, auth.PermissionJobCancelAll); err != nil {
		writeError(c, ctx, err)
		return
	}
	j, err := h.runner.Cancel(c, jobID)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, newJobView(j))
}

// ownedJob 读取 Job 并校验归属；具备 allPerm 的角色可访问任意 Job
func (h *Handler) ownedJob(c context.Context, jobID string, allPerm auth.Permission) (*job.Job, error) {
	j, err := h.runner.Get(c, jobID)
	if err != nil {
		return nil, err
	}
	id := auth.IdentityFrom(c)
	if !id.Can(allPerm) && !id.Owns(j.CreatedBy) {
		return nil, apperrors.Forbidden("job %s belongs to another user", jobID)
	}
	return j, nil
}

// ListApprovals 审批列表（内容为预览）；status 缺省为 pending，all 表示不过滤
// GET /api/approvals?status=&limit=&offset=
func (h *Handler) ListApprovals(c context.Context, ctx *app.RequestContext) {
	limit, offset, ok := pageParams(ctx)
	if !ok {
		return
	}
	filter := job.ApprovalFilter{Limit: limit, Offset: offset}
	switch s := strings.ToLower(ctx.Query("status")); s {
	case "all":
	case "":
		pending := job.ApprovalPending
		filter.Status = &pending
	default:
		st := job.ApprovalStatus(s)
		if !st.Valid() {
			badRequest(ctx, "unknown approval status "+s)
			return
		}
		filter.Status = &st
	}
	list, err := h.gate.List(c, auth.IdentityFrom(c), filter)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	out := make([]*job.Approval, 0, len(list))
	for _, a := range list {
		out = append(out, previewApproval(a, h.previewChars))
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"approvals": out,
		"total":     len(out),
		"limit":     limit,
		"offset":    offset,
	})
}

// GetApproval 审批详情（完整内容）
// GET /api/approvals/:id
func (h *Handler) GetApproval(c context.Context, ctx *app.RequestContext) {
	a, err := h.gate.Get(c, auth.IdentityFrom(c), ctx.Param("id"))
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, a)
}

// ReviewApproval 审批决定
// POST /api/approvals/:id/review
func (h *Handler) ReviewApproval(c context.Context, ctx *app.RequestContext) {
	var req reviewRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	action, err := job.ParseAction(req.Action)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	a, err := h.gate.Decide(c, ctx.Param("id"), auth.IdentityFrom(c), action, req.Reason)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, a)
}

// CreateUser 管理员创建用户
// POST /api/users
func (h *Handler) CreateUser(c context.Context, ctx *app.RequestContext) {
	if h.users == nil {
		writeError(c, ctx, apperrors.NotFound("route", "users"))
		return
	}
	var req createUserRequest
	if err := ctx.BindJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	role := auth.RoleUser
	if req.Role != "" {
		role = auth.Role(strings.ToLower(req.Role))
	}
	u, err := auth.NewUser(req.Email, req.Name, req.Password, role)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	created, err := h.users.Create(c, u)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	h.logger.Info("user created", "user_id", created.ID, "role", string(created.Role), "by", auth.GetUserID(c))
	ctx.JSON(consts.StatusCreated, newUserView(created))
}

// ListUsers 管理员列出用户
// GET /api/users
func (h *Handler) ListUsers(c context.Context, ctx *app.RequestContext) {
	if h.users == nil {
		writeError(c, ctx, apperrors.NotFound("route", "users"))
		return
	}
	users, err := h.users.List(c)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{"users": out, "total": len(out)})
}

// DashboardStats 状态计数、待审数量与成功率；非管理员只统计自己的 Job
// GET /api/stats/dashboard
func (h *Handler) DashboardStats(c context.Context, ctx *app.RequestContext) {
	id := auth.IdentityFrom(c)
	owner, scope := "", "all"
	if !id.Can(auth.PermissionJobViewAll) {
		owner, scope = id.UserID, "own"
	}
	st, err := job.CollectStats(c, h.runner.Store(), owner)
	if err != nil {
		writeError(c, ctx, err)
		return
	}
	st.Agents = h.runner.Registry().Len()
	if h.running != nil {
		st.Running = h.running()
	}
	ctx.JSON(consts.StatusOK, dashboardView{
		Stats:            st,
		PendingApprovals: st.Approvals[string(job.ApprovalPending)],
		SuccessRate:      successRate(st),
		Scope:            scope,
	})
}

// Metrics Prometheus 文本格式
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		writeError(c, ctx, err)
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// pageParams 解析 limit/offset；非法时已写出 400
func pageParams(ctx *app.RequestContext) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	if s := ctx.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			badRequest(ctx, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if s := ctx.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(ctx, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
