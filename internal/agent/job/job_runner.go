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

package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"strategy-center/internal/agent"
	apperrors "strategy-center/pkg/errors"
	"strategy-center/pkg/log"
	"strategy-center/pkg/metrics"
	"strategy-center/pkg/tracing"
)

// ErrorKindInterrupted Worker 停止时仍在执行的 Job
const ErrorKindInterrupted = "interrupted"

// titleTaskChars Approval 标题中任务描述的最大字符数
const titleTaskChars = 50

// Canceller 进程内取消正在执行的 Job；Scheduler 实现
type Canceller interface {
	Cancel(jobID string) bool
}

// SubmitRequest 提交参数
type SubmitRequest struct {
	AgentName        string
	Task             string
	Parameters       map[string]interface{}
	CreatedBy        string
	RequiresApproval bool
	// Priority low | medium | high，空为 medium
	Priority string
}

// Runner 持有 Job 状态机：提交、执行、查询与取消；执行由 Scheduler 异步驱动
type Runner struct {
	store     JobStore
	registry  *agent.Registry
	wakeup    WakeupQueue
	canceller Canceller
	logger    *log.Logger
}

// NewRunner 创建 Runner；wakeup 可为 nil（Scheduler 仅靠轮询）
func NewRunner(store JobStore, registry *agent.Registry, wakeup WakeupQueue, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Runner{store: store, registry: registry, wakeup: wakeup, logger: logger}
}

// SetCanceller 设置进程内取消器（可选）
func (r *Runner) SetCanceller(c Canceller) {
	r.canceller = c
}

// Registry 返回注入的 Agent 注册表
func (r *Runner) Registry() *agent.Registry { return r.registry }

// Store 返回底层 JobStore
func (r *Runner) Store() JobStore { return r.store }

// Submit 同步校验后创建 Pending Job 并唤醒调度器，立即返回；校验失败时不写任何记录
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	a, err := r.registry.Lookup(req.AgentName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, apperrors.Validation("task is empty")
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	if err := agent.ValidateParams(a, req.Parameters); err != nil {
		return nil, err
	}
	j := &Job{
		AgentName:      req.AgentName,
		Task:           req.Task,
		Parameters:     req.Parameters,
		Priority:       priority,
		CreatedBy:      req.CreatedBy,
		ApprovalStatus: ApprovalPending,
	}
	if !req.RequiresApproval {
		j.ApprovalStatus = ApprovalApproved
	}
	id, err := r.store.Create(ctx, j)
	if err != nil {
		return nil, apperrors.Wrap(err, "create job")
	}
	metrics.JobSubmittedTotal.WithLabelValues(req.AgentName).Inc()
	r.logger.Info("job submitted", "job_id", id, "agent", req.AgentName, "created_by", req.CreatedBy,
		"priority", PriorityName(priority), "requires_approval", req.RequiresApproval)
	if r.wakeup != nil {
		if err := r.wakeup.NotifyReady(ctx, id); err != nil {
			r.logger.Warn("wakeup notify failed", "job_id", id, "error", err)
		}
	}
	return j.Clone(), nil
}

// Get 查询 Job；不存在返回 ErrNotFound
func (r *Runner) Get(ctx context.Context, jobID string) (*Job, error) {
	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, apperrors.NotFound("job", jobID)
	}
	return j, nil
}

// List 按 CreatedAt 倒序；归属过滤由调用方通过 filter.CreatedBy 决定
func (r *Runner) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	return r.store.List(ctx, filter)
}

// Cancel Pending 直接取消；Running 标记取消并尽力中断本进程内的执行，迟到的结果被丢弃
func (r *Runner) Cancel(ctx context.Context, jobID string) (*Job, error) {
	j, err := r.store.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	interrupted := false
	if r.canceller != nil {
		interrupted = r.canceller.Cancel(jobID)
	}
	metrics.JobFinishedTotal.WithLabelValues(j.AgentName, StatusCancelled.String()).Inc()
	r.logger.Info("job cancelled", "job_id", jobID, "interrupted", interrupted)
	return j, nil
}

// Execute 执行一个已被认领（Running）的 Job，结果只通过 JobStore 反映；供 Scheduler 作为 RunJobFunc 调用
func (r *Runner) Execute(ctx context.Context, claimed *Job) error {
	j, err := r.store.Get(ctx, claimed.ID)
	if err != nil {
		return err
	}
	if j == nil {
		r.logger.Error("claimed job disappeared", "job_id", claimed.ID)
		return nil
	}
	if j.Status != StatusRunning {
		r.logger.Info("job no longer running, skip", "job_id", j.ID, "status", j.Status.String())
		return nil
	}
	start := time.Now()
	if j.StartedAt != nil {
		start = *j.StartedAt
	}

	a, err := r.registry.Lookup(j.AgentName)
	if err != nil {
		return r.fail(ctx, j, ErrorKindUnknownAgent, err.Error(), start)
	}

	spanCtx, span := tracing.StartJobSpan(ctx, j.ID, j.AgentName)
	res, runErr := a.Run(spanCtx, j.Task, j.Parameters)
	if runErr == nil && res == nil {
		runErr = fmt.Errorf("agent %s returned no result", j.AgentName)
	}
	tracing.EndSpan(span, runErr)

	if runErr != nil {
		kind, msg := classify(ctx, runErr)
		return r.fail(context.WithoutCancel(ctx), j, kind, msg, start)
	}

	var snapshot *Approval
	if j.ApprovalStatus == ApprovalPending {
		contentType := res.ContentType
		if contentType == "" {
			contentType = agent.DefaultContentType
		}
		snapshot = &Approval{
			ContentType: contentType,
			Title:       approvalTitle(j.AgentName, j.Task),
			Content:     res.Content,
		}
	}
	_, ap, err := r.store.Complete(context.WithoutCancel(ctx), j.ID, res, snapshot)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			r.logger.Info("late result discarded", "job_id", j.ID, "reason", err.Error())
			return nil
		}
		return err
	}
	metrics.JobFinishedTotal.WithLabelValues(j.AgentName, StatusCompleted.String()).Inc()
	metrics.JobDuration.WithLabelValues(j.AgentName).Observe(time.Since(start).Seconds())
	attrs := []any{"job_id", j.ID, "agent", j.AgentName, "outcome", string(res.Outcome)}
	if res.ReasonCode != "" {
		attrs = append(attrs, "reason", res.ReasonCode)
	}
	if ap != nil {
		attrs = append(attrs, "approval_id", ap.ID)
	}
	r.logger.Info("job completed", attrs...)
	return nil
}

func (r *Runner) fail(ctx context.Context, j *Job, kind, msg string, start time.Time) error {
	if err := r.store.Fail(ctx, j.ID, kind, msg); err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			r.logger.Info("failure discarded", "job_id", j.ID, "reason", err.Error())
			return nil
		}
		return err
	}
	metrics.JobFinishedTotal.WithLabelValues(j.AgentName, StatusFailed.String()).Inc()
	metrics.JobDuration.WithLabelValues(j.AgentName).Observe(time.Since(start).Seconds())
	r.logger.Warn("job failed", "job_id", j.ID, "agent", j.AgentName, "kind", kind, "error", msg)
	return nil
}

// classify 将执行错误映射为 ErrorKind；ctx 为本次执行的上下文
func classify(ctx context.Context, err error) (string, string) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout, fmt.Sprintf("%v: %v", apperrors.ErrTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrorKindInterrupted, "worker stopped before completion; resubmit to retry"
	}
	kind := apperrors.Kind(err)
	if kind == "internal" {
		kind = ErrorKindInternal
	}
	return kind, err.Error()
}

// approvalTitle "<agent> - <task 前 50 个字符>"
func approvalTitle(agentName, task string) string {
	task = strings.TrimSpace(task)
	if r := []rune(task); len(r) > titleTaskChars {
		task = string(r[:titleTaskChars])
	}
	return agentName + " - " + task
}
