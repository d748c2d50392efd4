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
	"strings"
	"time"

	"strategy-center/pkg/auth"
	apperrors "strategy-center/pkg/errors"
	"strategy-center/pkg/log"
	"strategy-center/pkg/metrics"
)

// RejectionPolicy 被拒绝内容的处理策略
type RejectionPolicy string

const (
	// RejectionRetain 保留内容供审计（默认）
	RejectionRetain RejectionPolicy = "retain"
	// RejectionRedact 拒绝时清空 Approval 快照与 Job 结果正文，保留元数据
	RejectionRedact RejectionPolicy = "redact"
)

// ParseRejectionPolicy 空串为 retain
func ParseRejectionPolicy(s string) (RejectionPolicy, error) {
	switch RejectionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RejectionRetain:
		return RejectionRetain, nil
	case RejectionRedact:
		return RejectionRedact, nil
	default:
		return "", apperrors.Validation("unknown rejection policy %q (want retain or redact)", s)
	}
}

// ParseAction 解析审批动作
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	default:
		return "", apperrors.Validation("unknown action %q (want approve or reject)", s)
	}
}

// ApprovalGate 审批状态机与审阅权限
type ApprovalGate struct {
	store  JobStore
	policy RejectionPolicy
	logger *log.Logger
	now    func() time.Time
}

// NewApprovalGate 创建 ApprovalGate
func NewApprovalGate(store JobStore, policy RejectionPolicy, logger *log.Logger) *ApprovalGate {
	if policy == "" {
		policy = RejectionRetain
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &ApprovalGate{store: store, policy: policy, logger: logger, now: time.Now}
}

// Policy 当前拒绝策略
func (g *ApprovalGate) Policy() RejectionPolicy { return g.policy }

func requireReviewer(reviewer auth.Identity) error {
	if !reviewer.Can(auth.PermissionApprovalReview) {
		return apperrors.Forbidden("user %q (role %s) cannot review approvals", reviewer.UserID, reviewer.Role)
	}
	return nil
}

// ListPending 待审列表（CreatedAt 倒序）；非审阅者返回 ErrForbidden
func (g *ApprovalGate) ListPending(ctx context.Context, reviewer auth.Identity, limit, offset int) ([]*Approval, error) {
	pending := ApprovalPending
	return g.List(ctx, reviewer, ApprovalFilter{Status: &pending, Limit: limit, Offset: offset})
}

// List 按过滤条件列出审批；非审阅者返回 ErrForbidden
func (g *ApprovalGate) List(ctx context.Context, reviewer auth.Identity, filter ApprovalFilter) ([]*Approval, error) {
	if err := requireReviewer(reviewer); err != nil {
		return nil, err
	}
	return g.store.ListApprovals(ctx, filter)
}

// Get 审阅者或 Job 提交者可查看
func (g *ApprovalGate) Get(ctx context.Context, viewer auth.Identity, approvalID string) (*Approval, error) {
	a, err := g.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperrors.NotFound("approval", approvalID)
	}
	if !viewer.Can(auth.PermissionApprovalReview) && !viewer.Owns(a.CreatedBy) {
		return nil, apperrors.Forbidden("approval %s belongs to another user", approvalID)
	}
	return a, nil
}

// Decide 审阅决定；Approval 与关联 Job 的审批字段在同一原子单元内更新，决定不可更改
func (g *ApprovalGate) Decide(ctx context.Context, approvalID string, reviewer auth.Identity, action Action, reason string) (*Approval, error) {
	if err := requireReviewer(reviewer); err != nil {
		return nil, err
	}
	if action != ActionApprove && action != ActionReject {
		return nil, apperrors.Validation("unknown action %q (want approve or reject)", action)
	}
	d := Decision{
		Action:   action,
		Reviewer: reviewer.UserID,
		At:       g.now(),
	}
	if action == ActionReject {
		d.Reason = strings.TrimSpace(reason)
		d.Redact = g.policy == RejectionRedact
	}
	a, err := g.store.Decide(ctx, approvalID, d)
	if err != nil {
		return nil, err
	}
	metrics.ApprovalDecisionTotal.WithLabelValues(string(action)).Inc()
	g.logger.Info("approval decided", "approval_id", a.ID, "job_id", a.JobID, "action", string(action),
		"reviewer", reviewer.UserID, "redacted", a.Redacted)
	return a, nil
}
