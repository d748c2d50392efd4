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
	"sync"
	"time"

	"github.com/google/uuid"

	"strategy-center/internal/agent"
	apperrors "strategy-center/pkg/errors"
)

// JobStore Job 与 Approval 的唯一持有者；每个状态迁移都是对当前状态的原子 compare-and-set
type JobStore interface {
	ObservabilityReader

	// Create 写入新 Job（Pending），生成 ID 与 CreatedAt
	Create(ctx context.Context, job *Job) (string, error)
	// Get 不存在返回 nil, nil
	Get(ctx context.Context, jobID string) (*Job, error)
	// List 按 CreatedAt 倒序
	List(ctx context.Context, filter JobFilter) ([]*Job, error)
	// ClaimNextPending 原子取出优先级最高、最早创建的 Pending 并置为 Running（写 StartedAt），无则返回 nil, nil
	ClaimNextPending(ctx context.Context) (*Job, error)
	// Complete Running→Completed，同一原子单元内写 Result；approval 非 nil 且 Job 待审时创建唯一的 Approval。
	// 当前状态不是 Running 时返回 ErrInvalidState，结果被丢弃
	Complete(ctx context.Context, jobID string, result *agent.Result, approval *Approval) (*Job, *Approval, error)
	// Fail Running→Failed；当前状态不是 Running 时返回 ErrInvalidState
	Fail(ctx context.Context, jobID, kind, message string) error
	// Cancel Pending/Running→Cancelled；终态返回 ErrInvalidState
	Cancel(ctx context.Context, jobID string) (*Job, error)

	// GetApproval 不存在返回 nil, nil
	GetApproval(ctx context.Context, approvalID string) (*Approval, error)
	// GetApprovalByJob 不存在返回 nil, nil
	GetApprovalByJob(ctx context.Context, jobID string) (*Approval, error)
	// ListApprovals 按 CreatedAt 倒序
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error)
	// Decide 原子地迁移 Approval 并同步关联 Job 的审批字段；非 Pending 返回 ErrInvalidState
	Decide(ctx context.Context, approvalID string, d Decision) (*Approval, error)
}

// JobStoreMem 内存实现：map + 插入顺序 + Pending 队列，单把互斥锁保证迁移原子
type JobStoreMem struct {
	mu        sync.Mutex
	byID      map[string]*Job
	order     []string // 按创建顺序
	pending   []string
	approvals map[string]*Approval
	byJob     map[string]string // jobID -> approvalID
	apOrder   []string
	now       func() time.Time
}

// NewJobStoreMem 创建内存 JobStore
func NewJobStoreMem() *JobStoreMem {
	return &JobStoreMem{
		byID:      make(map[string]*Job),
		approvals: make(map[string]*Approval),
		byJob:     make(map[string]string),
		now:       time.Now,
	}
}

func (s *JobStoreMem) Create(ctx context.Context, job *Job) (string, error) {
	if job == nil {
		return "", apperrors.Validation("job is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if _, dup := s.byID[job.ID]; dup {
		return "", apperrors.InvalidState("job %s already exists", job.ID)
	}
	if job.ApprovalStatus == "" {
		job.ApprovalStatus = ApprovalPending
	}
	job.Status = StatusPending
	job.CreatedAt = s.now()
	job.UpdatedAt = job.CreatedAt
	s.byID[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	s.pending = append(s.pending, job.ID)
	return job.ID, nil
}

func (s *JobStoreMem) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[jobID]
	if !ok {
		return nil, nil
	}
	return j.Clone(), nil
}

func (s *JobStoreMem) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Job
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.byID[s.order[i]]
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		if filter.CreatedBy != "" && j.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.AgentName != "" && j.AgentName != filter.AgentName {
			continue
		}
		list = append(list, j)
	}
	list = paginate(list, filter.Limit, filter.Offset)
	out := make([]*Job, 0, len(list))
	for _, j := range list {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *JobStoreMem) ClaimNextPending(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := -1
	kept := s.pending[:0]
	for _, id := range s.pending {
		j, ok := s.byID[id]
		if !ok || j.Status != StatusPending {
			continue
		}
		kept = append(kept, id)
		// pending 保持创建顺序，严格大于保证同优先级先进先出
		if best < 0 || j.Priority > s.byID[kept[best]].Priority {
			best = len(kept) - 1
		}
	}
	s.pending = kept
	if best < 0 {
		return nil, nil
	}
	id := s.pending[best]
	s.pending = append(s.pending[:best], s.pending[best+1:]...)
	j := s.byID[id]
	now := s.now()
	j.Status = StatusRunning
	j.StartedAt = timePtr(now)
	j.UpdatedAt = now
	return j.Clone(), nil
}

func (s *JobStoreMem) Complete(ctx context.Context, jobID string, result *agent.Result, approval *Approval) (*Job, *Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[jobID]
	if !ok {
		return nil, nil, apperrors.NotFound("job", jobID)
	}
	if j.Status != StatusRunning {
		return nil, nil, apperrors.InvalidState("job %s is %s, cannot complete", jobID, j.Status)
	}
	now := s.now()
	if result != nil {
		r := *result
		j.Result = &r
	}
	j.Status = StatusCompleted
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now

	var created *Approval
	if approval != nil && j.ApprovalStatus == ApprovalPending {
		if _, exists := s.byJob[jobID]; !exists {
			ap := approval.Clone()
			if ap.ID == "" {
				ap.ID = uuid.New().String()
			}
			ap.JobID = jobID
			ap.AgentName = j.AgentName
			ap.CreatedBy = j.CreatedBy
			ap.Status = ApprovalPending
			ap.CreatedAt = now
			s.approvals[ap.ID] = ap
			s.byJob[jobID] = ap.ID
			s.apOrder = append(s.apOrder, ap.ID)
			created = ap.Clone()
		}
	}
	return j.Clone(), created, nil
}

func (s *JobStoreMem) Fail(ctx context.Context, jobID, kind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[jobID]
	if !ok {
		return apperrors.NotFound("job", jobID)
	}
	if j.Status != StatusRunning {
		return apperrors.InvalidState("job %s is %s, cannot fail", jobID, j.Status)
	}
	now := s.now()
	j.Status = StatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now
	return nil
}

func (s *JobStoreMem) Cancel(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[jobID]
	if !ok {
		return nil, apperrors.NotFound("job", jobID)
	}
	if j.Status.IsTerminal() {
		return nil, apperrors.InvalidState("job %s is already %s", jobID, j.Status)
	}
	now := s.now()
	j.Status = StatusCancelled
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now
	return j.Clone(), nil
}

func (s *JobStoreMem) GetApproval(ctx context.Context, approvalID string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (s *JobStoreMem) GetApprovalByJob(ctx context.Context, jobID string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byJob[jobID]
	if !ok {
		return nil, nil
	}
	return s.approvals[id].Clone(), nil
}

func (s *JobStoreMem) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Approval
	for i := len(s.apOrder) - 1; i >= 0; i-- {
		a := s.approvals[s.apOrder[i]]
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.CreatedBy != "" && a.CreatedBy != filter.CreatedBy {
			continue
		}
		list = append(list, a)
	}
	list = paginate(list, filter.Limit, filter.Offset)
	out := make([]*Approval, 0, len(list))
	for _, a := range list {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *JobStoreMem) Decide(ctx context.Context, approvalID string, d Decision) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return nil, apperrors.NotFound("approval", approvalID)
	}
	if a.Status != ApprovalPending {
		return nil, apperrors.InvalidState("approval %s already %s", approvalID, a.Status)
	}
	status, err := decisionStatus(d.Action)
	if err != nil {
		return nil, err
	}
	at := d.At
	if at.IsZero() {
		at = s.now()
	}
	a.Status = status
	a.ApprovedBy = d.Reviewer
	a.ApprovedAt = timePtr(at)
	if status == ApprovalRejected {
		a.RejectionReason = d.Reason
		if d.Redact {
			a.Content = ""
			a.Redacted = true
		}
	}
	if j, ok := s.byID[a.JobID]; ok {
		j.ApprovalStatus = status
		j.ApprovedBy = d.Reviewer
		j.ApprovedAt = timePtr(at)
		j.UpdatedAt = at
		if status == ApprovalRejected && d.Redact && j.Result != nil {
			j.Result = redactResult(j.Result)
		}
	}
	return a.Clone(), nil
}

func (s *JobStoreMem) CountByStatus(ctx context.Context, createdBy string) (map[JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[JobStatus]int)
	for _, j := range s.byID {
		if createdBy != "" && j.CreatedBy != createdBy {
			continue
		}
		out[j.Status]++
	}
	return out, nil
}

func (s *JobStoreMem) CountApprovals(ctx context.Context, createdBy string) (map[ApprovalStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ApprovalStatus]int)
	for _, a := range s.approvals {
		if createdBy != "" && a.CreatedBy != createdBy {
			continue
		}
		out[a.Status]++
	}
	return out, nil
}

func (s *JobStoreMem) ListStuckRunning(ctx context.Context, startedBefore time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, id := range s.order {
		j := s.byID[id]
		if j.Status == StatusRunning && j.StartedAt != nil && j.StartedAt.Before(startedBefore) {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func decisionStatus(a Action) (ApprovalStatus, error) {
	switch a {
	case ActionApprove:
		return ApprovalApproved, nil
	case ActionReject:
		return ApprovalRejected, nil
	default:
		return "", apperrors.Validation("unknown action %q (want approve or reject)", a)
	}
}

// redactResult 清空正文，保留元数据并标记 redacted
func redactResult(r *agent.Result) *agent.Result {
	cp := *r
	cp.Content = ""
	meta := make(map[string]interface{}, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta["redacted"] = true
	cp.Metadata = meta
	return &cp
}
