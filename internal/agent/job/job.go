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

// Package job 报告 Job 生命周期与审批流：JobStore、Runner、Scheduler、ApprovalGate、Reclaimer
package job

import (
	"fmt"
	"time"

	"strategy-center/internal/agent"
)

// JobStatus Job 执行状态；只允许前向迁移
type JobStatus int

const (
	StatusPending JobStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal COMPLETED / FAILED / CANCELLED 为终态
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MarshalText JSON 中以小写名称输出
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (s *JobStatus) UnmarshalText(b []byte) error {
	v, ok := ParseJobStatus(string(b))
	if !ok {
		return fmt.Errorf("unknown job status %q", string(b))
	}
	*s = v
	return nil
}

// ParseJobStatus 解析状态名
func ParseJobStatus(s string) (JobStatus, bool) {
	switch s {
	case "pending":
		return StatusPending, true
	case "running":
		return StatusRunning, true
	case "completed":
		return StatusCompleted, true
	case "failed":
		return StatusFailed, true
	case "cancelled":
		return StatusCancelled, true
	default:
		return 0, false
	}
}

// ApprovalStatus 审批状态，Job 与 Approval 共用
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Valid 是否为已知审批状态
func (s ApprovalStatus) Valid() bool {
	return s == ApprovalPending || s == ApprovalApproved || s == ApprovalRejected
}

// Action 审批动作
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// 失败类型，写入 Job.ErrorKind
const (
	ErrorKindGeneration   = "generation"
	ErrorKindTimeout      = "timeout"
	ErrorKindUnknownAgent = "unknown_agent"
	ErrorKindOrphaned     = "orphaned"
	ErrorKindInternal     = "internal"
)

// Job 一次报告生成请求
type Job struct {
	ID         string                 `json:"id"`
	AgentName  string                 `json:"agent_name"`
	Task       string                 `json:"task"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Priority   int                    `json:"priority"`
	Status     JobStatus              `json:"status"`
	CreatedBy  string                 `json:"created_by"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	// StartedAt / CompletedAt 在对应迁移发生前为 nil
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result 仅 COMPLETED 时非空
	Result *agent.Result `json:"result,omitempty"`
	// ErrorMessage / ErrorKind 仅 FAILED 时非空
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	ApprovedBy     string         `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
}

// Clone 深拷贝，store 只对外返回副本
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Parameters != nil {
		cp.Parameters = make(map[string]interface{}, len(j.Parameters))
		for k, v := range j.Parameters {
			cp.Parameters[k] = v
		}
	}
	if j.Result != nil {
		r := *j.Result
		if j.Result.Metadata != nil {
			r.Metadata = make(map[string]interface{}, len(j.Result.Metadata))
			for k, v := range j.Result.Metadata {
				r.Metadata[k] = v
			}
		}
		cp.Result = &r
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.ApprovedAt = cloneTime(j.ApprovedAt)
	return &cp
}

// Approval Job 产出的人工审批记录；Content 为创建时的快照
type Approval struct {
	ID              string         `json:"id"`
	JobID           string         `json:"job_id"`
	AgentName       string         `json:"agent_name"`
	ContentType     string         `json:"content_type"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	Status          ApprovalStatus `json:"status"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	// Redacted 拒绝时按 redact 策略清空了内容
	Redacted bool `json:"redacted,omitempty"`
}

// Clone 拷贝
func (a *Approval) Clone() *Approval {
	if a == nil {
		return nil
	}
	cp := *a
	cp.ApprovedAt = cloneTime(a.ApprovedAt)
	return &cp
}

// Decision 一次审批决定，由 ApprovalGate 组装后交给 store 原子落库
type Decision struct {
	Action   Action
	Reviewer string
	Reason   string
	// Redact 拒绝时是否清空 Approval 快照与 Job 结果正文
	Redact bool
	At     time.Time
}

// JobFilter 列表过滤；零值表示不过滤
type JobFilter struct {
	Status    *JobStatus
	CreatedBy string
	AgentName string
	Limit     int
	Offset    int
}

// ApprovalFilter 审批列表过滤
type ApprovalFilter struct {
	Status    *ApprovalStatus
	CreatedBy string
	Limit     int
	Offset    int
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// paginate 对已排序切片应用 offset/limit；limit<=0 表示不限
func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
