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
	"time"
)

// ObservabilityReader 供 dashboard 与 Reclaimer：状态计数、待审数量、卡住的 Running Job
type ObservabilityReader interface {
	// CountByStatus 按状态计数；createdBy 为空表示全部用户
	CountByStatus(ctx context.Context, createdBy string) (map[JobStatus]int, error)
	// CountApprovals 按审批状态计数；createdBy 为空表示全部用户
	CountApprovals(ctx context.Context, createdBy string) (map[ApprovalStatus]int, error)
	// ListStuckRunning 返回 status=Running 且 started_at 早于 startedBefore 的 Job
	ListStuckRunning(ctx context.Context, startedBefore time.Time) ([]*Job, error)
}

// Stats dashboard 汇总
type Stats struct {
	Jobs      map[string]int `json:"jobs"`
	Approvals map[string]int `json:"approvals"`
	TotalJobs int            `json:"total_jobs"`
	Agents    int            `json:"agents"`
	Running   int            `json:"running_in_process"`
}

// CollectStats 汇总状态计数；createdBy 为空时统计全部
func CollectStats(ctx context.Context, r ObservabilityReader, createdBy string) (*Stats, error) {
	byStatus, err := r.CountByStatus(ctx, createdBy)
	if err != nil {
		return nil, err
	}
	byApproval, err := r.CountApprovals(ctx, createdBy)
	if err != nil {
		return nil, err
	}
	st := &Stats{Jobs: make(map[string]int), Approvals: make(map[string]int)}
	for _, s := range []JobStatus{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled} {
		st.Jobs[s.String()] = byStatus[s]
		st.TotalJobs += byStatus[s]
	}
	for _, s := range []ApprovalStatus{ApprovalPending, ApprovalApproved, ApprovalRejected} {
		st.Approvals[string(s)] = byApproval[s]
	}
	return st, nil
}
