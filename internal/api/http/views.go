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
	"time"

	"strategy-center/internal/agent/job"
	"strategy-center/pkg/auth"
)

// DefaultPreviewChars 审批列表中内容预览的字符数
const DefaultPreviewChars = 500

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type executeRequest struct {
	Task       string                 `json:"task"`
	Parameters map[string]interface{} `json:"parameters"`
	Priority   string                 `json:"priority"`
	// RequiresApproval 缺省为 true
	RequiresApproval *bool `json:"requires_approval"`
}

type executeResponse struct {
	JobID          string             `json:"job_id"`
	Status         job.JobStatus      `json:"status"`
	AgentName      string             `json:"agent_name"`
	Priority       string             `json:"priority"`
	ApprovalStatus job.ApprovalStatus `json:"approval_status"`
	CreatedAt      time.Time          `json:"created_at"`
}

type reviewRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type jobView struct {
	*job.Job
	PriorityName string `json:"priority_name"`
}

func newJobView(j *job.Job) jobView {
	return jobView{Job: j, PriorityName: job.PriorityName(j.Priority)}
}

type userView struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      auth.Role  `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func newUserView(u *auth.User) userView {
	v := userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
	if !u.LastLogin.IsZero() {
		t := u.LastLogin
		v.LastLogin = &t
	}
	return v
}

type dashboardView struct {
	*job.Stats
	PendingApprovals int     `json:"pending_approvals"`
	SuccessRate      float64 `json:"success_rate"`
	Scope            string  `json:"scope"`
}

// successRate completed / (completed + failed)，百分比保留一位小数；无终态样本时为 0
func successRate(st *job.Stats) float64 {
	done := st.Jobs[job.StatusCompleted.String()]
	finished := done + st.Jobs[job.StatusFailed.String()]
	if finished == 0 {
		return 0
	}
	return float64(int(float64(done)*1000/float64(finished)+0.5)) / 10
}

// preview 截断为 n 个字符并追加 "..."
func preview(content string, n int) string {
	r := []rune(content)
	if n <= 0 || len(r) <= n {
		return content
	}
	return string(r[:n]) + "..."
}

func previewApproval(a *job.Approval, n int) *job.Approval {
	cp := a.Clone()
	cp.Content = preview(cp.Content, n)
	return cp
}
