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


package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	envAPIURL   = "SC_API_URL"
	envAPIToken = "SC_API_TOKEN"
	envUserID   = "SC_USER_ID"
	envUserRole = "SC_USER_ROLE"
)

func apiBaseURL() string {
	if u := os.Getenv(envAPIURL); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// apiClient strategy-center HTTP API 客户端
type apiClient struct {
	http *resty.Client
}

// newAPIClient token 非空时走 Bearer 认证；否则在开发模式下用 X-User-ID / X-User-Role 标识身份
func newAPIClient(baseURL, token string) *apiClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	} else {
		if id := os.Getenv(envUserID); id != "" {
			c.SetHeader("X-User-ID", id)
		}
		if role := os.Getenv(envUserRole); role != "" {
			c.SetHeader("X-User-Role", role)
		}
	}
	return &apiClient{http: c}
}

// apiError 服务端返回的 {"error","kind"}
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (c *apiClient) do(method, path string, body, out interface{}, query map[string]string) error {
	var failure struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	req := c.http.R().SetError(&failure)
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := failure.Error
		if msg == "" {
			msg = resp.String()
		}
		return &apiError{Status: resp.StatusCode(), Kind: failure.Kind, Message: msg}
	}
	return nil
}

type agentInfo struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Params      []struct {
		Name     string `json:"name"`
		Required bool   `json:"required"`
	} `json:"params"`
}

type jobView struct {
	ID             string                 `json:"id"`
	AgentName      string                 `json:"agent_name"`
	Task           string                 `json:"task"`
	Status         string                 `json:"status"`
	PriorityName   string                 `json:"priority_name"`
	CreatedBy      string                 `json:"created_by"`
	CreatedAt      time.Time              `json:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at"`
	ErrorKind      string                 `json:"error_kind"`
	ErrorMessage   string                 `json:"error_message"`
	ApprovalStatus string                 `json:"approval_status"`
	ApprovedBy     string                 `json:"approved_by"`
	Result         map[string]interface{} `json:"result"`
}

type executeResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	AgentName      string `json:"agent_name"`
	Priority       string `json:"priority"`
	ApprovalStatus string `json:"approval_status"`
}

type approvalView struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	AgentName       string    `json:"agent_name"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Status          string    `json:"status"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	ApprovedBy      string    `json:"approved_by"`
	RejectionReason string    `json:"rejection_reason"`
	Redacted        bool      `json:"redacted"`
}

type executeRequest struct {
	Task             string                 `json:"task"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	Priority         string                 `json:"priority,omitempty"`
	RequiresApproval *bool                  `json:"requires_approval,omitempty"`
}

func (c *apiClient) health() (map[string]interface{}, error) {
	var out map[string]interface{}
	return out, c.do(http.MethodGet, "/api/health", nil, &out, nil)
}

func (c *apiClient) agents() ([]agentInfo, error) {
	var out struct {
		Agents []agentInfo `json:"agents"`
	}
	return out.Agents, c.do(http.MethodGet, "/api/agents", nil, &out, nil)
}

func (c *apiClient) execute(agentName string, req executeRequest) (*executeResponse, error) {
	var out executeResponse
	if err := c.do(http.MethodPost, "/api/agents/"+agentName+"/execute", req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// jobFilter GET /api/jobs 的查询参数
type jobFilter struct {
	Status string
	Agent  string
	Owner  string
	Limit  int
	Offset int
}

func (f jobFilter) query() map[string]string {
	q := map[string]string{}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Agent != "" {
		q["agent"] = f.Agent
	}
	if f.Owner != "" {
		q["owner"] = f.Owner
	}
	if f.Limit > 0 {
		q["limit"] = strconv.Itoa(f.Limit)
	}
	if f.Offset > 0 {
		q["offset"] = strconv.Itoa(f.Offset)
	}
	return q
}

func (c *apiClient) jobs(f jobFilter) ([]jobView, error) {
	q := f.query()
	var out struct {
		Jobs []jobView `json:"jobs"`
	}
	return out.Jobs, c.do(http.MethodGet, "/api/jobs", nil, &out, q)
}

func (c *apiClient) job(id string) (*jobView, error) {
	var out jobView
	if err := c.do(http.MethodGet, "/api/jobs/"+id, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) cancel(id string) (*jobView, error) {
	var out jobView
	if err := c.do(http.MethodPost, "/api/jobs/"+id+"/cancel", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) approvals(status string) ([]approvalView, error) {
	q := map[string]string{}
	if status != "" {
		q["status"] = status
	}
	var out struct {
		Approvals []approvalView `json:"approvals"`
	}
	return out.Approvals, c.do(http.MethodGet, "/api/approvals", nil, &out, q)
}

func (c *apiClient) approval(id string) (*approvalView, error) {
	var out approvalView
	if err := c.do(http.MethodGet, "/api/approvals/"+id, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) review(id, action, reason string) (*approvalView, error) {
	var out approvalView
	body := map[string]string{"action": action, "reason": reason}
	if err := c.do(http.MethodPost, "/api/approvals/"+id+"/review", body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) login(email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(http.MethodPost, "/api/auth/login", body, &out, nil); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *apiClient) stats() (map[string]interface{}, error) {
	var out map[string]interface{}
	return out, c.do(http.MethodGet, "/api/stats/dashboard", nil, &out, nil)
}
