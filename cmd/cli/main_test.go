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
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--api-url", srv.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestExecute_SendsRequest(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents/deep_evaluation/execute", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": "job-1", "status": "pending", "agent_name": "deep_evaluation", "priority": "high",
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "execute", "deep_evaluation", "evaluate it",
		"--params", `{"tool_name":"Cursor","depth":2}`, "-p", "tool_name=Copilot",
		"--priority", "high", "--no-approval")
	require.NoError(t, err)
	assert.Contains(t, out, "job job-1 submitted")
	assert.Equal(t, "evaluate it", got["task"])
	assert.Equal(t, "high", got["priority"])
	assert.Equal(t, false, got["requires_approval"])
	params := got["parameters"].(map[string]interface{})
	assert.Equal(t, "Copilot", params["tool_name"])
	assert.Equal(t, float64(2), params["depth"])
}

func TestExecute_WaitPollsUntilTerminal(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": "job-2", "status": "pending"})
		case r.URL.Path == "/api/jobs/job-2":
			status := "running"
			if atomic.AddInt32(&polls, 1) >= 3 {
				status = "completed"
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"id": "job-2", "agent_name": "tool_discovery", "status": status,
				"result": map[string]interface{}{"content": "# Report body"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	j, err := waitForJob(newAPIClient(srv.URL, ""), "job-2", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "completed", j.Status)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))

	var buf bytes.Buffer
	printJob(&buf, j)
	assert.Contains(t, buf.String(), "# Report body")
}

func TestWaitForJob_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "job-3", "status": "pending"})
	}))
	defer srv.Close()
	_, err := waitForJob(newAPIClient(srv.URL, ""), "job-3", 5*time.Millisecond, 20*time.Millisecond)
	assert.ErrorContains(t, err, "still pending")
}

func TestJobs_Table(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		assert.Equal(t, "u-2", r.URL.Query().Get("owner"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobs": []map[string]interface{}{
				{"id": "job-a", "agent_name": "risk_assessment", "status": "failed", "priority_name": "medium",
					"created_at": time.Now().UTC().Format(time.RFC3339)},
			},
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "jobs", "--status", "failed", "--limit", "5", "--offset", "10", "--owner", "u-2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "AGENT")
	assert.Contains(t, lines[1], "risk_assessment")
	assert.Contains(t, lines[1], "failed")
}

func TestAPIErrorIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "approval already decided", "kind": "invalid_state"})
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "review", "ap-1", "--action", "approve")
	require.Error(t, err)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "invalid_state", apiErr.Kind)
}

func TestReview_RequiresAction(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "review", "ap-1", "--action", "maybe")
	assert.ErrorContains(t, err, "approve or reject")
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestDevHeadersWithoutToken(t *testing.T) {
	t.Setenv(envUserID, "mgr-9")
	t.Setenv(envUserRole, "manager")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "mgr-9", r.Header.Get("X-User-ID"))
		assert.Equal(t, "manager", r.Header.Get("X-User-Role"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": []interface{}{}})
	}))
	defer srv.Close()

	list, err := newAPIClient(srv.URL, "").approvals("all")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestVersion(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	out, err := runCLI(t, srv, "version")
	require.NoError(t, err)
	assert.Equal(t, "strategy-center cli "+version+"\n", out)
}

func TestMergeParams(t *testing.T) {
	p, err := mergeParams("", nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = mergeParams("[1,2]", nil)
	assert.Error(t, err)

	p, err = mergeParams(`{"a":1}`, map[string]string{"b": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": "x"}, p)
}
