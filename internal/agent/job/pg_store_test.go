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
	"os"
	"testing"
	"time"

	"strategy-center/internal/storage/migrations"
	apperrors "strategy-center/pkg/errors"
)

func testJobStoreDSN(t *testing.T) string {
	dsn := os.Getenv("TEST_JOBSTORE_DSN")
	if dsn == "" {
		t.Skip("TEST_JOBSTORE_DSN not set, skipping Postgres JobStore tests")
	}
	return dsn
}

func newTestJobStorePg(t *testing.T, ctx context.Context) *JobStorePg {
	dsn := testJobStoreDSN(t)
	if _, err := migrations.Up(dsn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	store, err := NewJobStorePg(ctx, dsn)
	if err != nil {
		t.Fatalf("NewJobStorePg: %v", err)
	}
	_, _ = store.pool.Exec(ctx, `DELETE FROM approvals`)
	_, _ = store.pool.Exec(ctx, `DELETE FROM jobs`)
	t.Cleanup(store.Close)
	return store
}

func TestJobStorePg_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := newTestJobStorePg(t, ctx)

	id, err := store.Create(ctx, &Job{AgentName: "echo_agent", Task: "hello", CreatedBy: "u1",
		Parameters: map[string]interface{}{"tool_name": "Cursor"}, ApprovalStatus: ApprovalPending})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	j, err := store.Get(ctx, id)
	if err != nil || j == nil {
		t.Fatalf("Get: %v %v", j, err)
	}
	if j.Status != StatusPending || j.AgentName != "echo_agent" || j.Parameters["tool_name"] != "Cursor" {
		t.Errorf("unexpected job %+v", j)
	}
	missing, err := store.Get(ctx, "00000000-0000-0000-0000-000000000000")
	if err != nil || missing != nil {
		t.Errorf("missing job: %v %v", missing, err)
	}
}

func TestJobStorePg_ClaimPriority(t *testing.T) {
	ctx := context.Background()
	store := newTestJobStorePg(t, ctx)
	low, _ := store.Create(ctx, &Job{AgentName: "a", Task: "low", Priority: PriorityLow, ApprovalStatus: ApprovalPending})
	time.Sleep(5 * time.Millisecond)
	high, _ := store.Create(ctx, &Job{AgentName: "a", Task: "high", Priority: PriorityHigh, ApprovalStatus: ApprovalPending})

	first, err := store.ClaimNextPending(ctx)
	if err != nil || first == nil || first.ID != high {
		t.Fatalf("expected high first, got %+v %v", first, err)
	}
	if first.Status != StatusRunning || first.StartedAt == nil {
		t.Errorf("claimed job not running: %+v", first)
	}
	second, _ := store.ClaimNextPending(ctx)
	if second == nil || second.ID != low {
		t.Fatalf("expected low second, got %+v", second)
	}
	none, err := store.ClaimNextPending(ctx)
	if err != nil || none != nil {
		t.Errorf("expected no job, got %+v %v", none, err)
	}
}

func TestJobStorePg_CompleteAndDecide(t *testing.T) {
	ctx := context.Background()
	store := newTestJobStorePg(t, ctx)
	id, _ := store.Create(ctx, &Job{AgentName: "echo_agent", Task: "hello", CreatedBy: "u1", ApprovalStatus: ApprovalPending})
	_, _ = store.ClaimNextPending(ctx)

	j, ap, err := store.Complete(ctx, id, okResult(), &Approval{ContentType: "agent_output", Title: "echo_agent - hello", Content: "report body"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if j.Status != StatusCompleted || ap == nil || ap.JobID != id || ap.CreatedBy != "u1" {
		t.Fatalf("unexpected complete result %+v %+v", j, ap)
	}
	if _, _, err := store.Complete(ctx, id, okResult(), nil); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("second complete: %v", err)
	}

	byJob, _ := store.GetApprovalByJob(ctx, id)
	if byJob == nil || byJob.ID != ap.ID {
		t.Fatalf("GetApprovalByJob: %+v", byJob)
	}
	st := ApprovalPending
	list, _ := store.ListApprovals(ctx, ApprovalFilter{Status: &st})
	if len(list) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(list))
	}

	decided, err := store.Decide(ctx, ap.ID, Decision{Action: ActionReject, Reviewer: "mgr", Reason: "incomplete", Redact: true, At: time.Now()})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != ApprovalRejected || decided.Content != "" || !decided.Redacted {
		t.Errorf("unexpected decision %+v", decided)
	}
	job, _ := store.Get(ctx, id)
	if job.ApprovalStatus != ApprovalRejected || job.ApprovedBy != "mgr" || job.Result.Content != "" {
		t.Errorf("job not updated with decision: %+v", job)
	}
	if _, err := store.Decide(ctx, ap.ID, Decision{Action: ActionApprove, Reviewer: "mgr", At: time.Now()}); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("second decide: %v", err)
	}
	if _, err := store.Decide(ctx, "00000000-0000-0000-0000-000000000000", Decision{Action: ActionApprove, Reviewer: "mgr", At: time.Now()}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("decide missing: %v", err)
	}
}

func TestJobStorePg_FailCancelAndCounts(t *testing.T) {
	ctx := context.Background()
	store := newTestJobStorePg(t, ctx)
	failID, _ := store.Create(ctx, &Job{AgentName: "a", Task: "f", CreatedBy: "u1", ApprovalStatus: ApprovalPending})
	_, _ = store.ClaimNextPending(ctx)
	if err := store.Fail(ctx, failID, ErrorKindGeneration, "quota"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := store.Fail(ctx, failID, ErrorKindGeneration, "again"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("second fail: %v", err)
	}
	cancelID, _ := store.Create(ctx, &Job{AgentName: "a", Task: "c", CreatedBy: "u2", ApprovalStatus: ApprovalPending})
	c, err := store.Cancel(ctx, cancelID)
	if err != nil || c.Status != StatusCancelled {
		t.Fatalf("Cancel: %+v %v", c, err)
	}
	if _, err := store.Cancel(ctx, cancelID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("second cancel: %v", err)
	}

	counts, err := store.CountByStatus(ctx, "")
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusFailed] != 1 || counts[StatusCancelled] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	mine, _ := store.CountByStatus(ctx, "u1")
	if mine[StatusCancelled] != 0 {
		t.Errorf("owner filter ignored: %v", mine)
	}
}
