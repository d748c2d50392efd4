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
	"sync/atomic"
	"testing"
	"time"
)

func waitJob(t *testing.T, store JobStore, id string, cond func(*Job) bool) *Job {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		j, _ := store.Get(ctx, id)
		if j != nil && cond(j) {
			return j
		}
		time.Sleep(20 * time.Millisecond)
	}
	j, _ := store.Get(ctx, id)
	t.Fatalf("condition not met for job %s, last = %+v", id, j)
	return nil
}

func TestScheduler_RunsClaimedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewJobStoreMem()
	id, _ := store.Create(ctx, &Job{AgentName: "a1", Task: "g"})
	var runCount int32
	runJob := func(ctx context.Context, j *Job) error {
		atomic.AddInt32(&runCount, 1)
		if j.Status != StatusRunning {
			t.Errorf("claimed job should be running, got %s", j.Status)
		}
		_, _, err := store.Complete(ctx, j.ID, okResult(), nil)
		return err
	}
	sched := NewScheduler(store, runJob, SchedulerConfig{MaxConcurrency: 1, PollInterval: 20 * time.Millisecond}, nil, nil)
	sched.Start(ctx)
	defer sched.Stop()

	waitJob(t, store, id, func(j *Job) bool { return j.Status == StatusCompleted })
	if atomic.LoadInt32(&runCount) != 1 {
		t.Errorf("expected runCount 1, got %d", runCount)
	}
}

func TestScheduler_NoRetryOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewJobStoreMem()
	id, _ := store.Create(ctx, &Job{AgentName: "a1", Task: "g"})
	var runCount int32
	runJob := func(context.Context, *Job) error {
		atomic.AddInt32(&runCount, 1)
		return context.DeadlineExceeded
	}
	sched := NewScheduler(store, runJob, SchedulerConfig{PollInterval: 10 * time.Millisecond}, nil, nil)
	sched.Start(ctx)
	defer sched.Stop()

	time.Sleep(150 * time.Millisecond)
	if n := atomic.LoadInt32(&runCount); n != 1 {
		t.Errorf("expected exactly one attempt, got %d", n)
	}
	// 执行函数未落库时 Job 停留在 Running，由 Reclaimer 兜底
	j, _ := store.Get(ctx, id)
	if j.Status != StatusRunning {
		t.Errorf("expected running, got %s", j.Status)
	}
}

func TestScheduler_MaxConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewJobStoreMem()
	for i := 0; i < 6; i++ {
		_, _ = store.Create(ctx, &Job{AgentName: "a1", Task: "g"})
	}
	var current, peak, done int32
	runJob := func(ctx context.Context, j *Job) error {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		atomic.AddInt32(&done, 1)
		_, _, err := store.Complete(ctx, j.ID, okResult(), nil)
		return err
	}
	sched := NewScheduler(store, runJob, SchedulerConfig{MaxConcurrency: 2, PollInterval: 10 * time.Millisecond}, nil, nil)
	sched.Start(ctx)
	defer sched.Stop()

	for i := 0; i < 100 && atomic.LoadInt32(&done) < 6; i++ {
		time.Sleep(20 * time.Millisecond)
	}
	if atomic.LoadInt32(&done) != 6 {
		t.Fatalf("expected 6 jobs done, got %d", done)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("concurrency exceeded limit: peak %d", p)
	}
}

func TestScheduler_TimeoutCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewJobStoreMem()
	id, _ := store.Create(ctx, &Job{AgentName: "a1", Task: "g"})
	runJob := func(ctx context.Context, j *Job) error {
		<-ctx.Done()
		kind, msg := classify(ctx, ctx.Err())
		return store.Fail(context.WithoutCancel(ctx), j.ID, kind, msg)
	}
	sched := NewScheduler(store, runJob, SchedulerConfig{JobTimeout: 30 * time.Millisecond, PollInterval: 10 * time.Millisecond}, nil, nil)
	sched.Start(ctx)
	defer sched.Stop()

	j := waitJob(t, store, id, func(j *Job) bool { return j.Status == StatusFailed })
	if j.ErrorKind != ErrorKindTimeout {
		t.Errorf("expected timeout kind, got %q", j.ErrorKind)
	}
}

func TestScheduler_CancelInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewJobStoreMem()
	id, _ := store.Create(ctx, &Job{AgentName: "a1", Task: "g"})
	started := make(chan struct{})
	interrupted := make(chan struct{})
	runJob := func(ctx context.Context, j *Job) error {
		close(started)
		<-ctx.Done()
		close(interrupted)
		return nil
	}
	sched := NewScheduler(store, runJob, SchedulerConfig{PollInterval: 10 * time.Millisecond}, nil, nil)
	sched.Start(ctx)
	defer sched.Stop()

	<-started
	if sched.Running() != 1 {
		t.Errorf("expected 1 running, got %d", sched.Running())
	}
	if sched.Cancel("not-here") {
		t.Error("cancel of unknown job should report false")
	}
	if !sched.Cancel(id) {
		t.Fatal("cancel of in-flight job should report true")
	}
	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}

func TestScheduler_WakeupTriggersClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewJobStoreMem()
	wake := NewWakeupQueueMem(4)
	ran := make(chan string, 1)
	runJob := func(ctx context.Context, j *Job) error {
		ran <- j.ID
		_, _, err := store.Complete(ctx, j.ID, okResult(), nil)
		return err
	}
	// 轮询间隔很长，只有唤醒能让调度器及时认领
	sched := NewScheduler(store, runJob, SchedulerConfig{PollInterval: time.Minute}, wake, nil)
	sched.Start(ctx)
	defer sched.Stop()

	time.Sleep(30 * time.Millisecond)
	id, _ := store.Create(ctx, &Job{AgentName: "a1", Task: "g"})
	_ = wake.NotifyReady(ctx, id)
	select {
	case got := <-ran:
		if got != id {
			t.Errorf("ran %s, want %s", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wakeup did not trigger a claim")
	}
}

func TestScheduler_StopInterruptsRunning(t *testing.T) {
	store := NewJobStoreMem()
	ctx := context.Background()
	id, _ := store.Create(ctx, &Job{AgentName: "a1", Task: "g"})
	started := make(chan struct{})
	runJob := func(ctx context.Context, j *Job) error {
		close(started)
		<-ctx.Done()
		kind, msg := classify(ctx, ctx.Err())
		return store.Fail(context.WithoutCancel(ctx), j.ID, kind, msg)
	}
	sched := NewScheduler(store, runJob, SchedulerConfig{PollInterval: 10 * time.Millisecond}, nil, nil)
	sched.Start(ctx)
	<-started
	sched.Stop()
	sched.Stop()

	j, _ := store.Get(ctx, id)
	if j.Status != StatusFailed || j.ErrorKind != ErrorKindInterrupted {
		t.Errorf("expected failed/interrupted, got %s/%s", j.Status, j.ErrorKind)
	}
}
