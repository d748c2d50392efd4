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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"strategy-center/internal/agent"
)

func TestWakeupQueueMem_NotifyReceive(t *testing.T) {
	ctx := context.Background()
	q := NewWakeupQueueMem(1)
	if err := q.NotifyReady(ctx, "j1"); err != nil {
		t.Fatalf("NotifyReady: %v", err)
	}
	// 缓冲已满时丢弃，不阻塞
	if err := q.NotifyReady(ctx, "j2"); err != nil {
		t.Fatalf("NotifyReady full: %v", err)
	}
	if q.Dropped() != 1 || q.Len() != 1 {
		t.Errorf("dropped=%d len=%d, want 1/1", q.Dropped(), q.Len())
	}
	id, ok := q.Receive(ctx, 50*time.Millisecond)
	if !ok || id != "j1" {
		t.Fatalf("Receive = %q %v", id, ok)
	}
	if _, ok := q.Receive(ctx, 20*time.Millisecond); ok {
		t.Error("expected timeout on empty queue")
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, ok := q.Receive(cctx, time.Second); ok {
		t.Error("expected false on cancelled ctx")
	}
}

func TestScheduler_DroppedWakeupStillClaimedByPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewJobStoreMem()
	wake := NewWakeupQueueMem(1)
	reg, _ := agent.NewRegistry(echoAgent())
	runner := NewRunner(store, reg, wake, nil)
	for i := 0; i < 3; i++ {
		if _, err := runner.Submit(ctx, SubmitRequest{AgentName: "echo_agent", Task: "burst"}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if wake.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", wake.Dropped())
	}
	sched := NewScheduler(store, runner.Execute, SchedulerConfig{PollInterval: 20 * time.Millisecond}, wake, nil)
	sched.Start(ctx)
	defer sched.Stop()

	for i := 0; i < 100; i++ {
		if counts, _ := store.CountByStatus(ctx, ""); counts[StatusCompleted] == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("jobs with dropped wakeups were not claimed by polling")
}

func TestWakeupQueueRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis wakeup tests")
	}
	ctx := context.Background()
	q, err := NewWakeupQueueRedis(ctx, RedisWakeupConfig{Addr: addr, Key: "strategy-center:test:" + uuid.NewString()})
	if err != nil {
		t.Fatalf("NewWakeupQueueRedis: %v", err)
	}
	defer q.Close()
	defer q.client.Del(ctx, q.key)

	if err := q.NotifyReady(ctx, "j1"); err != nil {
		t.Fatalf("NotifyReady: %v", err)
	}
	if err := q.NotifyReady(ctx, "j2"); err != nil {
		t.Fatalf("NotifyReady: %v", err)
	}
	if id, ok := q.Receive(ctx, time.Second); !ok || id != "j1" {
		t.Errorf("first Receive = %q %v", id, ok)
	}
	if id, ok := q.Receive(ctx, time.Second); !ok || id != "j2" {
		t.Errorf("second Receive = %q %v", id, ok)
	}
	if _, ok := q.Receive(ctx, time.Second); ok {
		t.Error("expected timeout on empty list")
	}
}
