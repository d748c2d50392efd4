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
	"time"

	"strategy-center/pkg/log"
	"strategy-center/pkg/metrics"
)

// WakeupQueue 提交后通知调度器立即认领；Scheduler 空闲时用 Receive 代替固定间隔轮询
type WakeupQueue interface {
	// NotifyReady 通知有新的 Pending Job；不得阻塞提交路径
	NotifyReady(ctx context.Context, jobID string) error
	// Receive 最多阻塞 timeout；收到通知返回 (jobID, true)，超时或 ctx 结束返回 ("", false)
	Receive(ctx context.Context, timeout time.Duration) (jobID string, ok bool)
}

// WakeupQueueMem 带缓冲 channel；memory 存储下 API 内调度器使用
type WakeupQueueMem struct {
	ch      chan string
	dropped atomic.Int64
	logger  *log.Logger
}

// NewWakeupQueueMem bufSize<=0 时为 256
func NewWakeupQueueMem(bufSize int) *WakeupQueueMem {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &WakeupQueueMem{ch: make(chan string, bufSize), logger: log.NewNop()}
}

// WithLogger 设置丢弃通知时使用的 logger
func (q *WakeupQueueMem) WithLogger(logger *log.Logger) *WakeupQueueMem {
	if logger != nil {
		q.logger = logger
	}
	return q
}

// NotifyReady 实现 WakeupQueue；提交突发超过缓冲时丢弃通知，Job 仍为 Pending，由下一次轮询认领
func (q *WakeupQueueMem) NotifyReady(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		n := q.dropped.Add(1)
		metrics.WakeupDroppedTotal.Inc()
		q.logger.Debug("wakeup buffer full, job left for polling", "job_id", jobID, "dropped", n)
		return nil
	}
}

// Dropped 已丢弃的通知数
func (q *WakeupQueueMem) Dropped() int64 { return q.dropped.Load() }

// Len 缓冲中待消费的通知数
func (q *WakeupQueueMem) Len() int { return len(q.ch) }

// Receive 实现 WakeupQueue
func (q *WakeupQueueMem) Receive(ctx context.Context, timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}
