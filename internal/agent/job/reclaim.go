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
	"sync"
	"time"

	apperrors "strategy-center/pkg/errors"
	"strategy-center/pkg/log"
	"strategy-center/pkg/metrics"
)

// OrphanMessage 孤儿 Job 的错误信息
const OrphanMessage = "worker lost; resubmit to retry"

// 未配置时的执行超时与孤儿宽限，与 pkg/config 的默认值一致
const (
	DefaultJobTimeout  = 300 * time.Second
	DefaultOrphanGrace = 60 * time.Second
)

// ReclaimConfig 孤儿回收配置
type ReclaimConfig struct {
	JobTimeout  time.Duration // 与 Scheduler 一致；<=0 表示执行不限时，此时不回收
	OrphanGrace time.Duration // 超过 JobTimeout 后再等待的宽限，<=0 表示 60s
	Interval    time.Duration // 周期，<=0 表示 1m
}

// Reclaimer 将 started_at 早于 now-(JobTimeout+OrphanGrace) 仍为 Running 的 Job 置为 FAILED/orphaned；不重新入队
type Reclaimer struct {
	store  JobStore
	config ReclaimConfig
	logger *log.Logger
	now    func() time.Time

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReclaimer 创建 Reclaimer
func NewReclaimer(store JobStore, config ReclaimConfig, logger *log.Logger) *Reclaimer {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.OrphanGrace <= 0 {
		config.OrphanGrace = DefaultOrphanGrace
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Reclaimer{store: store, config: config, logger: logger, now: time.Now, stopCh: make(chan struct{})}
}

// Enabled JobTimeout 未设置时无法区分长任务与孤儿，不做回收
func (r *Reclaimer) Enabled() bool { return r.config.JobTimeout > 0 }

// ReclaimOnce 执行一次回收，返回被标记的 Job 数
func (r *Reclaimer) ReclaimOnce(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}
	cutoff := r.now().Add(-(r.config.JobTimeout + r.config.OrphanGrace))
	stuck, err := r.store.ListStuckRunning(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	var reclaimed int
	for _, j := range stuck {
		if err := r.store.Fail(ctx, j.ID, ErrorKindOrphaned, OrphanMessage); err != nil {
			// 期间已完成或被取消
			if errors.Is(err, apperrors.ErrInvalidState) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
		metrics.OrphanReclaimedTotal.Inc()
		metrics.JobFinishedTotal.WithLabelValues(j.AgentName, StatusFailed.String()).Inc()
		r.logger.Warn("orphaned job marked failed", "job_id", j.ID, "agent", j.AgentName, "started_at", j.StartedAt)
	}
	return reclaimed, nil
}

// Start 立即执行一次，然后按 Interval 周期执行
func (r *Reclaimer) Start(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Warn("job timeout unbounded, orphan reclaim disabled")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		for {
			if n, err := r.ReclaimOnce(ctx); err != nil {
				r.logger.Warn("reclaim orphaned jobs failed", "error", err)
			} else if n > 0 {
				r.logger.Info("reclaimed orphaned jobs", "count", n)
			}
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop 停止周期回收
func (r *Reclaimer) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}
