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
	"sync"
	"time"

	"strategy-center/pkg/log"
	"strategy-center/pkg/metrics"
)

// RunJobFunc 执行单条已认领 Job 的回调（由应用层注入，如 Runner.Execute）
type RunJobFunc func(ctx context.Context, j *Job) error

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	MaxConcurrency int           // 最大同时 Running 数，<=0 表示 1
	JobTimeout     time.Duration // 单次执行超时，<=0 表示不限
	PollInterval   time.Duration // 无唤醒时的轮询间隔，<=0 表示 2s
}

// Scheduler 在 JobStore 之上提供认领、并发上限、超时与进程内取消；不做自动重试
type Scheduler struct {
	store   JobStore
	runJob  RunJobFunc
	config  SchedulerConfig
	wakeup  WakeupQueue
	logger  *log.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup // 调度循环
	jobs    sync.WaitGroup // 执行中的 Job
	limiter chan struct{}  // 信号量，限制并发

	// runCtx 为所有执行的父 context，Stop 时取消
	runCtx    context.Context
	runCancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	stopOnce sync.Once
}

// NewScheduler 创建调度器；wakeup 可为 nil
func NewScheduler(store JobStore, runJob RunJobFunc, config SchedulerConfig, wakeup WakeupQueue, logger *log.Logger) *Scheduler {
	max := config.MaxConcurrency
	if max <= 0 {
		max = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     store,
		runJob:    runJob,
		config:    config,
		wakeup:    wakeup,
		logger:    logger,
		stopCh:    make(chan struct{}),
		limiter:   make(chan struct{}, max),
		runCtx:    runCtx,
		runCancel: runCancel,
		inFlight:  make(map[string]context.CancelFunc),
	}
}

// Start 启动调度循环：占用一个槽位后认领 Pending；无任务时释放槽位并等待唤醒或轮询间隔
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case s.limiter <- struct{}{}:
				j, err := s.store.ClaimNextPending(ctx)
				if err != nil {
					s.logger.Warn("claim pending job failed", "error", err)
				}
				if j == nil {
					metrics.SchedulerClaimTotal.WithLabelValues("false").Inc()
					<-s.limiter
					s.idle(ctx)
					continue
				}
				metrics.SchedulerClaimTotal.WithLabelValues("true").Inc()
				s.launch(j)
			}
		}
	}()
}

// idle 等待唤醒通知或轮询间隔
func (s *Scheduler) idle(ctx context.Context) {
	if s.wakeup != nil {
		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-waitCtx.Done():
			}
		}()
		_, _ = s.wakeup.Receive(waitCtx, s.config.PollInterval)
		cancel()
		return
	}
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stopCh:
	case <-ctx.Done():
	}
}

func (s *Scheduler) launch(j *Job) {
	jobCtx, cancel := context.WithCancel(s.runCtx)
	if s.config.JobTimeout > 0 {
		var cancelTimeout context.CancelFunc
		jobCtx, cancelTimeout = context.WithTimeout(jobCtx, s.config.JobTimeout)
		inner := cancel
		cancel = func() { cancelTimeout(); inner() }
	}
	s.mu.Lock()
	s.inFlight[j.ID] = cancel
	s.mu.Unlock()
	metrics.JobsRunning.Inc()
	s.jobs.Add(1)
	go func(job *Job) {
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, job.ID)
			s.mu.Unlock()
			cancel()
			metrics.JobsRunning.Dec()
			<-s.limiter
			s.jobs.Done()
		}()
		if err := s.runJob(jobCtx, job); err != nil {
			s.logger.Error("run job failed", "job_id", job.ID, "error", err)
		}
	}(j)
}

// Cancel 取消本进程内正在执行的 Job；不在本进程执行时返回 false
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.inFlight[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running 本进程内正在执行的 Job 数
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Stop 停止认领新 Job，中断执行中的 Job 并等待其落库（被中断的 Job 标记为 FAILED/interrupted）
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.runCancel()
		s.jobs.Wait()
	})
}
