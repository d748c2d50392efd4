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


package app

import (
	"context"
	"fmt"
	"time"

	"strategy-center/internal/agent"
	"strategy-center/internal/agent/job"
	"strategy-center/internal/model/llm"
	"strategy-center/internal/storage/migrations"
	"strategy-center/pkg/auth"
	"strategy-center/pkg/config"
	"strategy-center/pkg/log"
	"strategy-center/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内装配存储与 Agent
type Bootstrap struct {
	Config   *config.Config
	Logger   *log.Logger
	Secrets  secrets.Store
	JobStore job.JobStore
	Users    auth.UserStore
	Wakeup   job.WakeupQueue
	LLM      llm.Client
	Registry *agent.Registry
	Runner   *job.Runner
	Gate     *job.ApprovalGate

	pgStore     *job.JobStorePg
	redisWakeup *job.WakeupQueueRedis
}

// NewBootstrap 根据配置创建 Bootstrap（Logger/Secrets/Store/Wakeup/LLM/Registry/Runner/Gate）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}

	b.Secrets, err = secrets.NewStore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store 失败: %w", err)
	}
	if err := cfg.ResolveSecrets(ctx, b.Secrets.Get); err != nil {
		return nil, err
	}

	if err := b.initStores(ctx); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.initWakeup(ctx); err != nil {
		b.Close()
		return nil, err
	}

	gen, err := llm.NewClient(ctx, llm.Config{
		Provider:    cfg.Model.Provider,
		Model:       cfg.Model.Model,
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Timeout:     config.ParseDuration(cfg.Model.Timeout, 0),
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化模型客户端失败: %w", err)
	}
	b.LLM = llm.NewRateLimitedClient(gen, llm.LimitConfig{
		RequestsPerMinute: cfg.Model.RequestsPerMinute,
		MaxConcurrent:     cfg.Model.MaxConcurrent,
	})

	b.Registry, err = agent.NewDefaultRegistry(b.LLM)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化 Agent 注册表失败: %w", err)
	}
	policy, err := job.ParseRejectionPolicy(cfg.Approval.RejectionPolicy)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Runner = job.NewRunner(b.JobStore, b.Registry, b.Wakeup, logger)
	b.Gate = job.NewApprovalGate(b.JobStore, policy, logger)

	admin := cfg.Auth.BootstrapAdmin
	created, err := auth.EnsureAdmin(ctx, b.Users, admin.Email, admin.Name, admin.Password)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("创建引导管理员失败: %w", err)
	}
	if created {
		logger.Info("已创建引导管理员", "email", admin.Email)
	}

	logger.Info("bootstrap 完成",
		"jobstore", storeType(cfg.JobStore.Type),
		"wakeup", cfg.Wakeup.Type,
		"provider", b.LLM.Provider(),
		"model", b.LLM.Model(),
		"agents", b.Registry.Len(),
		"rejection_policy", string(policy))
	return b, nil
}

func storeType(t string) string {
	if t == "" {
		return "memory"
	}
	return t
}

func (b *Bootstrap) initStores(ctx context.Context) error {
	cfg := b.Config.JobStore
	switch storeType(cfg.Type) {
	case "memory":
		b.JobStore = job.NewJobStoreMem()
		b.Users = auth.NewMemoryUserStore()
		return nil
	case "postgres":
		if cfg.DSN == "" {
			return fmt.Errorf("jobstore.dsn 不能为空（type=postgres）")
		}
		if cfg.AutoMigrate {
			applied, err := migrations.Up(cfg.DSN)
			if err != nil {
				return err
			}
			b.Logger.Info("数据库迁移完成", "applied", applied)
		}
		store, err := job.NewJobStorePg(ctx, cfg.DSN)
		if err != nil {
			return fmt.Errorf("连接 Postgres 失败: %w", err)
		}
		b.pgStore = store
		b.JobStore = store
		b.Users = auth.NewUserStorePg(store.Pool())
		return nil
	default:
		return fmt.Errorf("不支持的 jobstore.type: %s", cfg.Type)
	}
}

func (b *Bootstrap) initWakeup(ctx context.Context) error {
	cfg := b.Config.Wakeup
	switch cfg.Type {
	case "", "memory":
		b.Wakeup = job.NewWakeupQueueMem(256).WithLogger(b.Logger)
		return nil
	case "redis":
		q, err := job.NewWakeupQueueRedis(ctx, job.RedisWakeupConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Key:      cfg.Key,
		})
		if err != nil {
			return fmt.Errorf("连接 Redis 唤醒队列失败: %w", err)
		}
		b.redisWakeup = q
		b.Wakeup = q
		return nil
	default:
		return fmt.Errorf("不支持的 wakeup.type: %s", cfg.Type)
	}
}

// SchedulerConfig 由配置构造调度器参数
func (b *Bootstrap) SchedulerConfig() job.SchedulerConfig {
	s := b.Config.Scheduler
	return job.SchedulerConfig{
		MaxConcurrency: s.MaxConcurrency,
		JobTimeout:     config.ParseDuration(s.JobTimeout, job.DefaultJobTimeout),
		PollInterval:   config.ParseDuration(s.PollInterval, 2*time.Second),
	}
}

// ReclaimConfig 由配置构造孤儿回收参数
func (b *Bootstrap) ReclaimConfig() job.ReclaimConfig {
	s := b.Config.Scheduler
	return job.ReclaimConfig{
		JobTimeout:  config.ParseDuration(s.JobTimeout, job.DefaultJobTimeout),
		OrphanGrace: config.ParseDuration(s.OrphanGrace, job.DefaultOrphanGrace),
		Interval:    config.ParseDuration(s.ReclaimInterval, time.Minute),
	}
}

// NewScheduler 创建执行 Runner 的调度器，并注册为 Runner 的 Canceller
func (b *Bootstrap) NewScheduler() *job.Scheduler {
	sched := job.NewScheduler(b.JobStore, b.Runner.Execute, b.SchedulerConfig(), b.Wakeup, b.Logger)
	b.Runner.SetCanceller(sched)
	return sched
}

// NewReclaimer 创建孤儿 Job 回收器
func (b *Bootstrap) NewReclaimer() *job.Reclaimer {
	return job.NewReclaimer(b.JobStore, b.ReclaimConfig(), b.Logger)
}

// Close 释放连接；可重复调用
func (b *Bootstrap) Close() {
	if b.redisWakeup != nil {
		_ = b.redisWakeup.Close()
		b.redisWakeup = nil
	}
	if b.pgStore != nil {
		b.pgStore.Close()
		b.pgStore = nil
	}
}
