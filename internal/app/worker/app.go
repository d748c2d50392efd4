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


package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	hertzslog "github.com/hertz-contrib/logger/slog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"strategy-center/internal/agent/job"
	bootstrap "strategy-center/internal/app"
	"strategy-center/pkg/metrics"
	"strategy-center/pkg/tracing"
)

// App Worker 应用：从共享 JobStore 认领 Pending Job 并执行，周期回收孤儿 Job
type App struct {
	boot      *bootstrap.Bootstrap
	workerID  string
	scheduler *job.Scheduler
	reclaimer *job.Reclaimer
	tracer    *sdktrace.TracerProvider
	probe     *server.Hertz
	cancel    context.CancelFunc
}

// NewApp 创建 Worker 应用；jobstore 非 postgres 时只能执行本进程内提交的 Job
func NewApp(boot *bootstrap.Bootstrap) (*App, error) {
	cfg := boot.Config
	if cfg.JobStore.Type != "postgres" {
		boot.Logger.Warn("Worker 使用内存 JobStore，无法与 API 进程共享 Job", "jobstore", cfg.JobStore.Type)
	}
	a := &App{
		boot:      boot,
		workerID:  DefaultWorkerID(),
		scheduler: boot.NewScheduler(),
		reclaimer: boot.NewReclaimer(),
	}
	if cfg.Monitoring.Tracing.Enable && cfg.Monitoring.Tracing.ExportEndpoint != "" {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "strategy-center-worker"
		}
		tp, err := tracing.InitTracer(context.Background(), tracing.OTelConfig{
			ServiceName:    serviceName,
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
		}
		a.tracer = tp
	}
	if cfg.Monitoring.Prometheus.Enable && cfg.Monitoring.Prometheus.Port > 0 {
		hlog.SetLogger(hertzslog.NewLogger(
			hertzslog.WithOutput(boot.Logger.Output()),
			hertzslog.WithLevel(boot.Logger.LevelVar()),
		))
		a.probe = server.Default(server.WithHostPorts(fmt.Sprintf(":%d", cfg.Monitoring.Prometheus.Port)))
		a.registerProbe(a.probe)
	}
	return a, nil
}

// registerProbe 暴露 /metrics 与 /api/health
func (a *App) registerProbe(h *server.Hertz) {
	h.GET("/metrics", func(c context.Context, ctx *app.RequestContext) {
		var buf bytes.Buffer
		if err := metrics.WritePrometheus(&buf); err != nil {
			ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
	})
	h.GET("/api/health", func(c context.Context, ctx *app.RequestContext) {
		status := consts.StatusOK
		out := map[string]interface{}{
			"status":    "ok",
			"service":   "strategy-center-worker",
			"worker_id": a.workerID,
			"running":   a.scheduler.Running(),
			"timestamp": time.Now().Unix(),
		}
		if _, err := a.boot.JobStore.CountByStatus(c, ""); err != nil {
			status = consts.StatusServiceUnavailable
			out["status"] = "degraded"
			out["error"] = err.Error()
		}
		ctx.JSON(status, out)
	})
}

// Start 启动调度与回收循环，以及可选的探针服务
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.scheduler.Start(ctx)
	a.reclaimer.Start(ctx)
	if a.probe != nil {
		go a.probe.Spin()
	}
	a.boot.Logger.Info("worker 已启动",
		"worker_id", a.workerID,
		"max_concurrency", a.boot.Config.Scheduler.MaxConcurrency,
		"probe", a.probe != nil)
	return nil
}

// Shutdown 停止认领并中断执行中的 Job（标记为 interrupted），然后释放连接
func (a *App) Shutdown(ctx context.Context) error {
	a.boot.Logger.Info("关闭 worker 应用", "worker_id", a.workerID)
	a.reclaimer.Stop()
	a.scheduler.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	if a.probe != nil {
		if err := a.probe.Shutdown(ctx); err != nil {
			a.boot.Logger.Error("关闭探针服务失败", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.boot.Logger.Error("关闭 tracer 失败", "error", err)
		}
	}
	a.boot.Close()
	a.boot.Logger.Info("worker 应用关闭成功")
	return nil
}

// DefaultWorkerID 优先 WORKER_ID 环境变量，其次主机名
func DefaultWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	host, _ := os.Hostname()
	if host != "" {
		return host
	}
	return "worker-unknown"
}
