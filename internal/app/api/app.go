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


package api

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"google.golang.org/grpc"

	"strategy-center/internal/agent/job"
	apigrpc "strategy-center/internal/api/grpc"
	"strategy-center/internal/api/http"
	"strategy-center/internal/api/http/middleware"
	"strategy-center/internal/app"
	"strategy-center/pkg/config"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware；可选进程内 Scheduler 与 gRPC 健康检查）
type App struct {
	config       *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	grpcServer   *grpcRun
	health       *apigrpc.Server
	otelProvider otelProviderShutdown
	jobScheduler *job.Scheduler
	reclaimer    *job.Reclaimer
}

// grpcRun 持有 gRPC Server 与 Listener，用于 GracefulStop 时关闭
type grpcRun struct {
	srv *grpc.Server
	lis net.Listener
}

func (g *grpcRun) GracefulStop() {
	if g.lis != nil {
		_ = g.lis.Close()
	}
	if g.srv != nil {
		g.srv.GracefulStop()
	}
}

// checkAuth postgres 存储为多进程共享部署，不允许以请求头身份运行
func checkAuth(cfg *config.Config) error {
	if !cfg.API.Middleware.Auth && cfg.JobStore.Type == "postgres" {
		return fmt.Errorf("jobstore.type=postgres 时必须启用 api.middleware.auth")
	}
	return nil
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	handler := http.NewHandler(bootstrap.Runner, bootstrap.Gate, bootstrap.Users, bootstrap.Logger)
	handler.SetPreviewChars(cfg.Approval.PreviewChars)

	mw := middleware.NewMiddleware(bootstrap.Logger)
	router := http.NewRouter(handler, mw)

	if err := checkAuth(cfg); err != nil {
		return nil, err
	}
	mc := cfg.API.Middleware
	if mc.Auth {
		if mc.JWTKey == "" {
			return nil, fmt.Errorf("api.middleware.auth 启用时 jwt_key 不能为空")
		}
		timeout := config.ParseDuration(mc.JWTTimeout, 24*time.Hour)
		maxRefresh := config.ParseDuration(mc.JWTMaxRefresh, 24*time.Hour)
		jwtAuth, err := middleware.NewJWTAuth([]byte(mc.JWTKey), timeout, maxRefresh, bootstrap.Users)
		if err != nil {
			return nil, fmt.Errorf("初始化 JWT 失败: %w", err)
		}
		router.SetJWT(jwtAuth)
		bootstrap.Logger.Info("JWT 认证已启用")
	} else {
		bootstrap.Logger.Warn("认证未启用，身份取自 X-User-ID / X-User-Role 请求头")
	}
	if cfg.API.CORS.Enable {
		router.SetCORS(cfg.API.CORS.AllowOrigins)
	}
	if mc.RateLimit {
		router.SetRateLimit(mc.RateLimitRPS)
	}

	appObj := &App{
		config: bootstrap,
		router: router,
	}
	// 单一执行权：jobstore.type=postgres 时默认由 Worker 执行，API 只做控制面
	if cfg.SchedulerEnabled() {
		appObj.jobScheduler = bootstrap.NewScheduler()
		appObj.reclaimer = bootstrap.NewReclaimer()
		handler.SetRunningFunc(appObj.jobScheduler.Running)
	}

	if cfg.API.Grpc.Enable && cfg.API.Grpc.Port > 0 {
		health := apigrpc.NewServer(func(ctx context.Context) error {
			_, err := bootstrap.JobStore.CountByStatus(ctx, "")
			return err
		}, bootstrap.Logger)
		gs, err := startGRPC(health, cfg.API.Grpc.Port)
		if err != nil {
			bootstrap.Logger.Warn("gRPC 服务启动失败", "error", err)
		} else {
			appObj.grpcServer = gs
			appObj.health = health
			bootstrap.Logger.Info("gRPC 健康检查已启动", "port", cfg.API.Grpc.Port)
		}
	}
	return appObj, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.config.Config
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 日志共用输出与级别
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(a.config.Logger.Output()),
		hertzslog.WithLevel(a.config.Logger.LevelVar()),
	)
	hlog.SetLogger(hertzLogger)

	var opts []hertzconfig.Option
	if cfg.API.Timeout != "" {
		opts = append(opts, server.WithReadTimeout(config.ParseDuration(cfg.API.Timeout, 30*time.Second)))
	}
	// 可选：启用链路追踪（OpenTelemetry）
	tracingOn := false
	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "strategy-center-api"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			popts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				popts = append(popts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(popts...)
			tracerOpt, tcfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, append(opts, tracerOpt)...)
			a.hertz.Use(hertztracing.ServerMiddleware(tcfg))
			tracingOn = true
			a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		}
	}
	if !tracingOn {
		a.hertz = a.router.Build(addr, opts...)
	}

	if a.jobScheduler != nil {
		a.jobScheduler.Start(context.Background())
		a.reclaimer.Start(context.Background())
		a.config.Logger.Info("进程内 Scheduler 已启动", "max_concurrency", cfg.Scheduler.MaxConcurrency)
	}
	if a.health != nil {
		a.health.Start(context.Background(), 0)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.health != nil {
		a.health.Shutdown()
	}
	if a.reclaimer != nil {
		a.reclaimer.Stop()
	}
	if a.jobScheduler != nil {
		a.jobScheduler.Stop()
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	var err error
	if a.hertz != nil {
		err = a.hertz.Shutdown(ctx)
	}
	a.config.Close()
	return err
}

// startGRPC 创建并启动 gRPC 服务（在 goroutine 中 Serve），返回 grpcRun 以便 Shutdown 时 GracefulStop
func startGRPC(health *apigrpc.Server, port int) (*grpcRun, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer()
	health.Register(srv)
	go func() {
		_ = srv.Serve(lis)
	}()
	return &grpcRun{srv: srv, lis: lis}, nil
}
