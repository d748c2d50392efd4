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

// Package grpc gRPC 健康检查服务（grpc.health.v1），供负载均衡与编排系统探活
package grpc

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"strategy-center/pkg/log"
)

// ServiceName 健康检查中 Job 运行时的服务名；空串表示整体
const ServiceName = "strategy-center.JobRunner"

// ProbeFunc 探测依赖（存储等）是否可用
type ProbeFunc func(ctx context.Context) error

// Server 持有 health.Server，按探测结果切换 SERVING / NOT_SERVING
type Server struct {
	health *health.Server
	probe  ProbeFunc
	logger *log.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewServer probe 为 nil 时始终 SERVING
func NewServer(probe ProbeFunc, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{health: health.NewServer(), probe: probe, logger: logger, stopCh: make(chan struct{})}
	s.set(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Register 注册 Health 服务到 grpc.Server
func (s *Server) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, s.health)
}

// Health 底层 health 服务，供进程内直接查询
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// CheckOnce 执行一次探测并更新状态
func (s *Server) CheckOnce(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	st := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		if err := s.probe(ctx); err != nil {
			s.logger.Warn("health probe failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.set(st)
	return st
}

// Start 按 interval 周期探测，直到 Shutdown 或 ctx 结束
func (s *Server) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			s.CheckOnce(probeCtx)
			cancel()
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Shutdown 进入 NOT_SERVING 并停止周期探测；之后的探测不会恢复 SERVING
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	s.health.Shutdown()
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
