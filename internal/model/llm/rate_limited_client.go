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

package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	apperrors "strategy-center/pkg/errors"
	"strategy-center/pkg/metrics"
	"strategy-center/pkg/tracing"
)

// LimitConfig Provider 限流配置
type LimitConfig struct {
	RequestsPerMinute float64 // <=0 表示不限速
	MaxConcurrent     int     // <=0 表示不限并发
}

// RateLimitedClient 包装任意 Client：调用前做 RPM 与并发限流，调用前后记录指标与 span
type RateLimitedClient struct {
	inner     Client
	limiter   *rate.Limiter
	semaphore chan struct{}
}

// NewRateLimitedClient 创建带限流的客户端
func NewRateLimitedClient(inner Client, cfg LimitConfig) *RateLimitedClient {
	c := &RateLimitedClient{inner: inner}
	if cfg.RequestsPerMinute > 0 {
		burst := int(cfg.RequestsPerMinute / 60)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), burst)
	}
	if cfg.MaxConcurrent > 0 {
		c.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return c
}

// Generate 实现 Client
func (c *RateLimitedClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	provider := c.inner.Provider()
	start := time.Now()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// 令牌在截止时间前不可得时 Wait 立即返回，ctx.Err() 仍为 nil
			if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
				return "", fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
			}
			return "", err
		}
	}
	if c.semaphore != nil {
		select {
		case c.semaphore <- struct{}{}:
			defer func() { <-c.semaphore }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		metrics.RateLimitWaitSeconds.WithLabelValues("llm", provider).Observe(waited.Seconds())
	}

	ctx, span := tracing.StartGenerateSpan(ctx, provider, c.inner.Model())
	callStart := time.Now()
	out, err := c.inner.Generate(ctx, prompt, systemPrompt)
	metrics.LLMRequestDuration.WithLabelValues(provider, c.inner.Model()).Observe(time.Since(callStart).Seconds())
	if err != nil {
		metrics.LLMErrorTotal.WithLabelValues(provider).Inc()
	}
	tracing.EndSpan(span, err)
	return out, err
}

// Model 返回底层 Client 的模型名称
func (c *RateLimitedClient) Model() string { return c.inner.Model() }

// Provider 返回底层 Client 的提供商名称
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }
