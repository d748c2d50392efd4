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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "strategy-center/pkg/errors"
)

func TestClaudeClient_Generate(t *testing.T) {
	var gotReq claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c, err := NewClaudeClient(Config{APIKey: "k", BaseURL: srv.URL, MaxTokens: 123, Temperature: 0.3})
	if err != nil {
		t.Fatalf("NewClaudeClient: %v", err)
	}
	out, err := c.Generate(context.Background(), "write a report", "you are an analyst")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello world" {
		t.Errorf("out = %q", out)
	}
	if gotReq.System != "you are an analyst" || gotReq.MaxTokens != 123 || gotReq.Model != defaultClaudeModel {
		t.Errorf("request = %+v", gotReq)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "write a report" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestClaudeClient_ErrorIsGenerationError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c, _ := NewClaudeClient(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "p", "")
	if !errors.Is(err, apperrors.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.StatusCode != http.StatusTooManyRequests || ge.Message != "slow down" {
		t.Fatalf("GenerationError = %+v", ge)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("transport must not retry, calls = %d", calls)
	}
}

func TestNewClient_Providers(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, Config{Provider: "bogus"}); !errors.Is(err, apperrors.ErrInvalidArg) {
		t.Errorf("unknown provider: %v", err)
	}
	if _, err := NewClient(ctx, Config{Provider: "claude"}); !errors.Is(err, apperrors.ErrInvalidArg) {
		t.Errorf("claude without key should fail validation: %v", err)
	}
	c, err := NewClient(ctx, Config{Provider: "echo"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	out, err := c.Generate(ctx, "Tool Discovery\nmore", "")
	if err != nil || !strings.Contains(out, "Tool Discovery") || len(out) < 100 {
		t.Errorf("echo output = %q, %v", out, err)
	}
}

type slowClient struct {
	inFlight, maxSeen int32
}

func (s *slowClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		m := atomic.LoadInt32(&s.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&s.maxSeen, m, n) {
			break
		}
	}
	time.Sleep(30 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)
	return "ok", nil
}
func (s *slowClient) Model() string    { return "slow" }
func (s *slowClient) Provider() string { return "test" }

func TestRateLimitedClient_MaxConcurrent(t *testing.T) {
	inner := &slowClient{}
	c := NewRateLimitedClient(inner, LimitConfig{MaxConcurrent: 2})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Generate(context.Background(), "p", "")
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&inner.maxSeen); got > 2 {
		t.Errorf("max concurrent = %d, want <= 2", got)
	}
	if c.Provider() != "test" || c.Model() != "slow" {
		t.Errorf("delegation broken")
	}
}

func TestRateLimitedClient_ContextCancelledWhileWaiting(t *testing.T) {
	c := NewRateLimitedClient(&slowClient{}, LimitConfig{RequestsPerMinute: 1})
	_, _ = c.Generate(context.Background(), "p", "") // 消耗唯一令牌
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, "p", "")
	if err == nil {
		t.Fatal("expected rate limiter wait to fail on context deadline")
	}
	if !errors.Is(err, apperrors.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestRateLimitedClient_WaitPastDeadlineIsTimeout(t *testing.T) {
	c := NewRateLimitedClient(&slowClient{}, LimitConfig{RequestsPerMinute: 1})
	_, _ = c.Generate(context.Background(), "p", "")
	// 下一个令牌约 60s 后才可用，Wait 在截止前即失败
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	_, err := c.Generate(ctx, "p", "")
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if apperrors.Kind(err) != "timeout" {
		t.Errorf("kind = %q, want timeout", apperrors.Kind(err))
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("wait should fail fast, took %v", time.Since(start))
	}
}
