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

	apperrors "strategy-center/pkg/errors"
)

// Client 文本生成客户端：一次 prompt + system prompt 调用返回完整文本
type Client interface {
	// Generate 生成文本；传输、配额或模型错误返回 *GenerationError
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
	// Model 返回模型名称
	Model() string
	// Provider 返回提供商名称
	Provider() string
}

// Config 客户端配置
type Config struct {
	Provider    string // claude | openai | echo
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	if c.Temperature < 0 {
		c.Temperature = 0.3
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// GenerationError 文本生成失败；errors.Is(err, apperrors.ErrGeneration) 为 true
type GenerationError struct {
	Provider   string
	StatusCode int // HTTP 状态码，非 HTTP 失败为 0
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s generation failed (status %d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s generation failed: %s", e.Provider, msg)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is 使 GenerationError 归入 ErrGeneration 类别
func (e *GenerationError) Is(target error) bool {
	return target == apperrors.ErrGeneration
}

// NewClient 按 provider 创建客户端；未知 provider 返回 ErrInvalidArg
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	cfg = cfg.withDefaults()
	switch cfg.Provider {
	case "", "claude", "anthropic":
		return NewClaudeClient(cfg)
	case "openai", "qwen":
		return NewOpenAIClient(ctx, cfg)
	case "echo":
		return NewEchoClient(cfg.Model), nil
	default:
		return nil, apperrors.Validation("unsupported model provider %q", cfg.Provider)
	}
}
