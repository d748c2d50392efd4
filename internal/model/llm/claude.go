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
	"net/http"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	apperrors "strategy-center/pkg/errors"
)

const (
	defaultClaudeModel   = "claude-3-5-sonnet-20241022"
	defaultClaudeBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion     = "2023-06-01"
)

// ClaudeClient Anthropic Messages API 客户端
type ClaudeClient struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	client      *resty.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type claudeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClaudeClient 创建 Claude 客户端；BaseURL 为空时用 ANTHROPIC_BASE_URL 或官方地址。
// 传输层不重试，失败由调用方决定是否重新提交。
func NewClaudeClient(cfg Config) (*ClaudeClient, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, apperrors.Validation("claude api key is empty")
	}
	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultClaudeBaseURL
		if envURL := os.Getenv("ANTHROPIC_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("anthropic-version", anthropicVersion)

	return &ClaudeClient{
		model:       model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      client,
	}, nil
}

// Generate 实现 Client
func (c *ClaudeClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	req := claudeRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      systemPrompt,
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	}
	var result claudeResponse
	var apiErr claudeErrorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", c.apiKey).
		SetBody(req).
		SetResult(&result).
		SetError(&apiErr).
		Post("/messages")
	if err != nil {
		return "", &GenerationError{Provider: c.Provider(), Message: "调用 Claude API 失败", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.String()
		}
		return "", &GenerationError{Provider: c.Provider(), StatusCode: resp.StatusCode(), Message: msg}
	}

	var b strings.Builder
	for _, block := range result.Content {
		if block.Type == "" || block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &GenerationError{Provider: c.Provider(), StatusCode: resp.StatusCode(), Message: "Claude API 没有返回文本"}
	}
	return b.String(), nil
}

// Model 返回模型名称
func (c *ClaudeClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *ClaudeClient) Provider() string { return "claude" }
