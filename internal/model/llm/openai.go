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
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	apperrors "strategy-center/pkg/errors"
)

// OpenAIClient 基于 eino-ext OpenAI ChatModel；兼容 Qwen/DashScope 等 OpenAI 协议端点
type OpenAIClient struct {
	model string
	chat  model.BaseChatModel
}

// NewOpenAIClient 创建 OpenAI 兼容客户端；BaseURL 为空时用 OPENAI_BASE_URL 或默认地址
func NewOpenAIClient(ctx context.Context, cfg Config) (*OpenAIClient, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, apperrors.Validation("openai api key is empty")
	}
	name := cfg.Model
	if name == "" {
		name = "gpt-4o"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	maxTokens := cfg.MaxTokens
	temperature := float32(cfg.Temperature)
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     baseURL,
		Model:       name,
		Timeout:     cfg.Timeout,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{model: name, chat: chat}, nil
}

// Generate 实现 Client：system + user 两条消息
func (c *OpenAIClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	msgs := make([]*schema.Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, schema.UserMessage(prompt))
	out, err := c.chat.Generate(ctx, msgs)
	if err != nil {
		return "", &GenerationError{Provider: c.Provider(), Message: "调用 OpenAI API 失败", Err: err}
	}
	if out == nil || out.Content == "" {
		return "", &GenerationError{Provider: c.Provider(), Message: "OpenAI API 没有返回结果"}
	}
	return out.Content, nil
}

// Model 返回模型名称
func (c *OpenAIClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *OpenAIClient) Provider() string { return "openai" }
