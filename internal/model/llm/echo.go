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
	"strings"
)

// EchoClient 离线生成器：不访问网络，按 prompt 回显一份固定结构的 markdown，用于本地开发与演示
type EchoClient struct {
	model string
}

// NewEchoClient 创建 EchoClient
func NewEchoClient(model string) *EchoClient {
	if model == "" {
		model = "echo"
	}
	return &EchoClient{model: model}
}

// Generate 实现 Client
func (c *EchoClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	first := strings.TrimSpace(prompt)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	return fmt.Sprintf("# Draft\n\n%s\n\n## Notes\n\nGenerated offline by the %s model. "+
		"Replace model.provider with claude or openai to produce a real report.\n\n"+
		"Prompt length: %d characters.\n", first, c.model, len(prompt)), nil
}

// Model 返回模型名称
func (c *EchoClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *EchoClient) Provider() string { return "echo" }
