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

// Package agent 定义报告 Agent 契约、只读注册表与基于模板的报告 Agent
package agent

import (
	"context"
	"unicode/utf8"
)

// Outcome 单次执行的结果质量
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial" // 内容过短或置信度低，ReasonCode 说明原因
)

// partial 原因码
const (
	ReasonContentTooShort = "content_too_short"
	ReasonLowConfidence   = "low_confidence"
)

// 质量阈值：正文少于 MinContentLength 字符或置信度低于 MinConfidence 时判为 partial
const (
	MinContentLength = 100
	MinConfidence    = 0.5
)

// DefaultContentType Approval 默认内容类型
const DefaultContentType = "agent_output"

// Result Agent 单次 Run 的产出；失败时 Run 返回 error 而非 Result
type Result struct {
	Content         string                 `json:"content"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ConfidenceScore float64                `json:"confidence_score"`
	Outcome         Outcome                `json:"outcome"`
	ReasonCode      string                 `json:"reason_code,omitempty"`
	ContentType     string                 `json:"content_type,omitempty"`
}

// Agent 报告 Agent 契约
type Agent interface {
	Name() string
	Description() string
	SystemPrompt() string
	// Run 执行一次生成；文本生成失败返回的 error 满足 errors.Is(err, ErrGeneration)
	Run(ctx context.Context, task string, params map[string]interface{}) (*Result, error)
}

// ParamValidator 可选：在提交时校验参数，失败返回 ErrInvalidArg 且不创建 Job
type ParamValidator interface {
	ValidateParams(params map[string]interface{}) error
}

// Param 参数说明，供 /api/agents 与 CLI 展示
type Param struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

// Info Agent 展示信息
type Info struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description"`
	Variants    []string `json:"variants,omitempty"`
	Params      []Param  `json:"params,omitempty"`
}

// Describer 可选：提供比 Description 更完整的展示信息
type Describer interface {
	Info() Info
}

// Describe 返回 Agent 的展示信息
func Describe(a Agent) Info {
	if d, ok := a.(Describer); ok {
		return d.Info()
	}
	return Info{Name: a.Name(), Title: a.Name(), Description: a.Description()}
}

// ValidateParams 对实现了 ParamValidator 的 Agent 执行参数校验
func ValidateParams(a Agent, params map[string]interface{}) error {
	if v, ok := a.(ParamValidator); ok {
		return v.ValidateParams(params)
	}
	return nil
}

// Assess 按内容长度与置信度设置 Outcome 与 ReasonCode；body 为不含元数据头的正文
func Assess(r *Result, body string) {
	switch {
	case utf8.RuneCountInString(body) < MinContentLength:
		r.Outcome, r.ReasonCode = OutcomePartial, ReasonContentTooShort
	case r.ConfidenceScore < MinConfidence:
		r.Outcome, r.ReasonCode = OutcomePartial, ReasonLowConfidence
	default:
		r.Outcome, r.ReasonCode = OutcomeSuccess, ""
	}
}
