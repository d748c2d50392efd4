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

package agent

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"strategy-center/internal/model/llm"
	apperrors "strategy-center/pkg/errors"
)

// Variant 报告变体：同一 Agent 的不同报告类型（如 briefing_type=risk_alert）
type Variant struct {
	Description string   `yaml:"description"`
	Sections    []string `yaml:"sections"`
	Audience    string   `yaml:"audience"`
	Length      string   `yaml:"length"`
}

// ReportSpec 报告 Agent 的类型化配置
type ReportSpec struct {
	Name         string `yaml:"name"`
	Title        string `yaml:"title"`
	Category     string `yaml:"category"`
	Description  string `yaml:"description"`
	ContentType  string `yaml:"content_type"`
	SystemPrompt string `yaml:"system_prompt"`
	// Prompt 为 text/template，可用 .Task .Params .Variant .VariantName .Title
	Prompt string `yaml:"prompt"`
	// VariantParam 选择变体的参数名；为空表示无变体
	VariantParam   string             `yaml:"variant_param"`
	DefaultVariant string             `yaml:"default_variant"`
	Variants       map[string]Variant `yaml:"variants"`
	RequiredParams []string           `yaml:"required_params"`
	// Defaults 参数缺省值，调用方传入的同名参数优先
	Defaults   map[string]interface{} `yaml:"defaults"`
	Confidence float64                `yaml:"confidence"`
}

// ReportAgent 由 ReportSpec 驱动：渲染 prompt、调用生成器、包装为带 YAML 头的 markdown
type ReportAgent struct {
	spec ReportSpec
	tmpl *template.Template
	gen  llm.Client
	now  func() time.Time
}

// NewReportAgent 校验 spec 并解析 prompt 模板
func NewReportAgent(spec ReportSpec, gen llm.Client) (*ReportAgent, error) {
	if spec.Name == "" {
		return nil, apperrors.Validation("report spec name is empty")
	}
	if gen == nil {
		return nil, apperrors.Validation("agent %s: text generator is nil", spec.Name)
	}
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, apperrors.Validation("agent %s: prompt template is empty", spec.Name)
	}
	if spec.VariantParam != "" {
		if len(spec.Variants) == 0 {
			return nil, apperrors.Validation("agent %s: variant_param set without variants", spec.Name)
		}
		if _, ok := spec.Variants[spec.DefaultVariant]; !ok {
			return nil, apperrors.Validation("agent %s: default variant %q not defined", spec.Name, spec.DefaultVariant)
		}
	}
	if spec.ContentType == "" {
		spec.ContentType = DefaultContentType
	}
	if spec.Confidence == 0 {
		spec.Confidence = 0.8
	}
	if spec.Title == "" {
		spec.Title = spec.Name
	}
	tmpl, err := template.New(spec.Name).Option("missingkey=zero").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(spec.Prompt)
	if err != nil {
		return nil, apperrors.Wrapf(err, "agent %s: parse prompt", spec.Name)
	}
	return &ReportAgent{spec: spec, tmpl: tmpl, gen: gen, now: time.Now}, nil
}

// Name 实现 Agent
func (a *ReportAgent) Name() string { return a.spec.Name }

// Description 实现 Agent
func (a *ReportAgent) Description() string { return a.spec.Description }

// SystemPrompt 实现 Agent
func (a *ReportAgent) SystemPrompt() string { return a.spec.SystemPrompt }

// Spec 返回配置副本
func (a *ReportAgent) Spec() ReportSpec { return a.spec }

// Info 实现 Describer
func (a *ReportAgent) Info() Info {
	info := Info{
		Name:        a.spec.Name,
		Title:       a.spec.Title,
		Category:    a.spec.Category,
		Description: a.spec.Description,
	}
	for name := range a.spec.Variants {
		info.Variants = append(info.Variants, name)
	}
	sort.Strings(info.Variants)
	required := make(map[string]bool, len(a.spec.RequiredParams))
	for _, p := range a.spec.RequiredParams {
		required[p] = true
		info.Params = append(info.Params, Param{Name: p, Required: true})
	}
	var optional []string
	for k := range a.spec.Defaults {
		if !required[k] {
			optional = append(optional, k)
		}
	}
	sort.Strings(optional)
	for _, k := range optional {
		info.Params = append(info.Params, Param{Name: k, Default: fmt.Sprint(a.spec.Defaults[k])})
	}
	return info
}

// ValidateParams 实现 ParamValidator：必填参数必须存在且非空
func (a *ReportAgent) ValidateParams(params map[string]interface{}) error {
	var missing []string
	for _, p := range a.spec.RequiredParams {
		v, ok := params[p]
		if !ok || v == nil || strings.TrimSpace(fmt.Sprint(v)) == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return apperrors.Validation("agent %s requires parameter(s): %s", a.spec.Name, strings.Join(missing, ", "))
	}
	return nil
}

type promptData struct {
	Task        string
	Title       string
	Params      map[string]interface{}
	VariantName string
	Variant     Variant
}

// resolveVariant 返回生效的变体名；未知或缺失时回退到 DefaultVariant
func (a *ReportAgent) resolveVariant(params map[string]interface{}) (string, Variant, bool) {
	if a.spec.VariantParam == "" {
		return "", Variant{}, false
	}
	if raw, ok := params[a.spec.VariantParam]; ok {
		name := fmt.Sprint(raw)
		if v, ok := a.spec.Variants[name]; ok {
			return name, v, false
		}
		return a.spec.DefaultVariant, a.spec.Variants[a.spec.DefaultVariant], true
	}
	return a.spec.DefaultVariant, a.spec.Variants[a.spec.DefaultVariant], false
}

// Run 实现 Agent
func (a *ReportAgent) Run(ctx context.Context, task string, params map[string]interface{}) (*Result, error) {
	if err := a.ValidateParams(params); err != nil {
		return nil, err
	}
	merged := make(map[string]interface{}, len(a.spec.Defaults)+len(params))
	for k, v := range a.spec.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	variantName, variant, fellBack := a.resolveVariant(merged)
	if variantName != "" {
		merged[a.spec.VariantParam] = variantName
	}

	var prompt bytes.Buffer
	if err := a.tmpl.Execute(&prompt, promptData{
		Task:        task,
		Title:       a.spec.Title,
		Params:      merged,
		VariantName: variantName,
		Variant:     variant,
	}); err != nil {
		return nil, apperrors.Wrapf(err, "agent %s: render prompt", a.spec.Name)
	}

	body, err := a.gen.Generate(ctx, prompt.String(), a.spec.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.spec.Name, err)
	}
	body = strings.TrimSpace(body)

	generatedAt := a.now().UTC()
	meta := map[string]interface{}{
		"agent":        a.spec.Name,
		"model":        a.gen.Model(),
		"provider":     a.gen.Provider(),
		"generated_at": generatedAt.Format(time.RFC3339),
		"word_count":   len(strings.Fields(body)),
	}
	if variantName != "" {
		meta["variant"] = variantName
		meta["sections"] = variant.Sections
		if fellBack {
			meta["variant_fallback"] = true
		}
	}

	content, err := renderDocument(frontMatter{
		Title:       a.spec.Title,
		Agent:       a.spec.Name,
		Variant:     variantName,
		Task:        task,
		Model:       a.gen.Model(),
		GeneratedAt: generatedAt.Format(time.RFC3339),
		Confidence:  a.spec.Confidence,
	}, body)
	if err != nil {
		return nil, apperrors.Wrapf(err, "agent %s: render document", a.spec.Name)
	}

	res := &Result{
		Content:         content,
		Metadata:        meta,
		ConfidenceScore: a.spec.Confidence,
		ContentType:     a.spec.ContentType,
	}
	Assess(res, body)
	return res, nil
}

type frontMatter struct {
	Title       string  `yaml:"title"`
	Agent       string  `yaml:"agent"`
	Variant     string  `yaml:"variant,omitempty"`
	Task        string  `yaml:"task"`
	Model       string  `yaml:"model"`
	GeneratedAt string  `yaml:"generated_at"`
	Confidence  float64 `yaml:"confidence"`
}

// renderDocument 输出 "---\n<yaml>---\n\n<body>\n" 形式的 markdown 文档
func renderDocument(fm frontMatter, body string) (string, error) {
	head, err := yaml.Marshal(fm)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String(), nil
}

// SplitDocument 拆分 YAML 头与正文；无头时返回 nil 与原文
func SplitDocument(doc string) (map[string]interface{}, string, error) {
	if !strings.HasPrefix(doc, "---\n") {
		return nil, doc, nil
	}
	rest := doc[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, doc, nil
	}
	var fm map[string]interface{}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return nil, doc, err
	}
	return fm, strings.TrimLeft(rest[end+len("\n---\n"):], "\n"), nil
}
