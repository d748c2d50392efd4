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
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "strategy-center/pkg/errors"
)

type fakeGen struct {
	out        string
	err        error
	lastPrompt string
	lastSystem string
}

func (f *fakeGen) Generate(_ context.Context, prompt, systemPrompt string) (string, error) {
	f.lastPrompt, f.lastSystem = prompt, systemPrompt
	return f.out, f.err
}
func (f *fakeGen) Model() string    { return "fake-model" }
func (f *fakeGen) Provider() string { return "fake" }

var longBody = strings.Repeat("Findings and recommendations for the platform team. ", 5)

func TestAssess(t *testing.T) {
	r := &Result{ConfidenceScore: 0.9}
	Assess(r, longBody)
	assert.Equal(t, OutcomeSuccess, r.Outcome)
	assert.Empty(t, r.ReasonCode)

	r = &Result{ConfidenceScore: 0.9}
	Assess(r, "short")
	assert.Equal(t, OutcomePartial, r.Outcome)
	assert.Equal(t, ReasonContentTooShort, r.ReasonCode)

	r = &Result{ConfidenceScore: 0.4}
	Assess(r, longBody)
	assert.Equal(t, OutcomePartial, r.Outcome)
	assert.Equal(t, ReasonLowConfidence, r.ReasonCode)
}

func TestAssess_CountsCharactersNotBytes(t *testing.T) {
	// 40 个汉字占 120 字节，仍应判为过短
	r := &Result{ConfidenceScore: 0.9}
	Assess(r, strings.Repeat("报告正文", 10))
	assert.Equal(t, OutcomePartial, r.Outcome)
	assert.Equal(t, ReasonContentTooShort, r.ReasonCode)

	r = &Result{ConfidenceScore: 0.9}
	Assess(r, strings.Repeat("报告正文", 25))
	assert.Equal(t, OutcomeSuccess, r.Outcome)
}

func TestRegistry_DuplicateAndLookup(t *testing.T) {
	gen := &fakeGen{out: longBody}
	a, err := NewReportAgent(ReportSpec{Name: "a", Prompt: "{{.Task}}"}, gen)
	require.NoError(t, err)
	b, err := NewReportAgent(ReportSpec{Name: "a", Prompt: "{{.Task}}"}, gen)
	require.NoError(t, err)

	_, err = NewRegistry(a, b)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArg))

	reg, err := NewRegistry(a, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	got, err := reg.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name())

	_, err = reg.Lookup("missing")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownAgent))
	_, ok := reg.Get("missing")
	assert.False(t, ok)
}

func TestDefaultRegistry_Catalog(t *testing.T) {
	reg, err := NewDefaultRegistry(&fakeGen{out: longBody})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"assessment_creator", "community_pulse", "competitive_intelligence", "curriculum_architect",
		"deep_evaluation", "executive_briefing", "integration_validator", "license_optimizer",
		"resource_curator", "risk_assessment", "technical_writer", "tool_discovery",
	}, reg.Names())

	// 每个 Agent 都能用缺省参数渲染 prompt，且不出现未定义字段
	for _, a := range reg.List() {
		params := map[string]interface{}{}
		if err := ValidateParams(a, params); err != nil {
			params["tool_name"] = "Copilot"
		}
		gen := &fakeGen{out: longBody}
		ra := a.(*ReportAgent)
		ra.gen = gen
		res, err := a.Run(context.Background(), "quarterly review", params)
		require.NoError(t, err, a.Name())
		assert.NotContains(t, gen.lastPrompt, "<no value>", a.Name())
		assert.Contains(t, gen.lastPrompt, "quarterly review", a.Name())
		assert.Equal(t, a.SystemPrompt(), gen.lastSystem)
		assert.Equal(t, OutcomeSuccess, res.Outcome, a.Name())
	}
}

func TestReportAgent_RequiredParams(t *testing.T) {
	reg, err := NewDefaultRegistry(&fakeGen{out: longBody})
	require.NoError(t, err)
	for _, name := range []string{"deep_evaluation", "risk_assessment", "competitive_intelligence"} {
		a, err := reg.Lookup(name)
		require.NoError(t, err)
		err = ValidateParams(a, map[string]interface{}{"tool_name": "  "})
		assert.True(t, errors.Is(err, apperrors.ErrInvalidArg), name)
		assert.NoError(t, ValidateParams(a, map[string]interface{}{"tool_name": "Cursor"}))

		_, err = a.Run(context.Background(), "t", nil)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidArg), name)
	}
}

func TestReportAgent_VariantFallback(t *testing.T) {
	gen := &fakeGen{out: longBody}
	reg, err := NewDefaultRegistry(gen)
	require.NoError(t, err)
	a, _ := reg.Lookup("executive_briefing")

	res, err := a.Run(context.Background(), "Q3 status", map[string]interface{}{"briefing_type": "risk_alert"})
	require.NoError(t, err)
	assert.Equal(t, "risk_alert", res.Metadata["variant"])
	assert.Contains(t, gen.lastPrompt, "Escalation Plan")
	assert.Nil(t, res.Metadata["variant_fallback"])

	res, err = a.Run(context.Background(), "Q3 status", map[string]interface{}{"briefing_type": "nonsense"})
	require.NoError(t, err)
	assert.Equal(t, "strategic_update", res.Metadata["variant"])
	assert.Equal(t, true, res.Metadata["variant_fallback"])
	assert.Contains(t, gen.lastPrompt, "Key Achievements")
	assert.Equal(t, 0.91, res.ConfidenceScore)
	assert.Equal(t, DefaultContentType, res.ContentType)
}

func TestReportAgent_DocumentAndOutcome(t *testing.T) {
	gen := &fakeGen{out: "too short"}
	a, err := NewReportAgent(ReportSpec{Name: "brief", Title: "Brief", Prompt: "{{.Task}}", Confidence: 0.9}, gen)
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "summarize", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, ReasonContentTooShort, res.ReasonCode)

	fm, body, err := SplitDocument(res.Content)
	require.NoError(t, err)
	assert.Equal(t, "Brief", fm["title"])
	assert.Equal(t, "brief", fm["agent"])
	assert.Equal(t, "fake-model", fm["model"])
	assert.Equal(t, "too short\n", body)
	assert.Equal(t, 2, res.Metadata["word_count"])

	low, err := NewReportAgent(ReportSpec{Name: "low", Prompt: "{{.Task}}", Confidence: 0.3}, &fakeGen{out: longBody})
	require.NoError(t, err)
	res, err = low.Run(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, ReasonLowConfidence, res.ReasonCode)
}

func TestReportAgent_GenerationErrorPropagates(t *testing.T) {
	genErr := apperrors.Wrap(apperrors.ErrGeneration, "upstream 529")
	a, err := NewReportAgent(ReportSpec{Name: "x", Prompt: "{{.Task}}"}, &fakeGen{err: genErr})
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "t", nil)
	assert.True(t, errors.Is(err, apperrors.ErrGeneration))
}

func TestNewReportAgent_Validation(t *testing.T) {
	gen := &fakeGen{}
	cases := []ReportSpec{
		{},
		{Name: "x"},
		{Name: "x", Prompt: "{{.Task"},
		{Name: "x", Prompt: "p", VariantParam: "kind"},
		{Name: "x", Prompt: "p", VariantParam: "kind", DefaultVariant: "b", Variants: map[string]Variant{"a": {}}},
	}
	for i, c := range cases {
		_, err := NewReportAgent(c, gen)
		assert.Error(t, err, "case %d", i)
	}
	_, err := NewReportAgent(ReportSpec{Name: "x", Prompt: "p"}, nil)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	reg, err := NewDefaultRegistry(&fakeGen{})
	require.NoError(t, err)
	a, _ := reg.Lookup("deep_evaluation")
	info := Describe(a)
	assert.Equal(t, "Deep Tool Evaluation", info.Title)
	require.NotEmpty(t, info.Params)
	assert.Equal(t, Param{Name: "tool_name", Required: true}, info.Params[0])

	b, _ := reg.Lookup("technical_writer")
	assert.Equal(t, []string{"case_study", "guide", "reference", "tutorial"}, Describe(b).Variants)
}
