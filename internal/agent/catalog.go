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
	_ "embed"

	"gopkg.in/yaml.v3"

	"strategy-center/internal/model/llm"
	apperrors "strategy-center/pkg/errors"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Agents []ReportSpec `yaml:"agents"`
}

// LoadCatalog 解析 YAML 目录
func LoadCatalog(data []byte) ([]ReportSpec, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Wrap(err, "parse agent catalog")
	}
	if len(f.Agents) == 0 {
		return nil, apperrors.Validation("agent catalog is empty")
	}
	return f.Agents, nil
}

// DefaultCatalog 内置目录
func DefaultCatalog() ([]ReportSpec, error) {
	return LoadCatalog(catalogYAML)
}

// NewRegistryFromSpecs 用同一个生成器为每个 spec 创建 ReportAgent
func NewRegistryFromSpecs(specs []ReportSpec, gen llm.Client) (*Registry, error) {
	agents := make([]Agent, 0, len(specs))
	for _, s := range specs {
		a, err := NewReportAgent(s, gen)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return NewRegistry(agents...)
}

// NewDefaultRegistry 内置 12 个报告 Agent
func NewDefaultRegistry(gen llm.Client) (*Registry, error) {
	specs, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return NewRegistryFromSpecs(specs, gen)
}
