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
	"fmt"
	"sort"

	apperrors "strategy-center/pkg/errors"
)

// Registry name → Agent，构建后只读，可被任意 goroutine 并发读取
type Registry struct {
	agents map[string]Agent
	names  []string
}

// NewRegistry 构建注册表；名称为空或重复时返回错误
func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if a == nil {
			continue
		}
		name := a.Name()
		if name == "" {
			return nil, apperrors.Validation("agent name is empty")
		}
		if _, dup := r.agents[name]; dup {
			return nil, apperrors.Validation("duplicate agent %q", name)
		}
		r.agents[name] = a
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get 按名称查找
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Lookup 按名称查找，不存在返回 ErrUnknownAgent
func (r *Registry) Lookup(name string) (Agent, error) {
	if a, ok := r.agents[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("agent %q: %w", name, apperrors.ErrUnknownAgent)
}

// Names 已注册名称（升序）
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// List 已注册 Agent（按名称升序）
func (r *Registry) List() []Agent {
	out := make([]Agent, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.agents[n])
	}
	return out
}

// Len 注册数量
func (r *Registry) Len() int { return len(r.names) }
