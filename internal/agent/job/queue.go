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

package job

import (
	"strings"

	apperrors "strategy-center/pkg/errors"
)

// 请求优先级名称
const (
	PriorityNameLow    = "low"
	PriorityNameMedium = "medium"
	PriorityNameHigh   = "high"
)

// Priority 数值越大越先被认领；同优先级按 CreatedAt 先进先出
const (
	PriorityHigh   = 10
	PriorityMedium = 0
	PriorityLow    = -5
)

// ParsePriority 解析优先级名称；空串为 medium
func ParsePriority(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PriorityNameMedium:
		return PriorityMedium, nil
	case PriorityNameHigh:
		return PriorityHigh, nil
	case PriorityNameLow:
		return PriorityLow, nil
	default:
		return 0, apperrors.Validation("unknown priority %q (want low, medium or high)", name)
	}
}

// PriorityName 返回优先级数值对应的名称
func PriorityName(p int) string {
	switch {
	case p >= PriorityHigh:
		return PriorityNameHigh
	case p <= PriorityLow:
		return PriorityNameLow
	default:
		return PriorityNameMedium
	}
}
