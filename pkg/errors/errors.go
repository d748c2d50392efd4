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

// Package errors 提供统一错误分类与包装，不依赖 internal；上层用 errors.Is 判断类别并映射为 HTTP 状态码
package errors

import (
	"errors"
	"fmt"
)

// 哨兵错误：每个代表一类可被调用方区分处理的失败
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidArg   = errors.New("invalid argument")
	ErrUnknownAgent = errors.New("unknown agent")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	ErrGeneration   = errors.New("generation failed")
	ErrTimeout      = errors.New("timeout")
	ErrUnauthorized = errors.New("unauthorized")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Validation 构造参数校验错误，errors.Is(err, ErrInvalidArg) 为 true
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArg, fmt.Sprintf(format, args...))
}

// NotFound 构造资源不存在错误，如 NotFound("job", id)
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// InvalidState 构造状态不允许错误，如 InvalidState("approval %s already %s", id, st)
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Forbidden 构造权限不足错误
func Forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Is 透传标准库 errors.Is，便于调用方只引入本包
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 透传标准库 errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Kind 返回错误所属的类别名（unknown_agent / validation / not_found / invalid_state / forbidden / generation / timeout），无法归类时返回 "internal"
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownAgent):
		return "unknown_agent"
	case errors.Is(err, ErrInvalidArg):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrGeneration):
		return "generation"
	default:
		return "internal"
	}
}
