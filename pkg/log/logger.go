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

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger 简单封装，供 internal 使用
type Logger struct {
	*slog.Logger
	out   io.Writer
	level *slog.LevelVar
}

// Config 日志配置（可与 config 包对接）
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ParseLevel 将 debug/info/warn/error 转为 slog.Level，未知值按 info
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 根据配置创建 Logger，cfg 可为 nil 使用默认
func NewLogger(cfg *Config) (*Logger, error) {
	levelVar := &slog.LevelVar{}
	var out io.Writer = os.Stdout
	if cfg != nil {
		levelVar.Set(ParseLevel(cfg.Level))
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("打开日志文件失败: %w", err)
			}
			out = f
		}
	}
	opts := &slog.HandlerOptions{Level: levelVar}
	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if cfg != nil && cfg.Format == "text" {
		h = slog.NewTextHandler(out, opts)
	}
	return &Logger{Logger: slog.New(h), out: out, level: levelVar}, nil
}

// NewNop 丢弃全部输出，供测试与未配置日志的组件使用
func NewNop() *Logger {
	levelVar := &slog.LevelVar{}
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelVar})),
		out:    io.Discard,
		level:  levelVar,
	}
}

// Output 返回日志输出目标，供 Hertz 等框架日志与应用日志写到同一处
func (l *Logger) Output() io.Writer {
	if l == nil || l.out == nil {
		return os.Stdout
	}
	return l.out
}

// LevelVar 返回可动态调整的日志级别
func (l *Logger) LevelVar() *slog.LevelVar {
	if l == nil || l.level == nil {
		lv := &slog.LevelVar{}
		lv.Set(slog.LevelInfo)
		return lv
	}
	return l.level
}

// With 返回附加了固定字段的子 Logger
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), out: l.out, level: l.level}
}
