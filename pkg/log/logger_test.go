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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := NewLogger(&Config{Level: "warn", File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("dropped")
	l.Warn("kept", "job_id", "j1")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"job_id":"j1"`) {
		t.Errorf("expected JSON field job_id, got %s", out)
	}
	if l.LevelVar().Level() != slog.LevelWarn {
		t.Errorf("LevelVar = %v", l.LevelVar().Level())
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error("nothing happens")
	if l.With("k", "v") == nil {
		t.Fatal("With should return a logger")
	}
}
