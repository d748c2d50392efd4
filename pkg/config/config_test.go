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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9000
  host: "127.0.0.1"
log:
  level: "debug"
scheduler:
  max_concurrency: 5
  job_timeout: "90s"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port: got %d", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host: got %q", cfg.API.Host)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
	if cfg.Scheduler.MaxConcurrency != 5 {
		t.Errorf("Scheduler.MaxConcurrency: got %d", cfg.Scheduler.MaxConcurrency)
	}
	if d := ParseDuration(cfg.Scheduler.JobTimeout, time.Second); d != 90*time.Second {
		t.Errorf("JobTimeout: got %v", d)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Scheduler.MaxConcurrency != 3 {
		t.Errorf("default max_concurrency: got %d", cfg.Scheduler.MaxConcurrency)
	}
	if cfg.Approval.RejectionPolicy != "retain" || cfg.Approval.PreviewChars != 500 {
		t.Errorf("approval defaults: %+v", cfg.Approval)
	}
	if cfg.Model.MaxTokens != 4000 || cfg.Model.Temperature != 0.3 {
		t.Errorf("model defaults: %+v", cfg.Model)
	}
	if !cfg.SchedulerEnabled() {
		t.Error("memory store should enable in-process scheduler by default")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SCHEDULER_MAX_CONCURRENCY", "7")
	t.Setenv("SC_TEST_ANTHROPIC_KEY", "sk-test")
	cfg, err := LoadConfig(writeConfig(t, `
model:
  api_key: "${SC_TEST_ANTHROPIC_KEY}"
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Scheduler.MaxConcurrency != 7 {
		t.Errorf("env override: got %d", cfg.Scheduler.MaxConcurrency)
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Errorf("api key env substitution: got %q", cfg.Model.APIKey)
	}
}

func TestResolveSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Model.APIKey = "secret:anthropic"
	cfg.API.Middleware.JWTKey = "plain"
	lookup := func(_ context.Context, key string) (string, error) {
		if key == "anthropic" {
			return "resolved", nil
		}
		return "", errors.New("missing")
	}
	if err := cfg.ResolveSecrets(context.Background(), lookup); err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}
	if cfg.Model.APIKey != "resolved" {
		t.Errorf("APIKey: got %q", cfg.Model.APIKey)
	}
	if cfg.API.Middleware.JWTKey != "plain" {
		t.Errorf("non-secret value changed: %q", cfg.API.Middleware.JWTKey)
	}

	cfg.Wakeup.Password = "secret:redis"
	if err := cfg.ResolveSecrets(context.Background(), lookup); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestSchedulerEnabled_Postgres(t *testing.T) {
	cfg := &Config{JobStore: JobStoreConfig{Type: "postgres"}}
	if cfg.SchedulerEnabled() {
		t.Error("postgres store should default to external worker")
	}
	on := true
	cfg.Scheduler.Enabled = &on
	if !cfg.SchedulerEnabled() {
		t.Error("explicit enabled should win")
	}
}

func TestParseDuration(t *testing.T) {
	if ParseDuration("", time.Second) != time.Second {
		t.Error("empty should fall back")
	}
	if ParseDuration("garbage", time.Second) != time.Second {
		t.Error("invalid should fall back")
	}
	if ParseDuration("-5s", time.Second) != time.Second {
		t.Error("negative should fall back")
	}
	if ParseDuration("250ms", time.Second) != 250*time.Millisecond {
		t.Error("valid duration not parsed")
	}
}

func TestLoadConfig_ShippedFiles(t *testing.T) {
	api, err := LoadConfig(filepath.Join("..", "..", "configs", "api.yaml"))
	if err != nil {
		t.Fatalf("api.yaml: %v", err)
	}
	if api.JobStore.Type != "memory" || !api.SchedulerEnabled() {
		t.Errorf("api.yaml should run the scheduler in-process: %+v", api.JobStore)
	}
	worker, err := LoadConfig(filepath.Join("..", "..", "configs", "worker.yaml"))
	if err != nil {
		t.Fatalf("worker.yaml: %v", err)
	}
	if worker.JobStore.Type != "postgres" || worker.Wakeup.Type != "redis" {
		t.Errorf("worker.yaml: jobstore=%q wakeup=%q", worker.JobStore.Type, worker.Wakeup.Type)
	}
	if worker.Monitoring.Prometheus.Port != 9100 {
		t.Errorf("worker probe port: got %d", worker.Monitoring.Prometheus.Port)
	}
}
