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

// Package secrets 提供模型 API Key、JWT 签名密钥等凭据的读取，配置中以 "secret:<key>" 引用
package secrets

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"strategy-center/pkg/config"
)

// Store Secret 存储接口
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	// List 列出以 prefix 开头的 key
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewStore 按 provider 创建 Store：env（默认）| memory | vault
func NewStore(cfg config.SecretsConfig) (Store, error) {
	switch cfg.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(cfg.Vault)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}

// envStore 从进程环境变量读取；key 转大写并把 "." "-" "/" 换为 "_"
type envStore struct{}

// NewEnvStore 创建环境变量 secret store
func NewEnvStore() Store {
	return envStore{}
}

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_", "/", "_")

func envName(key string) string {
	return strings.ToUpper(envKeyReplacer.Replace(key))
}

func (envStore) Get(ctx context.Context, key string) (string, error) {
	value := os.Getenv(envName(key))
	if value == "" {
		return "", fmt.Errorf("environment variable not set: %s", envName(key))
	}
	return value, nil
}

func (envStore) Set(ctx context.Context, key string, value string) error {
	return os.Setenv(envName(key), value)
}

func (envStore) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(envName(key))
}

func (envStore) List(ctx context.Context, prefix string) ([]string, error) {
	p := envName(prefix)
	var keys []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, p) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// memoryStore 进程内存储，用于测试与本地开发
type memoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore 创建内存 secret store
func NewMemoryStore() Store {
	return &memoryStore{secrets: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return value, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.secrets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
