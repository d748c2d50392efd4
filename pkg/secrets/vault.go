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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"strategy-center/pkg/config"
)

// vaultStore 基于 Vault KV v2：数据写在 <prefix>/data/<key> 的 "value" 字段
type vaultStore struct {
	client     *vault.Client
	pathPrefix string
}

// NewVaultStore 创建 Vault secret store；Token 为空时读取 VAULT_TOKEN
func NewVaultStore(cfg config.VaultConfig) (Store, error) {
	vc := vault.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token != "" {
		client.SetToken(token)
	}
	prefix := strings.Trim(cfg.PathPrefix, "/")
	if prefix == "" {
		prefix = "secret"
	}
	return &vaultStore{client: client, pathPrefix: prefix}, nil
}

func (v *vaultStore) dataPath(key string) string {
	return fmt.Sprintf("%s/data/%s", v.pathPrefix, key)
}

func (v *vaultStore) metadataPath(key string) string {
	return fmt.Sprintf("%s/metadata/%s", v.pathPrefix, key)
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.dataPath(key))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	data, _ := secret.Data["data"].(map[string]interface{})
	if data == nil {
		data = secret.Data
	}
	if val, ok := data["value"].(string); ok {
		return val, nil
	}
	return "", fmt.Errorf("secret value not found: %s", key)
}

func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	_, err := v.client.Logical().WriteWithContext(ctx, v.dataPath(key), map[string]interface{}{
		"data": map[string]interface{}{"value": value},
	})
	if err != nil {
		return fmt.Errorf("failed to write secret to vault: %w", err)
	}
	return nil
}

func (v *vaultStore) Delete(ctx context.Context, key string) error {
	if _, err := v.client.Logical().DeleteWithContext(ctx, v.metadataPath(key)); err != nil {
		return fmt.Errorf("failed to delete secret from vault: %w", err)
	}
	return nil
}

func (v *vaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	secret, err := v.client.Logical().ListWithContext(ctx, v.metadataPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets from vault: %w", err)
	}
	if secret == nil {
		return nil, nil
	}
	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			out = append(out, joinKey(prefix, s))
		}
	}
	return out, nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}
