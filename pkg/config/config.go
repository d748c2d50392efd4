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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Auth       AuthConfig       `mapstructure:"auth"`
	JobStore   JobStoreConfig   `mapstructure:"jobstore"`
	Wakeup     WakeupConfig     `mapstructure:"wakeup"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Model      ModelConfig      `mapstructure:"model"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
	Grpc       GrpcConfig       `mapstructure:"grpc"`
}

// GrpcConfig gRPC 健康检查服务配置
type GrpcConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	RateLimit     bool   `mapstructure:"rate_limit"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "24h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "24h"
}

// AuthConfig 用户与引导管理员配置
type AuthConfig struct {
	BootstrapAdmin BootstrapAdminConfig `mapstructure:"bootstrap_admin"`
}

// BootstrapAdminConfig 启动时若不存在则创建的管理员账号；Email 为空表示不创建
type BootstrapAdminConfig struct {
	Email    string `mapstructure:"email"`
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

// JobStoreConfig Job/Approval/User 存储配置
type JobStoreConfig struct {
	Type        string `mapstructure:"type"` // memory | postgres
	DSN         string `mapstructure:"dsn"`  // Postgres 连接串，type=postgres 时必填
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// WakeupConfig 唤醒队列配置；redis 用于 API 与 Worker 分进程部署
type WakeupConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// SchedulerConfig 调度器并发、超时与孤儿回收
type SchedulerConfig struct {
	// Enabled 为 false 时 API 不启动进程内 Scheduler，由独立 Worker 执行；未配置时 memory 存储默认 true
	Enabled         *bool  `mapstructure:"enabled"`
	MaxConcurrency  int    `mapstructure:"max_concurrency"`
	JobTimeout      string `mapstructure:"job_timeout"`
	PollInterval    string `mapstructure:"poll_interval"`
	ReclaimInterval string `mapstructure:"reclaim_interval"`
	OrphanGrace     string `mapstructure:"orphan_grace"`
}

// ApprovalConfig 审批策略
type ApprovalConfig struct {
	RejectionPolicy string `mapstructure:"rejection_policy"` // retain | redact
	PreviewChars    int    `mapstructure:"preview_chars"`
}

// ModelConfig 文本生成模型配置
type ModelConfig struct {
	Provider          string  `mapstructure:"provider"` // claude | openai | echo
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	Timeout           string  `mapstructure:"timeout"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// SecretsConfig secret 存储配置；配置值以 "secret:" 开头时经此解析
type SecretsConfig struct {
	Provider string      `mapstructure:"provider"` // env | memory | vault
	Vault    VaultConfig `mapstructure:"vault"`
}

// VaultConfig Vault 连接配置
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.middleware.rate_limit_rps", 50)
	v.SetDefault("api.middleware.jwt_timeout", "24h")
	v.SetDefault("api.middleware.jwt_max_refresh", "24h")
	v.SetDefault("api.grpc.port", 9090)
	v.SetDefault("jobstore.type", "memory")
	v.SetDefault("wakeup.type", "memory")
	v.SetDefault("wakeup.key", "strategy-center:wakeup")
	v.SetDefault("scheduler.max_concurrency", 3)
	v.SetDefault("scheduler.job_timeout", "300s")
	v.SetDefault("scheduler.poll_interval", "2s")
	v.SetDefault("scheduler.reclaim_interval", "1m")
	v.SetDefault("scheduler.orphan_grace", "60s")
	v.SetDefault("approval.rejection_policy", "retain")
	v.SetDefault("approval.preview_chars", 500)
	v.SetDefault("model.provider", "claude")
	v.SetDefault("model.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("model.max_tokens", 4000)
	v.SetDefault("model.temperature", 0.3)
	v.SetDefault("model.timeout", "120s")
	v.SetDefault("model.requests_per_minute", 50)
	v.SetDefault("model.max_concurrent", 3)
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 加载配置文件；环境变量按 "." → "_" 覆盖同名键（如 SCHEDULER_MAX_CONCURRENCY）
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// expandEnv 将 "${NAME}" 形式的值替换为环境变量；未设置时保持原值
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	if val := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")); val != "" {
		return val
	}
	return s
}

// replaceEnvVars 替换配置中的环境变量引用
func replaceEnvVars(config *Config) {
	for _, p := range config.secretFields() {
		*p = expandEnv(*p)
	}
	config.Secrets.Vault.Token = expandEnv(config.Secrets.Vault.Token)
}

// secretFields 返回可能携带凭据的字段，供 ${ENV} 与 secret: 解析共用
func (c *Config) secretFields() []*string {
	return []*string{
		&c.Model.APIKey,
		&c.API.Middleware.JWTKey,
		&c.Auth.BootstrapAdmin.Password,
		&c.JobStore.DSN,
		&c.Wakeup.Password,
	}
}

// SecretPrefix 配置值前缀，表示从 secret store 读取
const SecretPrefix = "secret:"

// SecretLookup 按 key 读取 secret，签名与 secrets.Store.Get 一致
type SecretLookup func(ctx context.Context, key string) (string, error)

// ResolveSecrets 将 "secret:<key>" 形式的配置值替换为 lookup 返回的内容
func (c *Config) ResolveSecrets(ctx context.Context, lookup SecretLookup) error {
	if lookup == nil {
		return nil
	}
	for _, p := range c.secretFields() {
		if !strings.HasPrefix(*p, SecretPrefix) {
			continue
		}
		key := strings.TrimPrefix(*p, SecretPrefix)
		val, err := lookup(ctx, key)
		if err != nil {
			return fmt.Errorf("解析 secret %q 失败: %w", key, err)
		}
		*p = val
	}
	return nil
}

// SchedulerEnabled 返回是否在 API 进程内启动 Scheduler；未显式配置时仅 memory 存储启用
func (c *Config) SchedulerEnabled() bool {
	if c.Scheduler.Enabled != nil {
		return *c.Scheduler.Enabled
	}
	return c.JobStore.Type != "postgres"
}

// ParseDuration 解析时长字符串，无效或空时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml，可用 SC_API_CONFIG 覆盖路径）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig(pathFromEnv("SC_API_CONFIG", "configs/api.yaml"))
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml，可用 SC_WORKER_CONFIG 覆盖路径）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig(pathFromEnv("SC_WORKER_CONFIG", "configs/worker.yaml"))
}

func pathFromEnv(env, def string) string {
	if p := os.Getenv(env); p != "" {
		return p
	}
	return def
}
