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
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWakeupKey Redis 列表键
const DefaultWakeupKey = "strategy-center:wakeup"

// wakeupMaxLen 列表上限，消费者长时间离线时截断旧通知
const wakeupMaxLen = 1024

// WakeupQueueRedis 基于 Redis 列表（LPUSH / BRPOP），API 与 Worker 分进程部署时使用
type WakeupQueueRedis struct {
	client redis.UniversalClient
	key    string
}

// RedisWakeupConfig 连接配置
type RedisWakeupConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewWakeupQueueRedis 创建并 Ping Redis
func NewWakeupQueueRedis(ctx context.Context, cfg RedisWakeupConfig) (*WakeupQueueRedis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewWakeupQueueRedisWithClient(client, cfg.Key), nil
}

// NewWakeupQueueRedisWithClient 复用已有客户端
func NewWakeupQueueRedisWithClient(client redis.UniversalClient, key string) *WakeupQueueRedis {
	if key == "" {
		key = DefaultWakeupKey
	}
	return &WakeupQueueRedis{client: client, key: key}
}

// NotifyReady 实现 WakeupQueue
func (q *WakeupQueueRedis) NotifyReady(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key, jobID)
	pipe.LTrim(ctx, q.key, 0, wakeupMaxLen-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Receive 实现 WakeupQueue；BRPOP 超时或出错时返回 ("", false)
func (q *WakeupQueueRedis) Receive(ctx context.Context, timeout time.Duration) (string, bool) {
	if timeout < time.Second {
		// BRPOP 超时精度为秒
		timeout = time.Second
	}
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			// 连接异常时退化为按 timeout 轮询，避免空转
			select {
			case <-time.After(timeout):
			case <-ctx.Done():
			}
		}
		return "", false
	}
	if len(res) != 2 {
		return "", false
	}
	return res[1], true
}

// Close 关闭客户端
func (q *WakeupQueueRedis) Close() error {
	return q.client.Close()
}
