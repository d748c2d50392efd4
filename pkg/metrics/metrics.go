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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobSubmittedTotal, JobFinishedTotal, JobDuration, JobsRunning,
		ApprovalDecisionTotal, OrphanReclaimedTotal, SchedulerClaimTotal, WakeupDroppedTotal,
		LLMRequestDuration, LLMErrorTotal, RateLimitWaitSeconds,
		HTTPRequestTotal,
	)
}

// JobSubmittedTotal 提交的 Job 数（按 agent）
var JobSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sc_job_submitted_total",
		Help: "提交的 Job 总数",
	},
	[]string{"agent"},
)

// JobFinishedTotal 进入终态的 Job 数
var JobFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sc_job_finished_total",
		Help: "进入终态的 Job 总数",
	},
	[]string{"agent", "status"}, // completed | failed | cancelled
)

// JobDuration Job 执行耗时（秒），从 RUNNING 到终态
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sc_job_duration_seconds",
		Help:    "Job 执行耗时（秒）",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"agent"},
)

// JobsRunning 当前进程内正在执行的 Job 数
var JobsRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "sc_jobs_running",
		Help: "当前正在执行的 Job 数",
	},
)

// ApprovalDecisionTotal 审批决定数
var ApprovalDecisionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sc_approval_decision_total",
		Help: "审批决定总数",
	},
	[]string{"action"}, // approve | reject
)

// OrphanReclaimedTotal 被判定为孤儿并标记失败的 Job 数
var OrphanReclaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sc_orphan_reclaimed_total",
		Help: "被回收的孤儿 Job 总数",
	},
)

// WakeupDroppedTotal 因缓冲已满被丢弃的唤醒通知数；对应 Job 由轮询认领
var WakeupDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sc_wakeup_dropped_total",
		Help: "被丢弃的调度唤醒通知总数",
	},
)

// SchedulerClaimTotal 调度器 Claim 尝试次数
var SchedulerClaimTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sc_scheduler_claim_total",
		Help: "Scheduler Claim 尝试次数",
	},
	[]string{"success"}, // true | false
)

// LLMRequestDuration 文本生成调用耗时（秒）
var LLMRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sc_llm_request_duration_seconds",
		Help:    "LLM 调用耗时（秒）",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"provider", "model"},
)

// LLMErrorTotal 文本生成失败次数
var LLMErrorTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sc_llm_error_total",
		Help: "LLM 调用失败总数",
	},
	[]string{"provider"},
)

// RateLimitWaitSeconds 限流等待耗时（秒）
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sc_rate_limit_wait_seconds",
		Help:    "限流等待耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "name"}, // llm | http
)

// HTTPRequestTotal HTTP 请求数（按路由与状态码）
var HTTPRequestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sc_http_request_total",
		Help: "HTTP 请求总数",
	},
	[]string{"method", "route", "code"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	mfs, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
