package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ── HTTP ──
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsgrowth_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hsgrowth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ── 自动化 ──
	dispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsgrowth_automation_dispatched_total",
			Help: "Executions created by the trigger dispatcher",
		},
		[]string{"trigger"},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsgrowth_automation_executions_total",
			Help: "Finished automation executions by outcome",
		},
		[]string{"outcome"},
	)

	executionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hsgrowth_automation_execution_duration_seconds",
			Help:    "Automation execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	actionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsgrowth_automation_action_failures_total",
			Help: "Failed automation actions by action type",
		},
		[]string{"action"},
	)

	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsgrowth_automation_sweeps_total",
			Help: "Scheduled rule sweeps by result (fired, not_due, lost_race)",
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hsgrowth_automation_queue_depth",
			Help: "Pending executions waiting in the in-process queue",
		},
	)

	// ── 转移审批 ──
	approvalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsgrowth_transfer_approval_decisions_total",
			Help: "Transfer approval transitions by resulting status",
		},
		[]string{"status"},
	)
)

// RecordHTTPRequest 记录一次 HTTP 请求
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordDispatch 记录派发的执行数；trigger 为 event 或 schedule
func RecordDispatch(trigger string, n int) {
	if n <= 0 {
		return
	}
	dispatchedTotal.WithLabelValues(trigger).Add(float64(n))
}

// RecordExecution 记录执行终态
func RecordExecution(outcome string, d time.Duration) {
	executionsTotal.WithLabelValues(outcome).Inc()
	executionDuration.Observe(d.Seconds())
}

// RecordActionFailure 记录单个动作失败
func RecordActionFailure(action string) {
	actionFailuresTotal.WithLabelValues(action).Inc()
}

// RecordSweep 记录定时规则巡检结果
func RecordSweep(result string) {
	sweepsTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth 更新内存队列积压
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordApprovalDecision 记录审批状态迁移
func RecordApprovalDecision(status string, n int64) {
	if n <= 0 {
		return
	}
	approvalDecisionsTotal.WithLabelValues(status).Add(float64(n))
}

// Handler Prometheus 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}
