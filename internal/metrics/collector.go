// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/reclip/reclip/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 会话指标
	sessionsTotal   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	sessionsActive  prometheus.Gauge

	// Clip 指标
	clipJobsTotal *prometheus.CounterVec
	clipCost      *prometheus.CounterVec

	// 供应商指标
	providerPolls *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished clone sessions",
		},
		[]string{"provider", "status"},
	)

	c.sessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "End-to-end session duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"provider"},
	)

	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently running",
		},
	)

	// Clip 指标
	c.clipJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clip_jobs_total",
			Help:      "Total number of finished clip generation jobs",
		},
		[]string{"provider", "model", "status"},
	)

	c.clipCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clip_cost_usd_total",
			Help:      "Accrued generation cost in USD",
		},
		[]string{"provider", "model"},
	)

	// 供应商指标
	c.providerPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_polls_total",
			Help:      "Total number of provider status polls",
		},
		[]string{"provider"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🎬 会话与 Clip 指标记录（实现 engine.Observer）
// =============================================================================

// SessionFinished 记录会话终态
func (c *Collector) SessionFinished(status types.SessionStatus, provider types.ProviderID, elapsed time.Duration) {
	c.sessionsTotal.WithLabelValues(string(provider), string(status)).Inc()
	c.sessionDuration.WithLabelValues(string(provider)).Observe(elapsed.Seconds())
}

// ClipFinished 记录 clip 终态与成本累计
func (c *Collector) ClipFinished(provider types.ProviderID, model types.ModelID, status types.ClipStatus, cost float64) {
	c.clipJobsTotal.WithLabelValues(string(provider), string(model), string(status)).Inc()
	if cost > 0 {
		c.clipCost.WithLabelValues(string(provider), string(model)).Add(cost)
	}
}

// SessionStarted / SessionSettled 维护在跑会话数
func (c *Collector) SessionStarted() { c.sessionsActive.Inc() }
func (c *Collector) SessionSettled() { c.sessionsActive.Dec() }

// RecordProviderPoll 记录一次供应商轮询
func (c *Collector) RecordProviderPoll(provider types.ProviderID) {
	c.providerPolls.WithLabelValues(string(provider)).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
