// Package telemetry provides observability primitives for the connector
// execution runtime.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connectorrt/runtime/internal/transport"
)

// Metrics holds all Prometheus collectors for the runtime.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	RateLimitRejects *prometheus.CounterVec // labels: type (rps, rpm, rph, rpd)
	RetryTotal       *prometheus.CounterVec // labels: connector, reason
	ThrottleTotal    *prometheus.CounterVec // labels: connector
	BudgetBlocks     *prometheus.CounterVec // labels: org, reason
	AuditWriteErrors prometheus.Counter     // best-effort audit write failures
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "connectorrt",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "connectorrt",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		RetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "retry_total",
			Help:      "Total retry attempts made by the transport layer.",
		}, []string{"connector", "reason"}),

		ThrottleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "throttle_total",
			Help:      "Total calls delayed by the rate limiter.",
		}, []string{"connector"}),

		BudgetBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "budget_blocks_total",
			Help:      "Total calls blocked by the budget ladder.",
		}, []string{"org", "reason"}),

		AuditWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "connectorrt",
			Name:      "audit_write_errors_total",
			Help:      "Total audit log write failures (entries are dropped, never block execution).",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.RetryTotal,
		m.ThrottleTotal,
		m.BudgetBlocks,
		m.AuditWriteErrors,
	)

	return m
}

// Transport returns the transport.Metrics view backed by this Metrics'
// RetryTotal/ThrottleTotal collectors, so transport.New shares one registry.
func (m *Metrics) Transport() *transport.Metrics {
	return &transport.Metrics{RetryTotal: m.RetryTotal, ThrottleTotal: m.ThrottleTotal}
}
