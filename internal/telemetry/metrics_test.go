package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.CacheHits == nil {
		t.Error("CacheHits is nil")
	}
	if m.CacheMisses == nil {
		t.Error("CacheMisses is nil")
	}
	if m.RateLimitRejects == nil {
		t.Error("RateLimitRejects is nil")
	}
	if m.RetryTotal == nil {
		t.Error("RetryTotal is nil")
	}
	if m.ThrottleTotal == nil {
		t.Error("ThrottleTotal is nil")
	}
	if m.BudgetBlocks == nil {
		t.Error("BudgetBlocks is nil")
	}
	if m.AuditWriteErrors == nil {
		t.Error("AuditWriteErrors is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/v1/execute", "200").Inc()
	m.CacheHits.Inc()
	m.CacheMisses.Inc()
	m.ActiveRequests.Set(5)
	m.RequestDuration.WithLabelValues("POST", "/v1/execute").Observe(0.123)
	m.RetryTotal.WithLabelValues("slack", "status_429").Inc()
	m.ThrottleTotal.WithLabelValues("slack").Inc()
	m.BudgetBlocks.WithLabelValues("org-1", "daily_limit_exceeded").Inc()
	m.AuditWriteErrors.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"connectorrt_requests_total",
		"connectorrt_cache_hits_total",
		"connectorrt_cache_misses_total",
		"connectorrt_active_requests",
		"connectorrt_request_duration_seconds",
		"connectorrt_retry_total",
		"connectorrt_throttle_total",
		"connectorrt_budget_blocks_total",
		"connectorrt_audit_write_errors_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

func TestMetricsTransportView(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	tm := m.Transport()
	if tm.RetryTotal != m.RetryTotal {
		t.Error("Transport().RetryTotal should be the same collector as Metrics.RetryTotal")
	}
	if tm.ThrottleTotal != m.ThrottleTotal {
		t.Error("Transport().ThrottleTotal should be the same collector as Metrics.ThrottleTotal")
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
