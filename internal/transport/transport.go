// Package transport orchestrates the SSRF guard, rate
// limiter, and retry policy around a single outbound HTTP call.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/connectorrt/runtime/internal/circuitbreaker"
	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/retry"
	"github.com/connectorrt/runtime/internal/ssrf"
)

// ErrCircuitOpen is returned when a connector's circuit breaker is open and
// the call is rejected without attempting the network.
var ErrCircuitOpen = errors.New("connector circuit breaker open")

// AcquireResult mirrors ratelimit.AcquireResult to avoid an import cycle in
// the interface declaration; ratelimit.AcquireResult satisfies this shape.
type AcquireResult struct {
	WaitMs   int64
	Attempts int
	Enforced bool
}

type retryPenaltyFunc = func(waitMs int64, scope connector.ConcurrencyScope)

// Metrics is the subset of prometheus collectors transport touches.
type Metrics struct {
	RetryTotal    *prometheus.CounterVec
	ThrottleTotal *prometheus.CounterVec
}

// Request is transport's request contract.
type Request struct {
	URL         string
	Method      string
	Headers     http.Header
	Body        []byte
	ConnectorID string
	Connection  string
	Org         string
	RateLimits  connector.RateLimits
	MaxAttempts int
	Timeout     time.Duration
	// OnResponse may parse a vendor Retry-After from a non-retryable-looking
	// response; returns 0 when no retry hint is present.
	OnResponse func(resp *http.Response, body []byte) (retryAfterMs int64)
}

// Outcome is transport's response contract.
type Outcome struct {
	Response         *http.Response
	Body             []byte
	Attempts         int
	BackoffEvents    []connector.BackoffEvent
	LimiterWaitMs    int64
	LimiterAttempts  int
	LastRetryAfterMs int64
}

// safetyChecker is the narrow slice of *ssrf.Guard that Transport depends
// on, injectable so tests can exercise retry/success behavior without
// routing through a real SSRF check against loopback test servers.
type safetyChecker interface {
	AssertSafe(ctx context.Context, rawURL string) ([]net.IP, error)
}

// Transport runs one logical call (with internal retries) through the SSRF
// guard, rate limiter, and retry policy.
type Transport struct {
	guard    safetyChecker
	limiter  *limiterAdapter
	retry    *retry.Policy
	client   *http.Client
	metrics  *Metrics
	breakers *circuitbreaker.Registry // nil = circuit breaking disabled
}

// limiterAdapter narrows *ratelimit.Limiter to the interface this package
// needs, set via New's functional construction to avoid importing
// ratelimit's concrete type (ratelimit has no dependency on transport, so
// this indirection exists purely to keep the dependency graph leaf-first).
type limiterAdapter struct {
	acquire func(ctx context.Context, connectorID, connection string, tokens int, rules connector.RateLimits) (AcquireResult, func(), error)
	penalty func(connectorID, connection string, rules connector.RateLimits) retryPenaltyFunc
}

// New builds a Transport. resolver primes the dnscache-backed dialer so the
// address SSRF-checked on the first attempt is the one the dialer connects
// to for the lifetime of the http.Transport's connection pool -- narrowing,
// though not eliminating, the DNS-rebinding TOCTOU window (see DESIGN.md).
func New(resolver *dnscache.Resolver, limiterAcquire func(ctx context.Context, connectorID, connection string, tokens int, rules connector.RateLimits) (AcquireResult, func(), error), limiterPenalty func(connectorID, connection string, rules connector.RateLimits) retryPenaltyFunc, metrics *Metrics) *Transport {
	return newWithGuard(ssrf.New(&dnscacheResolver{resolver}), &http.Client{Transport: newPooledTransport(resolver)}, limiterAcquire, limiterPenalty, metrics)
}

func newWithGuard(guard safetyChecker, client *http.Client, limiterAcquire func(ctx context.Context, connectorID, connection string, tokens int, rules connector.RateLimits) (AcquireResult, func(), error), limiterPenalty func(connectorID, connection string, rules connector.RateLimits) retryPenaltyFunc, metrics *Metrics) *Transport {
	return &Transport{
		guard:   guard,
		limiter: &limiterAdapter{acquire: limiterAcquire, penalty: limiterPenalty},
		retry:   retry.New(),
		client:  client,
		metrics: metrics,
	}
}

// WithCircuitBreaker attaches a per-connector circuit breaker registry.
// Calls are rejected with ErrCircuitOpen without touching the network while
// a connector's breaker is open. Returns t for chaining at construction time.
func (t *Transport) WithCircuitBreaker(registry *circuitbreaker.Registry) *Transport {
	t.breakers = registry
	return t
}

// dnscacheResolver adapts dnscache.Resolver to ssrf.Resolver.
type dnscacheResolver struct{ r *dnscache.Resolver }

func (d *dnscacheResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ips, err := d.r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func newPooledTransport(resolver *dnscache.Resolver) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil || len(ips) == 0 {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}
}

// Request executes a state machine: PRE -> LIMITED ->
// IN_FLIGHT -> DECIDE -> {DONE_OK, DONE_FAIL, RETRY}.
func (t *Transport) Request(ctx context.Context, req Request) (Outcome, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = retry.DefaultMaxAttempts
	}

	out := Outcome{}
	penalty := t.limiter.penalty(req.ConnectorID, req.Connection, req.RateLimits)

	var breaker *circuitbreaker.Breaker
	if t.breakers != nil {
		breaker = t.breakers.GetOrCreate(req.ConnectorID)
		if !breaker.Allow() {
			return out, fmt.Errorf("%w: %s", ErrCircuitOpen, req.ConnectorID)
		}
	}

	attempt := 0
	for {
		attempt++

		if attempt == 1 {
			if _, err := t.guard.AssertSafe(ctx, req.URL); err != nil {
				return out, err // SSRF denial is terminal, never retried
			}
		}

		acquireResult, release, err := t.limiter.acquire(ctx, req.ConnectorID, req.Connection, 1, req.RateLimits)
		if err != nil {
			return out, err
		}
		out.LimiterWaitMs += acquireResult.WaitMs
		out.LimiterAttempts += acquireResult.Attempts
		if acquireResult.WaitMs > 0 {
			out.BackoffEvents = append(out.BackoffEvents, connector.BackoffEvent{
				Type: connector.BackoffRateLimiter, WaitMs: acquireResult.WaitMs, Attempt: attempt,
				Reason: "rate_limited", LimiterAttempts: acquireResult.Attempts,
			})
			t.observeThrottle(req.ConnectorID)
		}

		resp, body, reqErr := t.doOnce(ctx, req)
		release()

		decideIn := retry.Input{Attempt: attempt, MaxAttempts: maxAttempts, Connector: req.ConnectorID, Connection: req.Connection, Org: req.Org}
		if reqErr != nil {
			decideIn.ErrKind = retry.ClassifyErrKind(reqErr)
		} else {
			decideIn.StatusCode = resp.StatusCode
			if req.OnResponse != nil {
				decideIn.RetryAfterMs = req.OnResponse(resp, body)
			}
		}

		decision := t.retry.Decide(decideIn)
		out.Attempts = attempt

		if !decision.ShouldRetry {
			out.Response = resp
			out.Body = body
			if breaker != nil {
				recordBreakerOutcome(breaker, resp, reqErr)
			}
			if reqErr != nil {
				return out, reqErr
			}
			return out, nil
		}

		out.BackoffEvents = append(out.BackoffEvents, connector.BackoffEvent{
			Type: connector.BackoffHTTPRetry, WaitMs: decision.WaitMs, Attempt: attempt,
			Reason: decision.Reason, StatusCode: decideIn.StatusCode,
		})
		out.LastRetryAfterMs = decideIn.RetryAfterMs
		t.observeRetry(req.ConnectorID, decision.Reason)

		if decision.PenaltyMs > 0 {
			penalty(decision.PenaltyMs, decision.PenaltyScope)
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(time.Duration(decision.WaitMs) * time.Millisecond):
		}
	}
}

func (t *Transport) doOnce(ctx context.Context, req Request) (*http.Response, []byte, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header = req.Headers.Clone()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}

// recordBreakerOutcome feeds the final attempt's result to breaker, weighting
// by status code when there's a response, or treating a network-level error
// as a full-weight failure.
func recordBreakerOutcome(breaker *circuitbreaker.Breaker, resp *http.Response, reqErr error) {
	if reqErr != nil {
		breaker.RecordError(1.0)
		return
	}
	weight := circuitbreaker.ClassifyStatus(resp.StatusCode)
	if weight == 0 {
		breaker.RecordSuccess()
		return
	}
	breaker.RecordError(weight)
}

func (t *Transport) observeRetry(connectorID, reason string) {
	slog.Debug("connector_retry_event", "connector", connectorID, "reason", reason)
	if t.metrics != nil && t.metrics.RetryTotal != nil {
		t.metrics.RetryTotal.WithLabelValues(connectorID, reason).Inc()
	}
}

func (t *Transport) observeThrottle(connectorID string) {
	slog.Debug("connector_throttle_event", "connector", connectorID)
	if t.metrics != nil && t.metrics.ThrottleTotal != nil {
		t.metrics.ThrottleTotal.WithLabelValues(connectorID).Inc()
	}
}
