package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// AcquireResult is the concrete return shape of the acquire contract,
// minus the release hook which Acquire returns alongside it.
type AcquireResult struct {
	WaitMs   int64
	Attempts int
	Enforced bool
}

// Release is reserved for future in-flight concurrency accounting; currently
// a no-op.
type Release func()

// PenaltyFunc is the one-way capability the transport holds so it can drain
// a bucket, by the PenaltyMs the retry policy decided, after a
// vendor-signaled saturation without importing *Limiter directly.
type PenaltyFunc func(waitMs int64, scope connector.ConcurrencyScope)

// Limiter is a shared Redis tier with a local-fallback tier used only
// while the shared store is unreachable.
type Limiter struct {
	shared *SharedStore
	local  *Registry

	outageWarned atomic.Bool
	mu           sync.Mutex
}

// New returns a Limiter. shared may be nil to run purely on the local
// fallback (e.g. in tests or a single-node deployment).
func New(shared *SharedStore) *Limiter {
	return &Limiter{shared: shared, local: NewRegistry()}
}

// Acquire blocks (subject to ctx) until a token for (connectorID, connection)
// is available, or ctx is done. tokens defaults to 1 when <= 0.
func (l *Limiter) Acquire(ctx context.Context, connectorID, connection string, tokens int, rules connector.RateLimits) (AcquireResult, Release, error) {
	if tokens <= 0 {
		tokens = 1
	}
	key := Key(connectorID, connection)
	rate, capacity, ttl := Derive(rules)

	var totalWait int64
	attempts := 0
	enforced := false

	for {
		attempts++
		allowed, retry, usedShared, err := l.tryOnce(ctx, key, capacity, rate, float64(tokens), ttl, rules)
		if err != nil {
			return AcquireResult{}, noopRelease, err
		}
		if !usedShared {
			enforced = true
		}
		if allowed {
			return AcquireResult{WaitMs: totalWait, Attempts: attempts, Enforced: enforced}, noopRelease, nil
		}

		wait := retry
		if wait < 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		totalWait += wait.Milliseconds()

		select {
		case <-ctx.Done():
			return AcquireResult{}, noopRelease, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func noopRelease() {}

// tryOnce attempts the shared tier first, falling back to the local bucket
// on any shared-store error, with a single warning per outage.
func (l *Limiter) tryOnce(ctx context.Context, key string, capacity int, rate, tokens float64, ttl time.Duration, rules connector.RateLimits) (allowed bool, retry time.Duration, usedShared bool, err error) {
	if l.shared != nil {
		res, shErr := l.shared.acquire(ctx, key, capacity, rate, tokens, ttl)
		if shErr == nil {
			if l.outageWarned.CompareAndSwap(true, false) {
				slog.Info("ratelimit shared store recovered", "key", key)
			}
			return res.Allowed, time.Duration(res.RetryMs) * time.Millisecond, true, nil
		}
		if l.outageWarned.CompareAndSwap(false, true) {
			slog.Warn("ratelimit shared store unreachable, falling back to local bucket", "key", key, "error", shErr)
		}
	}

	b := l.local.GetOrCreate(key, rules)
	if b.tryConsume(tokens) {
		return true, 0, false, nil
	}
	return false, b.retryAfter(tokens), false, nil
}

// SchedulePenalty deducts (waitMs/1000)*rate tokens from
// whichever bucket governs (connectorID, connection) so subsequent acquires
// naturally stall: the shared tier when it's reachable (the same bucket
// Acquire drains from on every call), falling back to the local bucket on a
// shared-store error or when running local-fallback-only.
func (l *Limiter) SchedulePenalty(connectorID, connection string, waitMs int64, rules connector.RateLimits) {
	key := Key(connectorID, connection)
	rate, capacity, ttl := Derive(rules)

	if l.shared != nil {
		err := l.shared.penalize(context.Background(), key, capacity, rate, waitMs, ttl)
		if err == nil {
			return
		}
		if l.outageWarned.CompareAndSwap(false, true) {
			slog.Warn("ratelimit shared store unreachable, applying penalty to local bucket", "key", key, "error", err)
		}
	}

	b := l.local.GetOrCreate(key, rules)
	b.penalize(waitMs)
}

// Penalty returns a PenaltyFunc bound to one (connectorID, connection) pair,
// the capability object the transport applies retry penalties through.
func (l *Limiter) Penalty(connectorID, connection string, rules connector.RateLimits) PenaltyFunc {
	return func(waitMs int64, scope connector.ConcurrencyScope) {
		if scope == connector.ScopeConnector {
			l.SchedulePenalty(connectorID, "global", waitMs, rules)
			return
		}
		l.SchedulePenalty(connectorID, connection, waitMs, rules)
	}
}

// EvictStale prunes the local-fallback registry; intended to run on a
// periodic worker (internal/worker).
func (l *Limiter) EvictStale(cutoff time.Time) int {
	return l.local.EvictStale(cutoff)
}
