package worker

import (
	"context"
	"time"

	"github.com/connectorrt/runtime/internal/budget"
	"github.com/connectorrt/runtime/internal/circuitbreaker"
	"github.com/connectorrt/runtime/internal/ratelimit"
)

// CacheSweepWorker evicts expired response-cache entries on an hourly tick.
type CacheSweepWorker struct {
	cache *budget.Cache
}

// NewCacheSweepWorker creates a CacheSweepWorker over cache.
func NewCacheSweepWorker(cache *budget.Cache) *CacheSweepWorker {
	return &CacheSweepWorker{cache: cache}
}

// Name returns the worker identifier.
func (w *CacheSweepWorker) Name() string { return "cache_sweep" }

// Run blocks until ctx is cancelled, sweeping expired cache entries.
func (w *CacheSweepWorker) Run(ctx context.Context) error {
	budget.RunExpiredCacheSweep(ctx, w.cache)
	return nil
}

// RetentionSweepWorker prunes usage records older than a fixed retention
// window on a daily tick.
type RetentionSweepWorker struct {
	tracker   *budget.Tracker
	retention time.Duration
}

// NewRetentionSweepWorker creates a RetentionSweepWorker pruning records
// older than retention.
func NewRetentionSweepWorker(tracker *budget.Tracker, retention time.Duration) *RetentionSweepWorker {
	return &RetentionSweepWorker{tracker: tracker, retention: retention}
}

// Name returns the worker identifier.
func (w *RetentionSweepWorker) Name() string { return "retention_sweep" }

// Run blocks until ctx is cancelled, pruning aged usage records.
func (w *RetentionSweepWorker) Run(ctx context.Context) error {
	budget.RunRetentionSweep(ctx, w.tracker, w.retention)
	return nil
}

// BudgetResetWorker clears organizations' daily and monthly spend windows
// as each period rolls over.
type BudgetResetWorker struct {
	tracker *budget.Tracker
}

// NewBudgetResetWorker creates a BudgetResetWorker over tracker.
func NewBudgetResetWorker(tracker *budget.Tracker) *BudgetResetWorker {
	return &BudgetResetWorker{tracker: tracker}
}

// Name returns the worker identifier.
func (w *BudgetResetWorker) Name() string { return "budget_reset" }

// Run blocks until ctx is cancelled, running both the daily and monthly
// reset loops concurrently.
func (w *BudgetResetWorker) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		budget.RunDailyReset(ctx, w.tracker)
		close(done)
	}()
	budget.RunMonthlyReset(ctx, w.tracker)
	<-done
	return nil
}

const rateLimitEvictInterval = time.Hour
const rateLimitEvictAge = 10 * time.Minute

// RateLimitEvictWorker bounds the memory of the local-fallback limiter
// registry by periodically dropping buckets untouched past a cutoff.
type RateLimitEvictWorker struct {
	limiter *ratelimit.Limiter
}

// NewRateLimitEvictWorker creates a RateLimitEvictWorker over limiter.
func NewRateLimitEvictWorker(limiter *ratelimit.Limiter) *RateLimitEvictWorker {
	return &RateLimitEvictWorker{limiter: limiter}
}

// Name returns the worker identifier.
func (w *RateLimitEvictWorker) Name() string { return "rate_limit_evict" }

// Run blocks until ctx is cancelled, evicting stale buckets hourly.
func (w *RateLimitEvictWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(rateLimitEvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.limiter.EvictStale(time.Now().Add(-rateLimitEvictAge))
		}
	}
}

const breakerEvictInterval = time.Hour
const breakerEvictAge = 30 * time.Minute

// CircuitBreakerEvictWorker bounds the memory of a circuit breaker registry
// by periodically dropping breakers for connectors that haven't been called
// recently.
type CircuitBreakerEvictWorker struct {
	breakers *circuitbreaker.Registry
}

// NewCircuitBreakerEvictWorker creates a CircuitBreakerEvictWorker over breakers.
func NewCircuitBreakerEvictWorker(breakers *circuitbreaker.Registry) *CircuitBreakerEvictWorker {
	return &CircuitBreakerEvictWorker{breakers: breakers}
}

// Name returns the worker identifier.
func (w *CircuitBreakerEvictWorker) Name() string { return "circuit_breaker_evict" }

// Run blocks until ctx is cancelled, evicting stale breakers hourly.
func (w *CircuitBreakerEvictWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(breakerEvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.breakers.EvictStale(time.Now().Add(-breakerEvictAge))
		}
	}
}
