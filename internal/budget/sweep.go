package budget

import (
	"context"
	"log/slog"
	"time"
)

// RunExpiredCacheSweep runs cache.SweepExpired on an hourly tick until ctx
// is canceled. Intended to be launched as one of the worker goroutines at
// startup.
func RunExpiredCacheSweep(ctx context.Context, cache *Cache) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := cache.SweepExpired()
			if removed > 0 {
				slog.Debug("budget_cache_sweep", "removed", removed)
			}
		}
	}
}

// RunRetentionSweep prunes usage records older than retention on a daily
// tick until ctx is canceled.
func RunRetentionSweep(ctx context.Context, tracker *Tracker, retention time.Duration) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			dropped := tracker.PruneRecords(cutoff)
			if dropped > 0 {
				slog.Debug("budget_retention_sweep", "dropped", dropped)
			}
		}
	}
}

// RunDailyReset clears every organization's daily spend window once every
// 24 hours until ctx is canceled.
func RunDailyReset(ctx context.Context, tracker *Tracker) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tracker.ResetDaily()
			slog.Debug("budget_daily_reset")
		}
	}
}

// RunMonthlyReset clears every organization's monthly spend window once a
// calendar month boundary is crossed. Checked hourly rather than on a fixed
// 30-day tick so the reset lands close to midnight on the 1st.
func RunMonthlyReset(ctx context.Context, tracker *Tracker) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	lastMonth := time.Now().UTC().Month()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if m := now.UTC().Month(); m != lastMonth {
				lastMonth = m
				tracker.ResetMonthly()
				slog.Debug("budget_monthly_reset")
			}
		}
	}
}
