package ratelimit

import (
	"sync"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// Registry is the local-fallback per-key bucket store, used only during a
// shared-store outage.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// NewRegistry returns an empty local-fallback registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*Bucket)}
}

// GetOrCreate returns the bucket for key, creating it from rules on first use.
func (r *Registry) GetOrCreate(key string, rules connector.RateLimits) *Bucket {
	r.mu.RLock()
	b, ok := r.buckets[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	rate, capacity, _ := Derive(rules)

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.buckets[key]; ok {
		return b
	}
	b = newBucket(rate, capacity)
	r.buckets[key] = b
	return b
}

// EvictStale removes buckets untouched since before cutoff, bounding memory
// growth from one-off connection ids.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, b := range r.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(r.buckets, k)
			removed++
		}
	}
	return removed
}
