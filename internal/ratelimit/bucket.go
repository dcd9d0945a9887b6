// Package ratelimit implements the per-(connector,connection) token
// bucket rate limiter: a shared Redis tier backed by an atomic Lua script,
// with a local in-process fallback used only while the shared store is
// unreachable.
package ratelimit

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// BoundRate clamps a computed refill rate into [0.1, 1000] requests/second,
// per the token-bucket invariant.
func BoundRate(rate float64) float64 {
	switch {
	case rate < 0.1:
		return 0.1
	case rate > 1000:
		return 1000
	default:
		return rate
	}
}

// Derive computes (rate, capacity, ttl) from a connector/operation's merged
// rate-limit rules: rate = bounded min(rps, rpm/60,
// rph/3600, rpd/86400); capacity = max(1, burst ?? ceil(3*rate)); ttl =
// max(60s, 2*capacity/rate).
func Derive(rules connector.RateLimits) (rate float64, capacity int, ttl time.Duration) {
	candidates := make([]float64, 0, 4)
	if rules.RPS > 0 {
		candidates = append(candidates, rules.RPS)
	}
	if rules.RPM > 0 {
		candidates = append(candidates, rules.RPM/60)
	}
	if rules.RPH > 0 {
		candidates = append(candidates, rules.RPH/3600)
	}
	if rules.RPD > 0 {
		candidates = append(candidates, rules.RPD/86400)
	}
	if len(candidates) == 0 {
		rate = 1 // one request per second when a connector declares no policy
	} else {
		rate = candidates[0]
		for _, c := range candidates[1:] {
			if c < rate {
				rate = c
			}
		}
	}
	rate = BoundRate(rate)

	capacity = rules.Burst
	if capacity <= 0 {
		capacity = int(ceil(3 * rate))
	}
	if capacity < 1 {
		capacity = 1
	}

	ttlSeconds := 2 * float64(capacity) / rate
	ttl = time.Duration(ttlSeconds * float64(time.Second))
	if ttl < 60*time.Second {
		ttl = 60 * time.Second
	}
	return rate, capacity, ttl
}

func ceil(f float64) float64 {
	i := float64(int64(f))
	if f > i {
		return i + 1
	}
	return i
}

var keySanitizer = regexp.MustCompile(`[^a-z0-9:_-]`)

// Key builds the bucket key "rate:{connector}:{connection|global}", with
// both segments normalized to [a-z0-9:_-].
func Key(connectorID, connection string) string {
	if connection == "" {
		connection = "global"
	}
	return "rate:" + normalizeID(connectorID) + ":" + normalizeID(connection)
}

func normalizeID(s string) string {
	return keySanitizer.ReplaceAllString(strings.ToLower(s), "-")
}

// Bucket is the local-fallback, lazily-refilled token bucket.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

func newBucket(rate float64, capacity int) *Bucket {
	return &Bucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		rate:       rate,
		lastRefill: time.Now(),
	}
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryConsume attempts to remove k tokens, returning whether it succeeded.
func (b *Bucket) tryConsume(k float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	if b.tokens >= k {
		b.tokens -= k
		return true
	}
	return false
}

// retryAfter returns how long the caller should wait before the next k
// tokens are likely available.
func (b *Bucket) retryAfter(k float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	deficit := k - b.tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit/b.rate*float64(time.Second)) + 1
}

// penalize subtracts a capacity-equivalent number of tokens so subsequent
// acquires naturally stall, per schedulePenalty.
func (b *Bucket) penalize(waitMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	deduction := float64(waitMs) / 1000 * b.rate
	b.tokens -= deduction
	if b.tokens < 0 {
		b.tokens = 0
	}
}
