package budget

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectorrt/runtime/internal/connector"
)

func TestCheckBudgetAllowsWithNoLimitsConfigured(t *testing.T) {
	tr := New(nil)
	res := tr.CheckBudget(5, "org1", "", "")
	assert.True(t, res.Allowed)
}

func TestCheckBudgetBlocksAtDailyCap(t *testing.T) {
	tr := New(nil)
	tr.SetLimits("org1", Limits{DailyLimitUSD: 10})
	tr.RecordUsage(connector.UsageRecord{OrganizationID: "org1", CostUSD: 9, Ts: time.Now()})

	res := tr.CheckBudget(2, "org1", "", "")
	require.False(t, res.Allowed)
	assert.Equal(t, "daily_limit_exceeded", res.Reason)
}

func TestCheckBudgetEmergencyStopFiresBeforeHardCap(t *testing.T) {
	tr := New(nil)
	tr.SetLimits("org1", Limits{DailyLimitUSD: 100, EmergencyStopPct: 90})
	tr.RecordUsage(connector.UsageRecord{OrganizationID: "org1", CostUSD: 85, Ts: time.Now()})

	res := tr.CheckBudget(10, "org1", "", "")
	require.False(t, res.Allowed)
	assert.Equal(t, "emergency_stop_daily", res.Reason)
}

func TestCheckBudgetPerUserDailyLimit(t *testing.T) {
	tr := New(nil)
	tr.SetLimits("org1", Limits{PerUserDailyLimitUSD: 5})
	tr.RecordUsage(connector.UsageRecord{OrganizationID: "org1", UserID: "u1", CostUSD: 4, Ts: time.Now()})

	res := tr.CheckBudget(2, "org1", "u1", "")
	require.False(t, res.Allowed)
	assert.Equal(t, "per_user_daily_limit_exceeded", res.Reason)
}

func TestRecordUsageFiresAlertOnceCumulativelyPerThreshold(t *testing.T) {
	var fired []float64
	tr := New(func(orgID string, fraction, spent, limit float64) { fired = append(fired, fraction) })
	tr.SetLimits("org1", Limits{DailyLimitUSD: 10, AlertThresholds: []float64{0.5, 0.9}})

	tr.RecordUsage(connector.UsageRecord{OrganizationID: "org1", CostUSD: 6, Ts: time.Now()})
	tr.RecordUsage(connector.UsageRecord{OrganizationID: "org1", CostUSD: 1, Ts: time.Now()})

	require.Len(t, fired, 1)
	assert.Equal(t, 0.5, fired[0])
}

func TestTopModelsRanksByCallCount(t *testing.T) {
	tr := New(nil)
	now := time.Now()
	tr.RecordUsage(connector.UsageRecord{Model: "gpt", CostUSD: 1, Ts: now})
	tr.RecordUsage(connector.UsageRecord{Model: "gpt", CostUSD: 1, Ts: now})
	tr.RecordUsage(connector.UsageRecord{Model: "claude", CostUSD: 1, Ts: now})

	top := tr.TopModels(now.Add(-time.Hour), 10)
	require.NotEmpty(t, top)
	assert.Equal(t, "gpt", top[0].Key)
	assert.Equal(t, 2, top[0].Count)
}

func TestCacheKeyIsContentAddressed(t *testing.T) {
	k1 := CacheKey("openai", "gpt-4", "hello")
	k2 := CacheKey("openai", "gpt-4", "hello")
	k3 := CacheKey("openai", "gpt-4", "world")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestCacheGetCheckedExpiryOnRead(t *testing.T) {
	c := NewCache(10)
	c.Put(connector.CacheEntry{Key: "k1", Ts: time.Now().Add(-2 * time.Hour), TTL: time.Hour})
	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestCacheEvictsOldestLastAccessedAtCapacity(t *testing.T) {
	c := NewCache(2)
	now := time.Now()
	c.Put(connector.CacheEntry{Key: "a", Ts: now, LastAccessed: now.Add(-3 * time.Minute)})
	c.Put(connector.CacheEntry{Key: "b", Ts: now, LastAccessed: now.Add(-2 * time.Minute)})
	// touch "a" so it is no longer the least-recently-accessed
	c.Get("a")
	c.Put(connector.CacheEntry{Key: "c", Ts: now, LastAccessed: now})

	_, hasB := c.Get("b")
	_, hasA := c.Get("a")
	assert.False(t, hasB)
	assert.True(t, hasA)
	assert.Equal(t, 2, c.Len())
}

// Property 5: inserting one more entry than capacity always evicts exactly
// the key with the oldest LastAccessed among those inserted, never a
// more-recently-touched one.
func TestCacheEvictsExactlyOldestLastAccessedProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("eviction victim is always the minimum LastAccessed key", prop.ForAll(
		func(n int, touchLast bool) bool {
			c := NewCache(n)
			base := time.Now()
			for i := 0; i < n; i++ {
				c.Put(connector.CacheEntry{Key: fmt.Sprintf("k%d", i), Ts: base, LastAccessed: base.Add(time.Duration(i) * time.Minute)})
			}
			// k0 has the oldest LastAccessed; optionally touch it so it is
			// no longer the oldest, then the next-oldest (k1) should evict.
			victim := "k0"
			if touchLast {
				c.Get("k0")
				victim = "k1"
			}
			c.Put(connector.CacheEntry{Key: "new", Ts: base, LastAccessed: base.Add(time.Duration(n+1) * time.Minute)})
			_, stillThere := c.Get(victim)
			return !stillThere
		},
		gen.IntRange(2, 10),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
