package budget

import (
	"sort"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// RankedCount is one entry of a topX analytics result.
type RankedCount struct {
	Key   string
	Count int
	Cost  float64
}

// DayCost is one day's total spend, keyed by its YYYY-MM-DD label.
type DayCost struct {
	Day      string
	CostUSD  float64
}

// TopModels ranks models by call count over records with ts >= since.
func (t *Tracker) TopModels(since time.Time, limit int) []RankedCount {
	return t.topBy(since, limit, func(r connector.UsageRecord) string { return r.Model })
}

// TopProviders ranks providers by call count over records with ts >= since.
func (t *Tracker) TopProviders(since time.Time, limit int) []RankedCount {
	return t.topBy(since, limit, func(r connector.UsageRecord) string { return r.Provider })
}

// TopUsers ranks users by call count over records with ts >= since.
func (t *Tracker) TopUsers(since time.Time, limit int) []RankedCount {
	return t.topBy(since, limit, func(r connector.UsageRecord) string { return r.UserID })
}

// TopWorkflows ranks workflows by call count over records with ts >= since.
func (t *Tracker) TopWorkflows(since time.Time, limit int) []RankedCount {
	return t.topBy(since, limit, func(r connector.UsageRecord) string { return r.WorkflowID })
}

func (t *Tracker) topBy(since time.Time, limit int, key func(connector.UsageRecord) string) []RankedCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := map[string]*RankedCount{}
	for _, r := range t.records {
		if r.Ts.Before(since) {
			continue
		}
		k := key(r)
		if k == "" {
			continue
		}
		entry, ok := agg[k]
		if !ok {
			entry = &RankedCount{Key: k}
			agg[k] = entry
		}
		entry.Count++
		entry.Cost += r.CostUSD
	}

	out := make([]RankedCount, 0, len(agg))
	for _, v := range agg {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CostByDay buckets spend by calendar day (UTC) for records with ts >= since.
func (t *Tracker) CostByDay(since time.Time) []DayCost {
	t.mu.Lock()
	defer t.mu.Unlock()

	byDay := map[string]float64{}
	for _, r := range t.records {
		if r.Ts.Before(since) {
			continue
		}
		day := r.Ts.UTC().Format("2006-01-02")
		byDay[day] += r.CostUSD
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]DayCost, 0, len(days))
	for _, d := range days {
		out = append(out, DayCost{Day: d, CostUSD: byDay[d]})
	}
	return out
}
