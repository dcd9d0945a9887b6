// Package budget implements per-organization spend enforcement,
// usage recording, a content-addressed response cache, and on-demand spend
// analytics.
package budget

import (
	"sync"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// Limits configures one organization's budget ladder.
type Limits struct {
	DailyLimitUSD         float64
	MonthlyLimitUSD       float64
	EmergencyStopPct      float64 // percentage of daily/monthly at which calls are hard-stopped
	PerUserDailyLimitUSD  float64
	PerWorkflowLimitUSD   float64
	AlertThresholds       []float64 // fractions of the relevant cap, e.g. [0.5, 0.8, 0.95]
}

// CheckResult is checkBudget's return contract.
type CheckResult struct {
	Allowed bool
	Reason  string
	Status  string // "ok" | "warning" | "blocked"
}

// AlertFunc is invoked when recording usage crosses an AlertThresholds entry.
type AlertFunc func(orgID string, fraction float64, spentUSD, limitUSD float64)

// window tracks running spend for one period. It holds no timer of its own:
// it is cleared externally by ResetDaily/ResetMonthly, which the
// RunDailyReset and RunMonthlyReset loops call.
type window struct {
	spentUSD      float64
	perUserUSD    map[string]float64
	perWorkflowUSD map[string]float64
	alerted       map[float64]bool
}

func newWindow() *window {
	return &window{perUserUSD: map[string]float64{}, perWorkflowUSD: map[string]float64{}, alerted: map[float64]bool{}}
}

// Tracker enforces Limits per organization and records usage against it.
type Tracker struct {
	mu      sync.Mutex
	limits  map[string]Limits
	daily   map[string]*window
	monthly map[string]*window
	records []connector.UsageRecord
	alert   AlertFunc
}

// New returns a Tracker. alert may be nil to disable threshold notifications.
func New(alert AlertFunc) *Tracker {
	return &Tracker{
		limits:  map[string]Limits{},
		daily:   map[string]*window{},
		monthly: map[string]*window{},
		alert:   alert,
	}
}

// SetLimits configures (or replaces) one organization's budget ladder.
func (t *Tracker) SetLimits(orgID string, limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[orgID] = limits
}

// CheckBudget implements the ordered enforcement ladder: emergency stop,
// then daily cap, then monthly cap, then per-user daily, then per-workflow.
func (t *Tracker) CheckBudget(estimateUSD float64, orgID, userID, workflowID string) CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	limits, ok := t.limits[orgID]
	if !ok {
		return CheckResult{Allowed: true, Status: "ok"}
	}

	d := t.windowFor(t.daily, orgID)
	m := t.windowFor(t.monthly, orgID)

	if limits.EmergencyStopPct > 0 {
		if limits.DailyLimitUSD > 0 && (d.spentUSD+estimateUSD) >= limits.DailyLimitUSD*limits.EmergencyStopPct/100 {
			return CheckResult{Allowed: false, Reason: "emergency_stop_daily", Status: "blocked"}
		}
		if limits.MonthlyLimitUSD > 0 && (m.spentUSD+estimateUSD) >= limits.MonthlyLimitUSD*limits.EmergencyStopPct/100 {
			return CheckResult{Allowed: false, Reason: "emergency_stop_monthly", Status: "blocked"}
		}
	}
	if limits.DailyLimitUSD > 0 && d.spentUSD+estimateUSD > limits.DailyLimitUSD {
		return CheckResult{Allowed: false, Reason: "daily_limit_exceeded", Status: "blocked"}
	}
	if limits.MonthlyLimitUSD > 0 && m.spentUSD+estimateUSD > limits.MonthlyLimitUSD {
		return CheckResult{Allowed: false, Reason: "monthly_limit_exceeded", Status: "blocked"}
	}
	if limits.PerUserDailyLimitUSD > 0 && userID != "" && d.perUserUSD[userID]+estimateUSD > limits.PerUserDailyLimitUSD {
		return CheckResult{Allowed: false, Reason: "per_user_daily_limit_exceeded", Status: "blocked"}
	}
	if limits.PerWorkflowLimitUSD > 0 && workflowID != "" && d.perWorkflowUSD[workflowID]+estimateUSD > limits.PerWorkflowLimitUSD {
		return CheckResult{Allowed: false, Reason: "per_workflow_limit_exceeded", Status: "blocked"}
	}

	return CheckResult{Allowed: true, Status: "ok"}
}

// RecordUsage appends record, updates the daily/monthly aggregates, and
// fires alert when a configured threshold is newly crossed.
func (t *Tracker) RecordUsage(record connector.UsageRecord) {
	t.mu.Lock()
	t.records = append(t.records, record)

	limits, hasLimits := t.limits[record.OrganizationID]
	d := t.windowFor(t.daily, record.OrganizationID)
	m := t.windowFor(t.monthly, record.OrganizationID)

	d.spentUSD += record.CostUSD
	m.spentUSD += record.CostUSD
	if record.UserID != "" {
		d.perUserUSD[record.UserID] += record.CostUSD
	}
	if record.WorkflowID != "" {
		d.perWorkflowUSD[record.WorkflowID] += record.CostUSD
	}

	var fire []func()
	if hasLimits {
		fire = append(fire, t.crossedThresholds(record.OrganizationID, limits.AlertThresholds, d.spentUSD, limits.DailyLimitUSD, d.alerted)...)
	}
	t.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

func (t *Tracker) crossedThresholds(orgID string, thresholds []float64, spent, limit float64, alerted map[float64]bool) []func() {
	if t.alert == nil || limit <= 0 {
		return nil
	}
	var fns []func()
	fraction := spent / limit
	for _, th := range thresholds {
		if fraction >= th && !alerted[th] {
			alerted[th] = true
			th, spent, limit := th, spent, limit
			fns = append(fns, func() { t.alert(orgID, th, spent, limit) })
		}
	}
	return fns
}

func (t *Tracker) windowFor(m map[string]*window, orgID string) *window {
	w, ok := m[orgID]
	if !ok {
		w = newWindow()
		m[orgID] = w
	}
	return w
}

// ResetDaily clears every organization's daily window; called by
// RunDailyReset once every 24 hours.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.daily = map[string]*window{}
}

// ResetMonthly clears every organization's monthly window.
func (t *Tracker) ResetMonthly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.monthly = map[string]*window{}
}

// PruneRecords drops usage records older than cutoff, implementing the
// 90-day retention sweep's record-level half.
func (t *Tracker) PruneRecords(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.records[:0]
	dropped := 0
	for _, r := range t.records {
		if r.Ts.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	t.records = kept
	return dropped
}
