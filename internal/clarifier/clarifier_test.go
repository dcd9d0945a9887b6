package clarifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/connectorrt/runtime/internal/budget"
)

type fakeChecker struct {
	result budget.CheckResult
}

func (f fakeChecker) CheckBudget(estimateUSD float64, orgID, userID, workflowID string) budget.CheckResult {
	return f.result
}

func TestAllowNilCheckerAlwaysAllows(t *testing.T) {
	c := New(nil)
	d := c.Allow(1, "org1", "", "")
	assert.True(t, d.Allowed)
}

func TestAllowDelegatesToBudgetChecker(t *testing.T) {
	c := New(fakeChecker{result: budget.CheckResult{Allowed: false, Reason: "daily_limit_exceeded"}})
	d := c.Allow(1, "org1", "", "")
	assert.False(t, d.Allowed)
	assert.Equal(t, "daily_limit_exceeded", d.Reason)
}
