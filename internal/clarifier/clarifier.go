// Package clarifier guards the out-of-scope LLM planner / follow-up
// question generation with a budget check, the way the teacher's
// ProxyService consults a circuit breaker registry before dispatching:
// an optional, nil-able collaborator checked first, never the thing doing
// the actual work.
package clarifier

import "github.com/connectorrt/runtime/internal/budget"

// BudgetChecker is the narrow slice of the budget tracker the clarifier depends on.
type BudgetChecker interface {
	CheckBudget(estimateUSD float64, orgID, userID, workflowID string) budget.CheckResult
}

// Clarifier decides whether the planner may proceed with a clarifying-question
// or planning call before it spends any tokens.
type Clarifier struct {
	budget BudgetChecker
}

// New returns a Clarifier. A nil budget checker allows every call through,
// matching the teacher's nil-circuit-breaker-means-unguarded convention.
func New(checker BudgetChecker) *Clarifier {
	return &Clarifier{budget: checker}
}

// Decision is Allow's return contract.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow checks whether a planner call estimated at estimateUSD may proceed
// for the given tenant. The planner itself is out of scope; this is purely
// the budget gate in front of it.
func (c *Clarifier) Allow(estimateUSD float64, orgID, userID, workflowID string) Decision {
	if c.budget == nil {
		return Decision{Allowed: true}
	}
	res := c.budget.CheckBudget(estimateUSD, orgID, userID, workflowID)
	return Decision{Allowed: res.Allowed, Reason: res.Reason}
}
