// Package residency is a pure lookup from organization id to
// its data-residency posture, consulted by the executor to tag audit
// entries. It never changes how or where an HTTP call is routed.
package residency

import (
	"context"
	"sync"

	"github.com/connectorrt/runtime/internal/connector"
)

// DefaultRegion is used whenever an organization has no residency record.
const DefaultRegion = "us"

// Store owns the org -> ResidencyReport table; a real deployment backs this
// with the organization repository, not an in-memory map, but the executor
// only ever sees the Router interface.
type Store interface {
	Get(ctx context.Context, orgID string) (*connector.ResidencyReport, bool, error)
}

// Router is residency's executor-facing surface.
type Router struct {
	store Store
}

// New returns a Router backed by store.
func New(store Store) *Router {
	return &Router{store: store}
}

// GetResidencyReport resolves a residency report: region defaults to "us"
// when the organization is unknown or unconfigured.
func (r *Router) GetResidencyReport(ctx context.Context, orgID string) (*connector.ResidencyReport, bool) {
	if orgID == "" || r.store == nil {
		return &connector.ResidencyReport{Region: DefaultRegion}, true
	}
	report, ok, err := r.store.Get(ctx, orgID)
	if err != nil || !ok {
		return &connector.ResidencyReport{Region: DefaultRegion}, true
	}
	return report, true
}

// InMemoryStore is a Store backed by a plain map, useful for tests and for
// curator-managed static residency tables.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*connector.ResidencyReport
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reports: map[string]*connector.ResidencyReport{}}
}

// Set registers orgID's residency report.
func (s *InMemoryStore) Set(orgID string, report *connector.ResidencyReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[orgID] = report
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, orgID string) (*connector.ResidencyReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[orgID]
	return report, ok, nil
}
