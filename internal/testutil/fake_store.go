package testutil

import (
	"context"
	"sync"

	"github.com/connectorrt/runtime/internal/connector"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu          sync.RWMutex
	keysByHash  map[string]*connector.APIKey
	definitions map[string]*connector.ConnectorDefinition
	residency   map[string]*connector.ResidencyReport
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keysByHash:  make(map[string]*connector.APIKey),
		definitions: make(map[string]*connector.ConnectorDefinition),
		residency:   make(map[string]*connector.ResidencyReport),
	}
}

// AddKey inserts an API key into the fake store, keyed by its hash.
func (s *FakeStore) AddKey(k *connector.APIKey) {
	s.mu.Lock()
	s.keysByHash[k.KeyHash] = k
	s.mu.Unlock()
}

// AddDefinition inserts a connector definition into the fake store.
func (s *FakeStore) AddDefinition(d *connector.ConnectorDefinition) {
	s.mu.Lock()
	s.definitions[d.ID] = d
	s.mu.Unlock()
}

// --- APIKeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, key *connector.APIKey) error {
	s.AddKey(key)
	return nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*connector.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keysByHash[hash]
	if !ok {
		return nil, connector.ErrNotFound
	}
	return k, nil
}

func (s *FakeStore) ListKeys(_ context.Context, orgID string, _, _ int) ([]*connector.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*connector.APIKey
	for _, k := range s.keysByHash {
		if k.OrgID == orgID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateKey(_ context.Context, key *connector.APIKey) error {
	s.AddKey(key)
	return nil
}

func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, k := range s.keysByHash {
		if k.ID == id {
			delete(s.keysByHash, hash)
			return nil
		}
	}
	return connector.ErrNotFound
}

func (s *FakeStore) TouchKeyUsed(context.Context, string) error { return nil }

// --- DefinitionStore ---

func (s *FakeStore) Get(_ context.Context, connectorID string) (*connector.ConnectorDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[connectorID]
	if !ok {
		return nil, connector.ErrNotFound
	}
	return d, nil
}

func (s *FakeStore) List(context.Context) ([]*connector.ConnectorDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*connector.ConnectorDefinition, 0, len(s.definitions))
	for _, d := range s.definitions {
		out = append(out, d)
	}
	return out, nil
}

func (s *FakeStore) PutDefinition(_ context.Context, def *connector.ConnectorDefinition) error {
	s.AddDefinition(def)
	return nil
}

func (s *FakeStore) DeleteDefinition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.definitions, id)
	return nil
}

// --- UsageStore ---

func (s *FakeStore) InsertUsage(context.Context, []connector.UsageRecord) error { return nil }
func (s *FakeStore) SumUsageCost(context.Context, string) (float64, error)      { return 0, nil }

// --- OrgStore ---

func (s *FakeStore) CreateOrg(context.Context, *connector.Organization) error { return nil }
func (s *FakeStore) GetOrg(context.Context, string) (*connector.Organization, error) {
	return nil, connector.ErrNotFound
}
func (s *FakeStore) ListOrgs(context.Context, int, int) ([]*connector.Organization, error) {
	return nil, nil
}
func (s *FakeStore) UpdateOrg(context.Context, *connector.Organization) error { return nil }
func (s *FakeStore) DeleteOrg(context.Context, string) error                 { return nil }
func (s *FakeStore) CreateTeam(context.Context, *connector.Team) error       { return nil }
func (s *FakeStore) GetTeam(context.Context, string) (*connector.Team, error) {
	return nil, connector.ErrNotFound
}
func (s *FakeStore) ListTeams(context.Context, string, int, int) ([]*connector.Team, error) {
	return nil, nil
}
func (s *FakeStore) UpdateTeam(context.Context, *connector.Team) error { return nil }
func (s *FakeStore) DeleteTeam(context.Context, string) error         { return nil }

// --- ResidencyStore ---

func (s *FakeStore) GetResidency(_ context.Context, orgID string) (*connector.ResidencyReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.residency[orgID]
	return r, ok, nil
}

func (s *FakeStore) PutResidency(_ context.Context, orgID string, report *connector.ResidencyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.residency[orgID] = report
	return nil
}

func (s *FakeStore) Close() error { return nil }
