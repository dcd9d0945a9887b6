// Package storage defines persistence interfaces for the connector execution
// runtime's control plane: API keys, organizations/teams, connector
// definitions, usage records, and residency configuration.
package storage

import (
	"context"

	"github.com/connectorrt/runtime/internal/connector"
)

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *connector.APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*connector.APIKey, error)
	ListKeys(ctx context.Context, orgID string, offset, limit int) ([]*connector.APIKey, error)
	UpdateKey(ctx context.Context, key *connector.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// DefinitionStore manages connector definition persistence. It embeds
// connector.DefinitionRepository (the executor's read-only view) and adds
// the admin-surface write path.
type DefinitionStore interface {
	connector.DefinitionRepository
	PutDefinition(ctx context.Context, def *connector.ConnectorDefinition) error
	DeleteDefinition(ctx context.Context, id string) error
}

// UsageStore manages usage record persistence, the durable backing for the
// in-memory budget tracker.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []connector.UsageRecord) error
	SumUsageCost(ctx context.Context, orgID string) (float64, error)
}

// OrgStore manages organization and team persistence.
type OrgStore interface {
	CreateOrg(ctx context.Context, org *connector.Organization) error
	GetOrg(ctx context.Context, id string) (*connector.Organization, error)
	ListOrgs(ctx context.Context, offset, limit int) ([]*connector.Organization, error)
	UpdateOrg(ctx context.Context, org *connector.Organization) error
	DeleteOrg(ctx context.Context, id string) error
	CreateTeam(ctx context.Context, team *connector.Team) error
	GetTeam(ctx context.Context, id string) (*connector.Team, error)
	ListTeams(ctx context.Context, orgID string, offset, limit int) ([]*connector.Team, error)
	UpdateTeam(ctx context.Context, team *connector.Team) error
	DeleteTeam(ctx context.Context, id string) error
}

// ResidencyStore backs residency.Store from the same database, keeping
// a single source of truth for per-org configuration.
type ResidencyStore interface {
	GetResidency(ctx context.Context, orgID string) (*connector.ResidencyReport, bool, error)
	PutResidency(ctx context.Context, orgID string, report *connector.ResidencyReport) error
}

// Store combines all storage interfaces behind a single database handle.
type Store interface {
	APIKeyStore
	DefinitionStore
	UsageStore
	OrgStore
	ResidencyStore
	Close() error
}
