package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// defaultDefinitionTTL bounds how stale a cached definition can get if an
// admin update races a cache invalidation.
const defaultDefinitionTTL = 10 * time.Minute

// DefinitionRepository wraps a connector.DefinitionRepository with a byte
// cache in front of Get, so a busy connector's definition is fetched from
// storage once per TTL window rather than once per execution.
type DefinitionRepository struct {
	next  connector.DefinitionRepository
	cache Cache
	ttl   time.Duration
}

// NewDefinitionRepository wraps next with cache using the default TTL.
func NewDefinitionRepository(next connector.DefinitionRepository, cache Cache) *DefinitionRepository {
	return &DefinitionRepository{next: next, cache: cache, ttl: defaultDefinitionTTL}
}

// Get returns the cached definition for id, falling through to next and
// populating the cache on a miss. Errors are never cached.
func (d *DefinitionRepository) Get(ctx context.Context, id string) (*connector.ConnectorDefinition, error) {
	if raw, ok := d.cache.Get(ctx, id); ok {
		var def connector.ConnectorDefinition
		if err := json.Unmarshal(raw, &def); err == nil {
			return &def, nil
		}
	}

	def, err := d.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(def); err == nil {
		d.cache.Set(ctx, id, raw, d.ttl)
	}
	return def, nil
}

// List always reads through; admin list views are infrequent and must see
// writes immediately.
func (d *DefinitionRepository) List(ctx context.Context) ([]*connector.ConnectorDefinition, error) {
	return d.next.List(ctx)
}

// Invalidate drops id from the cache. Called after any admin write
// (create/update/delete) so the next execute picks up fresh state instead of
// waiting out the TTL.
func (d *DefinitionRepository) Invalidate(ctx context.Context, id string) {
	d.cache.Delete(ctx, id)
}
