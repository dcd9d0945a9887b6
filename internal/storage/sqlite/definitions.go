package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/connectorrt/runtime/internal/connector"
)

// Get implements connector.DefinitionRepository.
func (s *Store) Get(ctx context.Context, connectorID string) (*connector.ConnectorDefinition, error) {
	var raw string
	err := s.read.QueryRowContext(ctx,
		`SELECT body FROM connector_definitions WHERE id = ?`, connectorID,
	).Scan(&raw)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return unmarshalDefinition(raw)
}

// List implements connector.DefinitionRepository.
func (s *Store) List(ctx context.Context) ([]*connector.ConnectorDefinition, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT body FROM connector_definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*connector.ConnectorDefinition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		def, err := unmarshalDefinition(raw)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// PutDefinition inserts or replaces a connector definition by id.
func (s *Store) PutDefinition(ctx context.Context, def *connector.ConnectorDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO connector_definitions (id, name, version, lifecycle_status, body)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, version=excluded.version,
		 lifecycle_status=excluded.lifecycle_status, body=excluded.body`,
		def.ID, def.Name, def.Version, string(def.Lifecycle.Status), string(body),
	)
	return err
}

// DeleteDefinition removes a connector definition.
func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM connector_definitions WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "connector definition")
}

func unmarshalDefinition(raw string) (*connector.ConnectorDefinition, error) {
	var def connector.ConnectorDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &def, nil
}
