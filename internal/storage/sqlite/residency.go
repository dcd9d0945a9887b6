package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/connectorrt/runtime/internal/connector"
)

// GetResidency implements residency.Store, letting the residency router read straight
// off the same database as everything else instead of a separate config file.
func (s *Store) GetResidency(ctx context.Context, orgID string) (*connector.ResidencyReport, bool, error) {
	var raw string
	err := s.read.QueryRowContext(ctx,
		`SELECT report FROM residency_reports WHERE org_id = ?`, orgID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var report connector.ResidencyReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, false, fmt.Errorf("unmarshal residency report: %w", err)
	}
	return &report, true, nil
}

// PutResidency inserts or replaces an organization's residency configuration.
func (s *Store) PutResidency(ctx context.Context, orgID string, report *connector.ResidencyReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal residency report: %w", err)
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO residency_reports (org_id, report) VALUES (?, ?)
		 ON CONFLICT(org_id) DO UPDATE SET report=excluded.report`,
		orgID, string(body),
	)
	return err
}
