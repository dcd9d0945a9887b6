package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// InsertUsage batch-inserts usage records, the durable log behind the
// in-memory budget tracker. The tracker's running windows live in memory;
// this table exists for audit and for analytics that must survive a restart.
func (s *Store) InsertUsage(ctx context.Context, records []connector.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 9
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.OrganizationID, r.UserID, r.WorkflowID,
			r.Provider, r.Model, r.TokensUsed, r.CostUSD,
			r.ExecutionID, r.Ts.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO usage_records
		(org_id, user_id, workflow_id, provider, model, tokens_used, cost_usd, execution_id, ts)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// SumUsageCost returns the total accumulated cost for a given organization.
func (s *Store) SumUsageCost(ctx context.Context, orgID string) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records WHERE org_id = ?`, orgID,
	).Scan(&total)
	return total, err
}
