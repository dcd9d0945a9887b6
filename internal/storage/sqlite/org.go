package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// CreateOrg inserts a new organization.
func (s *Store) CreateOrg(ctx context.Context, org *connector.Organization) error {
	connectors, err := marshalJSON(org.AllowedConnectors)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO organizations (id, name, region, allowed_connectors, max_budget, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, nullStr(org.Region), connectors, org.MaxBudget,
		org.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetOrg retrieves an organization by ID.
func (s *Store) GetOrg(ctx context.Context, id string) (*connector.Organization, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, region, allowed_connectors, max_budget, created_at
		 FROM organizations WHERE id=?`, id,
	)
	return scanOrg(row)
}

// ListOrgs returns all organizations.
func (s *Store) ListOrgs(ctx context.Context, offset, limit int) ([]*connector.Organization, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, name, region, allowed_connectors, max_budget, created_at
		 FROM organizations ORDER BY name LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*connector.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// UpdateOrg updates an organization.
func (s *Store) UpdateOrg(ctx context.Context, org *connector.Organization) error {
	connectors, err := marshalJSON(org.AllowedConnectors)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE organizations SET name=?, region=?, allowed_connectors=?, max_budget=?
		 WHERE id=?`,
		org.Name, nullStr(org.Region), connectors, org.MaxBudget, org.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "organization")
}

// DeleteOrg removes an organization.
func (s *Store) DeleteOrg(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM organizations WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "organization")
}

// CreateTeam inserts a new team.
func (s *Store) CreateTeam(ctx context.Context, team *connector.Team) error {
	connectors, err := marshalJSON(team.AllowedConnectors)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO teams (id, org_id, name, allowed_connectors, max_budget)
		 VALUES (?, ?, ?, ?, ?)`,
		team.ID, team.OrgID, team.Name, connectors, team.MaxBudget,
	)
	return err
}

// GetTeam retrieves a team by ID.
func (s *Store) GetTeam(ctx context.Context, id string) (*connector.Team, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, org_id, name, allowed_connectors, max_budget
		 FROM teams WHERE id=?`, id,
	)
	return scanTeam(row)
}

// ListTeams returns all teams in an organization.
func (s *Store) ListTeams(ctx context.Context, orgID string, offset, limit int) ([]*connector.Team, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, org_id, name, allowed_connectors, max_budget
		 FROM teams WHERE org_id=? ORDER BY name LIMIT ? OFFSET ?`, orgID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []*connector.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// UpdateTeam updates a team.
func (s *Store) UpdateTeam(ctx context.Context, team *connector.Team) error {
	connectors, err := marshalJSON(team.AllowedConnectors)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE teams SET name=?, allowed_connectors=?, max_budget=?
		 WHERE id=?`,
		team.Name, connectors, team.MaxBudget, team.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "team")
}

// DeleteTeam removes a team.
func (s *Store) DeleteTeam(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM teams WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "team")
}

func scanOrg(s scanner) (*connector.Organization, error) {
	var o connector.Organization
	var connectorsJSON sql.NullString
	var region sql.NullString
	var createdAt sql.NullString

	err := s.Scan(&o.ID, &o.Name, &region, &connectorsJSON, &o.MaxBudget, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	connectors, err := unmarshalStringSlice(connectorsJSON)
	if err != nil {
		return nil, err
	}
	o.Region = region.String
	o.AllowedConnectors = connectors
	if t := parseTime(createdAt); t != nil {
		o.CreatedAt = *t
	}
	return &o, nil
}

func scanTeam(s scanner) (*connector.Team, error) {
	var t connector.Team
	var connectorsJSON sql.NullString

	err := s.Scan(&t.ID, &t.OrgID, &t.Name, &connectorsJSON, &t.MaxBudget)
	if err != nil {
		return nil, notFoundErr(err)
	}

	connectors, err := unmarshalStringSlice(connectorsJSON)
	if err != nil {
		return nil, err
	}
	t.AllowedConnectors = connectors
	return &t, nil
}
