package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAPIKeyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	key := &connector.APIKey{
		ID:        "key-1",
		KeyHash:   "abc123hash",
		KeyPrefix: "crt_abc1",
		OrgID:     "default",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.CreateKey(ctx, key); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetKeyByHash(ctx, "abc123hash")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.ID != key.ID {
		t.Errorf("id = %q, want %q", got.ID, key.ID)
	}
	if got.KeyPrefix != key.KeyPrefix {
		t.Errorf("prefix = %q, want %q", got.KeyPrefix, key.KeyPrefix)
	}
	if got.OrgID != key.OrgID {
		t.Errorf("org = %q, want %q", got.OrgID, key.OrgID)
	}
	if got.Role != "member" {
		t.Errorf("role = %q, want member", got.Role)
	}

	keys, err := s.ListKeys(ctx, "default", 0, 10)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(keys) != 1 {
		t.Fatalf("list count = %d, want 1", len(keys))
	}

	key.Blocked = true
	if err := s.UpdateKey(ctx, key); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetKeyByHash(ctx, "abc123hash")
	if !got.Blocked {
		t.Error("blocked should be true after update")
	}

	if err := s.TouchKeyUsed(ctx, "key-1"); err != nil {
		t.Fatal("touch:", err)
	}
	got, _ = s.GetKeyByHash(ctx, "abc123hash")
	if got.LastUsedAt == nil {
		t.Error("last_used_at should be set after touch")
	}

	if err := s.DeleteKey(ctx, "key-1"); err != nil {
		t.Fatal("delete:", err)
	}
	_, err = s.GetKeyByHash(ctx, "abc123hash")
	if err != connector.ErrNotFound {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestGetKeyAndCountKeys(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateOrg(ctx, &connector.Organization{
		ID: "org-count", Name: "CountOrg", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountKeys(ctx, "org-count")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}

	for i, id := range []string{"k1", "k2"} {
		if err := s.CreateKey(ctx, &connector.APIKey{
			ID:        id,
			KeyHash:   "hash-" + id,
			KeyPrefix: "crt_" + id,
			OrgID:     "org-count",
			Role:      "admin",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal("create:", err)
		}
	}

	n, err = s.CountKeys(ctx, "org-count")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	got, err := s.GetKey(ctx, "k1")
	if err != nil {
		t.Fatal("GetKey:", err)
	}
	if got.Role != "admin" {
		t.Errorf("role = %q, want admin", got.Role)
	}

	if _, err := s.GetKey(ctx, "nonexistent"); err != connector.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOrgAndTeamRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	org := &connector.Organization{
		ID:        "org-1",
		Name:      "Acme",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.CreateOrg(ctx, org); err != nil {
		t.Fatal("create org:", err)
	}

	got, err := s.GetOrg(ctx, "org-1")
	if err != nil {
		t.Fatal("get org:", err)
	}
	if got.Name != "Acme" {
		t.Errorf("org name = %q, want %q", got.Name, "Acme")
	}

	team := &connector.Team{
		ID:    "team-1",
		OrgID: "org-1",
		Name:  "Backend",
	}
	if err := s.CreateTeam(ctx, team); err != nil {
		t.Fatal("create team:", err)
	}

	teams, err := s.ListTeams(ctx, "org-1", 0, 10)
	if err != nil {
		t.Fatal("list teams:", err)
	}
	if len(teams) != 1 {
		t.Fatalf("teams count = %d, want 1", len(teams))
	}

	if err := s.DeleteTeam(ctx, "team-1"); err != nil {
		t.Fatal("delete team:", err)
	}
	if err := s.DeleteOrg(ctx, "org-1"); err != nil {
		t.Fatal("delete org:", err)
	}
}

func TestOrgUpdate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	org := &connector.Organization{
		ID: "org-upd", Name: "OrigName", CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateOrg(ctx, org); err != nil {
		t.Fatal(err)
	}

	budget := 250.0
	org.Name = "UpdatedName"
	org.MaxBudget = &budget
	org.Region = "eu"
	org.AllowedConnectors = []string{"slack", "github"}
	if err := s.UpdateOrg(ctx, org); err != nil {
		t.Fatal("update:", err)
	}

	got, err := s.GetOrg(ctx, "org-upd")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Name != "UpdatedName" {
		t.Errorf("name = %q, want UpdatedName", got.Name)
	}
	if got.MaxBudget == nil || *got.MaxBudget != 250.0 {
		t.Errorf("max_budget = %v, want 250.0", got.MaxBudget)
	}
	if got.Region != "eu" {
		t.Errorf("region = %q, want eu", got.Region)
	}
	if len(got.AllowedConnectors) != 2 {
		t.Errorf("allowed_connectors = %v, want 2 entries", got.AllowedConnectors)
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	def := &connector.ConnectorDefinition{
		ID:        "slack",
		Name:      "Slack",
		Version:   "1.0.0",
		BaseURL:   "https://slack.com/api",
		Lifecycle: connector.Lifecycle{Status: connector.LifecycleStable},
		AuthType:  connector.AuthBearer,
		Actions: []connector.ConnectorOperation{
			{ID: "post_message", Type: connector.OperationAction, Endpoint: "/chat.postMessage", Method: "POST"},
		},
	}

	if err := s.PutDefinition(ctx, def); err != nil {
		t.Fatal("put:", err)
	}

	got, err := s.Get(ctx, "slack")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Name != "Slack" || got.Version != "1.0.0" {
		t.Errorf("got = %+v", got)
	}
	if _, ok := got.FindOperation("post_message"); !ok {
		t.Error("post_message operation missing after round trip")
	}

	def.Version = "1.1.0"
	if err := s.PutDefinition(ctx, def); err != nil {
		t.Fatal("re-put:", err)
	}
	got, err = s.Get(ctx, "slack")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.1.0" {
		t.Errorf("version = %q, want 1.1.0 after upsert", got.Version)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(all) != 1 {
		t.Fatalf("list count = %d, want 1", len(all))
	}

	if err := s.DeleteDefinition(ctx, "slack"); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.Get(ctx, "slack"); err != connector.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResidencyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetResidency(ctx, "org-eu")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no residency record before Put")
	}

	report := &connector.ResidencyReport{Region: "eu", DataResidency: "strict"}
	if err := s.PutResidency(ctx, "org-eu", report); err != nil {
		t.Fatal("put:", err)
	}

	got, ok, err := s.GetResidency(ctx, "org-eu")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected residency record after Put")
	}
	if got.Region != "eu" {
		t.Errorf("region = %q, want eu", got.Region)
	}
}

func TestUsageBatchInsertAndSum(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	records := []connector.UsageRecord{
		{OrganizationID: "org1", Provider: "openai", Model: "gpt-4o", TokensUsed: 100, CostUSD: 0.05, Ts: time.Now().UTC()},
		{OrganizationID: "org1", Provider: "openai", Model: "gpt-4o", TokensUsed: 200, CostUSD: 0.10, Ts: time.Now().UTC()},
	}

	if err := s.InsertUsage(ctx, records); err != nil {
		t.Fatal("insert usage:", err)
	}

	total, err := s.SumUsageCost(ctx, "org1")
	if err != nil {
		t.Fatal(err)
	}
	if total < 0.14 || total > 0.16 {
		t.Errorf("sum cost = %f, want ~0.15", total)
	}
}
