package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

type countingRepo struct {
	calls int
	def   *connector.ConnectorDefinition
}

func (r *countingRepo) Get(_ context.Context, id string) (*connector.ConnectorDefinition, error) {
	r.calls++
	if r.def == nil || r.def.ID != id {
		return nil, connector.ErrNotFound
	}
	return r.def, nil
}

func (r *countingRepo) List(_ context.Context) ([]*connector.ConnectorDefinition, error) {
	return []*connector.ConnectorDefinition{r.def}, nil
}

func TestDefinitionRepository_CachesAfterFirstGet(t *testing.T) {
	t.Parallel()
	mem, err := NewMemory(10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	repo := &countingRepo{def: &connector.ConnectorDefinition{
		ID: "slack", Name: "Slack", AuthType: connector.AuthAPIKey,
		Actions: []connector.ConnectorOperation{{ID: "send", Method: http.MethodPost}},
	}}
	cached := NewDefinitionRepository(repo, mem)
	ctx := context.Background()

	for range 3 {
		def, err := cached.Get(ctx, "slack")
		if err != nil {
			t.Fatal(err)
		}
		if def.Name != "Slack" {
			t.Errorf("name = %q, want Slack", def.Name)
		}
	}
	if repo.calls != 1 {
		t.Errorf("underlying repo called %d times, want 1", repo.calls)
	}
}

func TestDefinitionRepository_InvalidateForcesRefetch(t *testing.T) {
	t.Parallel()
	mem, err := NewMemory(10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	repo := &countingRepo{def: &connector.ConnectorDefinition{ID: "slack", Name: "Slack"}}
	cached := NewDefinitionRepository(repo, mem)
	ctx := context.Background()

	if _, err := cached.Get(ctx, "slack"); err != nil {
		t.Fatal(err)
	}
	cached.Invalidate(ctx, "slack")

	repo.def.Name = "Slack Renamed"
	def, err := cached.Get(ctx, "slack")
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "Slack Renamed" {
		t.Errorf("name = %q, want Slack Renamed after invalidate", def.Name)
	}
	if repo.calls != 2 {
		t.Errorf("underlying repo called %d times, want 2", repo.calls)
	}
}
