package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/executor"
	"github.com/connectorrt/runtime/internal/schema"
	"github.com/connectorrt/runtime/internal/transport"
)

// fakeAuth always authenticates successfully with the given identity.
type fakeAuth struct {
	identity *connector.Identity
	err      error
}

func (f fakeAuth) Authenticate(_ context.Context, _ *http.Request) (*connector.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.identity != nil {
		return f.identity, nil
	}
	return &connector.Identity{
		Subject:    "test",
		KeyID:      "key-test-1",
		OrgID:      "default",
		Role:       "admin",
		Perms:      connector.RolePermissions["admin"],
		AuthMethod: "apikey",
	}, nil
}

// fakeDefinitions is an in-memory connector.DefinitionRepository.
type fakeDefinitions struct {
	defs map[string]*connector.ConnectorDefinition
}

func newFakeDefinitions() *fakeDefinitions {
	return &fakeDefinitions{defs: map[string]*connector.ConnectorDefinition{
		"slack": {
			ID:       "slack",
			Name:     "Slack",
			Version:  "1.0.0",
			BaseURL:  "https://slack.example.com",
			AuthType: connector.AuthAPIKey,
			AuthConfig: connector.AuthConfig{
				HeaderName: "Authorization",
				Prefix:     "Bearer ",
			},
			Actions: []connector.ConnectorOperation{{
				ID:       "sendMessage",
				Type:     connector.OperationAction,
				Endpoint: "/api/chat.postMessage",
				Method:   http.MethodPost,
			}},
		},
	}}
}

func (f *fakeDefinitions) Get(_ context.Context, id string) (*connector.ConnectorDefinition, error) {
	d, ok := f.defs[id]
	if !ok {
		return nil, connector.ErrNotFound
	}
	return d, nil
}

func (f *fakeDefinitions) List(_ context.Context) ([]*connector.ConnectorDefinition, error) {
	var out []*connector.ConnectorDefinition
	for _, d := range f.defs {
		out = append(out, d)
	}
	return out, nil
}

// fakeTransport is a canned Requester standing in for the HTTP transport.
type fakeTransport struct {
	status int
	body   []byte
	err    error
}

func (f fakeTransport) Request(_ context.Context, _ transport.Request) (transport.Outcome, error) {
	if f.err != nil {
		return transport.Outcome{}, f.err
	}
	return transport.Outcome{
		Response: &http.Response{StatusCode: f.status},
		Body:     f.body,
		Attempts: 1,
	}, nil
}

func newTestExecutor(rt *fakeTransport) *executor.Executor {
	if rt == nil {
		rt = &fakeTransport{status: http.StatusOK, body: []byte(`{"ok":true}`)}
	}
	return executor.New(newFakeDefinitions(), schema.New(), rt, nil, nil)
}

func newTestHandler(rt *fakeTransport) http.Handler {
	return New(Deps{
		Auth:     fakeAuth{},
		Executor: newTestExecutor(rt),
	})
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth:     fakeAuth{},
		Executor: newTestExecutor(nil),
		ReadyCheck: func(context.Context) error {
			return errors.New("db unreachable")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleExecute_Success(t *testing.T) {
	t.Parallel()
	h := newTestHandler(&fakeTransport{status: http.StatusOK, body: []byte(`{"ts":"ok"}`)})

	body := `{"appId":"slack","functionId":"sendMessage","parameters":{"channel":"#general"},"credentials":{"apiKeyValue":"xoxb-test"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result connector.ExecutionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Errorf("expected success, got error %+v", result.Error)
	}
}

func TestHandleExecute_ConnectorNotFound(t *testing.T) {
	t.Parallel()
	h := newTestHandler(nil)

	body := `{"appId":"nope","functionId":"foo","credentials":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecute_ForbiddenByAllowList(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth: fakeAuth{identity: &connector.Identity{
			Subject: "restricted", OrgID: "default", Role: "member",
			Perms: connector.RolePermissions["member"], AllowedConnectors: []string{"github"},
		}},
		Executor: newTestExecutor(nil),
	})

	body := `{"appId":"slack","functionId":"sendMessage","credentials":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecute_RequiresPermission(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth: fakeAuth{identity: &connector.Identity{
			Subject: "viewer", OrgID: "default", Role: "viewer",
			Perms: connector.RolePermissions["viewer"],
		}},
		Executor: newTestExecutor(nil),
	})

	body := `{"appId":"slack","functionId":"sendMessage","credentials":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecute_AuthFailure(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth:     fakeAuth{err: connector.ErrUnauthorized},
		Executor: newTestExecutor(nil),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminRoutesAbsentWithoutStore(t *testing.T) {
	t.Parallel()
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/connectors", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when Store is nil", rec.Code)
	}
}
