package testutil

import (
	"context"
	"net/http"

	"github.com/connectorrt/runtime/internal/connector"
)

// FakeAuth always authenticates successfully with admin permissions.
type FakeAuth struct{}

// Authenticate returns a test identity with admin permissions.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*connector.Identity, error) {
	return &connector.Identity{
		Subject:    "test",
		OrgID:      "default",
		Role:       "admin",
		Perms:      connector.RolePermissions["admin"],
		AuthMethod: "apikey",
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*connector.Identity, error) {
	return nil, connector.ErrUnauthorized
}
