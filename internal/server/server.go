// Package server implements the HTTP transport layer for the connector
// execution runtime.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	"github.com/connectorrt/runtime/internal/app"
	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/executor"
	"github.com/connectorrt/runtime/internal/storage"
	"github.com/connectorrt/runtime/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// KeyInvalidator evicts a cached API key lookup when its record changes.
type KeyInvalidator interface {
	InvalidateByKeyID(keyID string)
}

// DefinitionInvalidator evicts a cached connector definition when its
// record changes through the admin API.
type DefinitionInvalidator interface {
	Invalidate(ctx context.Context, id string)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth                  connector.Authenticator
	Executor              *executor.Executor
	Keys                  *app.KeyManager
	KeyInvalidator        KeyInvalidator        // nil = auth cache not invalidated on key mutation
	DefinitionInvalidator DefinitionInvalidator // nil = no definition cache to invalidate
	Store                 storage.Store         // nil = no admin CRUD (for tests)
	Metrics               *telemetry.Metrics    // nil = no Prometheus metrics
	MetricsHandler        http.Handler          // nil = no /metrics endpoint
	Tracer                trace.Tracer          // nil = no distributed tracing
	ReadyCheck            ReadyChecker          // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Client-facing execution API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requirePerm(connector.PermExecute))
		r.Post("/v1/execute", s.handleExecute)
		r.Post("/v1/execute/paginated", s.handleExecutePaginated)
		r.Post("/v1/test-connection", s.handleTestConnection)
	})

	// Admin API (auth + RBAC required)
	if deps.Store != nil {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(s.authenticate)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(connector.PermManageDefinitions))
				r.Get("/connectors", s.handleListConnectors)
				r.Post("/connectors", s.handleCreateConnector)
				r.Get("/connectors/{id}", s.handleGetConnector)
				r.Put("/connectors/{id}", s.handleUpdateConnector)
				r.Delete("/connectors/{id}", s.handleDeleteConnector)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(connector.PermManageAllKeys))
				r.Get("/keys", s.handleListKeys)
				r.Post("/keys", s.handleCreateKey)
				r.Delete("/keys/{id}", s.handleDeleteKey)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(connector.PermManageOrgs))
				r.Get("/orgs", s.handleListOrgs)
				r.Post("/orgs", s.handleCreateOrg)
				r.Get("/orgs/{id}", s.handleGetOrg)
				r.Put("/orgs/{id}", s.handleUpdateOrg)
				r.Delete("/orgs/{id}", s.handleDeleteOrg)
			})
		})
	}

	return r
}

type server struct {
	deps Deps
}
