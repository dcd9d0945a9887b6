package connector

import "errors"

// Sentinel errors for the connector execution runtime, one per error-taxonomy
// kind: config, validation, auth, policy, transient, vendor, quota,
// internal. Wrapped with %w end-to-end so errors.Is/errors.As work across
// package boundaries.
var (
	ErrConfig     = errors.New("config error")
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("auth error")
	ErrPolicy     = errors.New("policy error")
	ErrTransient  = errors.New("transient error")
	ErrVendor     = errors.New("vendor error")
	ErrQuota      = errors.New("quota error")
	ErrInternal   = errors.New("internal error")

	// HTTP caller-surface sentinels, retained from the ambient auth stack.
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
	ErrBadRequest   = errors.New("bad request")
	ErrKeyExpired   = errors.New("api key expired")
	ErrKeyBlocked   = errors.New("api key blocked")
)
