// Package connector defines the domain types and interfaces of the connector
// execution runtime. It has no project imports -- it is the dependency root.
package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
)

// --- Connector definitions ---

// LifecycleStatus is the five-value enum a connector definition's lifecycle
// may be in.
type LifecycleStatus string

const (
	LifecycleAlpha      LifecycleStatus = "alpha"
	LifecycleBeta       LifecycleStatus = "beta"
	LifecycleStable     LifecycleStatus = "stable"
	LifecycleDeprecated LifecycleStatus = "deprecated"
	LifecycleSunset     LifecycleStatus = "sunset"
)

// Valid reports whether s is one of the five recognized lifecycle statuses.
func (s LifecycleStatus) Valid() bool {
	switch s {
	case LifecycleAlpha, LifecycleBeta, LifecycleStable, LifecycleDeprecated, LifecycleSunset:
		return true
	}
	return false
}

// Deprecation marks the version window in which a connector is winding down.
type Deprecation struct {
	StartDate  *time.Time `json:"startDate,omitempty"`
	SunsetDate *time.Time `json:"sunsetDate,omitempty"`
}

// Lifecycle describes where a connector definition sits in its rollout.
type Lifecycle struct {
	Status         LifecycleStatus `json:"status"`
	BetaStartedAt  *time.Time      `json:"betaStartedAt,omitempty"`
	Deprecation    *Deprecation    `json:"deprecation,omitempty"`
}

// AuthType is the tagged-union discriminant for ConnectorDefinition.AuthType.
type AuthType string

const (
	AuthOAuth2 AuthType = "oauth2"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthCustom AuthType = "custom"
)

// RateLimitHeaders names the response headers a connector uses to report its
// own rate-limit state back to the caller.
type RateLimitHeaders struct {
	Limit      []string `json:"limit,omitempty" yaml:"limit,omitempty"`
	Remaining  []string `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	Reset      []string `json:"reset,omitempty" yaml:"reset,omitempty"`
	RetryAfter []string `json:"retryAfter,omitempty" yaml:"retryAfter,omitempty"`
}

// RateLimits is the connector- or operation-level rate policy. Zero values
// mean "not specified"; merging takes the stricter of two non-zero values.
type RateLimits struct {
	RPS     float64          `json:"rps,omitempty" yaml:"requestsPerSecond,omitempty"`
	RPM     float64          `json:"rpm,omitempty" yaml:"requestsPerMinute,omitempty"`
	RPH     float64          `json:"rph,omitempty" yaml:"requestsPerHour,omitempty"`
	RPD     float64          `json:"rpd,omitempty" yaml:"requestsPerDay,omitempty"`
	Burst   int              `json:"burst,omitempty" yaml:"burst,omitempty"`
	Headers RateLimitHeaders `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ConcurrencyScope bounds where a concurrency limit applies.
type ConcurrencyScope string

const (
	ScopeConnection    ConcurrencyScope = "connection"
	ScopeConnector     ConcurrencyScope = "connector"
	ScopeOrganization  ConcurrencyScope = "organization"
)

// Concurrency bounds the number of in-flight calls sharing a scope.
type Concurrency struct {
	MaxConcurrent int              `json:"maxConcurrentRequests,omitempty" yaml:"maxConcurrentRequests,omitempty"`
	Scope         ConcurrencyScope `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// RequiredOutbound names the network surface a connector is allowed to reach.
type RequiredOutbound struct {
	Domains  []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	IPRanges []string `json:"ipRanges,omitempty" yaml:"ipRanges,omitempty"`
}

// Network groups the outbound-reachability declarations of a definition.
type Network struct {
	RequiredOutbound RequiredOutbound `json:"requiredOutbound,omitempty" yaml:"requiredOutbound,omitempty"`
}

// AuthConfig enumerates the per-authType parameters a definition supplies.
// Fields unused by the active AuthType are ignored.
type AuthConfig struct {
	HeaderName       string            `json:"headerName,omitempty" yaml:"headerName,omitempty"`
	QueryParam       string            `json:"queryParam,omitempty" yaml:"queryParam,omitempty"`
	In               string            `json:"in,omitempty" yaml:"in,omitempty"` // "header" (default) | "query"
	Prefix           string            `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	TokenField       string            `json:"tokenField,omitempty" yaml:"tokenField,omitempty"`
	AdditionalParams map[string]string `json:"additionalParams,omitempty" yaml:"additionalParams,omitempty"`
	// Custom names the cloudauth handler for AuthCustom, e.g. "gcp_oauth" or "aws_sigv4".
	Custom CustomAuthConfig `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// CustomAuthConfig parameterizes the AuthCustom dispatch.
type CustomAuthConfig struct {
	Kind    string   `json:"kind,omitempty" yaml:"kind,omitempty"` // "gcp_oauth" | "aws_sigv4"
	Scopes  []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Region  string   `json:"region,omitempty" yaml:"region,omitempty"`
	Service string   `json:"service,omitempty" yaml:"service,omitempty"`
}

// OperationType is the tagged-union discriminant for ConnectorOperation.Type.
type OperationType string

const (
	OperationAction  OperationType = "action"
	OperationTrigger OperationType = "trigger"
)

// ConnectorOperation is one callable action or trigger of a connector.
type ConnectorOperation struct {
	ID             string          `json:"id"`
	Type           OperationType   `json:"type"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	Parameters     json.RawMessage `json:"parameters"` // JSON Schema
	ResponseSchema json.RawMessage `json:"responseSchema,omitempty"`
	OutputSchema   json.RawMessage `json:"outputSchema,omitempty"`
	Sample         json.RawMessage `json:"sample,omitempty"`
	RateLimits     *RateLimits     `json:"rateLimits,omitempty"`
}

// TestConnectionSpec names a definition-level connectivity probe.
type TestConnectionSpec struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
}

// ConnectorDefinition is the declarative description of one external API:
// base URL, auth, rate policy, and the operations it exposes.
type ConnectorDefinition struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Version        string               `json:"version"`
	Lifecycle      Lifecycle            `json:"lifecycle"`
	BaseURL        string               `json:"baseUrl"`
	AuthType       AuthType             `json:"authType"`
	AuthConfig     AuthConfig           `json:"authConfig"`
	Actions        []ConnectorOperation `json:"actions"`
	Triggers       []ConnectorOperation `json:"triggers"`
	RateLimits     RateLimits           `json:"rateLimits"`
	Concurrency    Concurrency          `json:"concurrency"`
	Network        Network              `json:"network"`
	TestConnection *TestConnectionSpec  `json:"testConnection,omitempty"`
}

// SemVersion parses the definition's Version field using semver ordering.
// Curated definitions are trusted input; a malformed version sorts as the
// zero version rather than failing the call.
func (d *ConnectorDefinition) SemVersion() *semver.Version {
	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return semver.MustParse("0.0.0")
	}
	return v
}

// FindOperation looks an operation up by id across both actions and triggers.
func (d *ConnectorDefinition) FindOperation(id string) (*ConnectorOperation, bool) {
	for i := range d.Actions {
		if d.Actions[i].ID == id {
			return &d.Actions[i], true
		}
	}
	for i := range d.Triggers {
		if d.Triggers[i].ID == id {
			return &d.Triggers[i], true
		}
	}
	return nil, false
}

// DefinitionRepository owns ConnectorDefinition storage outside the execution
// core; the runtime only reads through it.
type DefinitionRepository interface {
	Get(ctx context.Context, connectorID string) (*ConnectorDefinition, error)
	List(ctx context.Context) ([]*ConnectorDefinition, error)
}

// --- Credentials ---

// Credentials is an opaque bundle of caller-supplied secrets keyed by name,
// plus two reserved runtime fields. Never cached by the core; owned by the
// caller's stack frame for the duration of one call.
type Credentials map[string]string

const (
	CredentialConnectionID   = "__connectionId"
	CredentialOrganizationID = "__organizationId"
)

func (c Credentials) ConnectionID() string   { return c[CredentialConnectionID] }
func (c Credentials) OrganizationID() string { return c[CredentialOrganizationID] }

// --- Rate limiting primitives ---

// TokenBucket is the rate-limiting primitive keyed by
// rate:{connector}:{connection|global}.
type TokenBucket struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"lastRefill"`
}

// --- Execution results ---

// ExecError is the concrete error shape of Contract A's failure branch.
type ExecError struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Attempts         int    `json:"attempts"`
	LastRetryAfterMs int64  `json:"lastRetryAfterMs,omitempty"`
}

func (e *ExecError) Error() string { return e.Code + ": " + e.Message }

// ExecutionResult is the concrete return type of the executor's Contract A.
type ExecutionResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ExecError      `json:"error,omitempty"`
}

// CursorStyleStripe marks a ListMeta.NextCursor as an item id meant to be
// resubmitted as Stripe's "starting_after" parameter, not a generic
// cursor/page_token value.
const CursorStyleStripe = "stripe"

// ListMeta is pagination metadata attached to a normalized list.
type ListMeta struct {
	Cursor     string `json:"cursor,omitempty"`
	Next       string `json:"next,omitempty"`
	HasMore    bool   `json:"hasMore,omitempty"`
	NextCursor string `json:"nextCursor,omitempty"`

	// CursorStyle tags how NextCursor should be resubmitted on the next
	// call. Empty means the generic cursor/page_token shape; see
	// CursorStyleStripe for the one vendor-specific exception. Internal
	// plumbing between normalize's rules and NextCursorParams, not part of
	// the wire contract.
	CursorStyle string `json:"-"`
}

// NormalizedList is the response normalizer's concrete return type.
type NormalizedList struct {
	Items []json.RawMessage `json:"items"`
	Meta  ListMeta          `json:"meta"`
}

// --- Backoff / audit ---

// BackoffEventType discriminates the source of a recorded wait.
type BackoffEventType string

const (
	BackoffRateLimiter BackoffEventType = "rate_limiter"
	BackoffHTTPRetry   BackoffEventType = "http_retry"
	BackoffNetworkRetry BackoffEventType = "network_retry"
)

// BackoffEvent records one occurrence of waiting during a call.
type BackoffEvent struct {
	Type            BackoffEventType `json:"type"`
	WaitMs          int64            `json:"waitMs"`
	Attempt         int              `json:"attempt"`
	Reason          string           `json:"reason"`
	StatusCode      int              `json:"statusCode,omitempty"`
	LimiterAttempts int              `json:"limiterAttempts,omitempty"`
}

// AuditMeta is the free-form metadata sub-object of an AuditEntry.
type AuditMeta struct {
	RateLimiterAttempts int            `json:"rateLimiterAttempts,omitempty"`
	RateLimiterWaitMs   int64          `json:"rateLimiterWaitMs,omitempty"`
	Backoffs            []BackoffEvent `json:"backoffs,omitempty"`
	TotalBackoffMs      int64          `json:"totalBackoffMs,omitempty"`
	OrganizationID      string         `json:"organizationId,omitempty"`
	Region              string         `json:"region,omitempty"`
}

// AuditEntry is one append-only record of an execution.
type AuditEntry struct {
	Ts         time.Time `json:"ts"`
	RequestID  string    `json:"requestId"`
	AppID      string    `json:"appId"`
	FunctionID string    `json:"functionId"`
	DurationMs int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Meta       AuditMeta `json:"meta"`
}

// --- Budget & cache ---

// UsageRecord is one LLM usage event tracked against a tenant's budget.
type UsageRecord struct {
	UserID         string    `json:"userId,omitempty"`
	WorkflowID     string    `json:"workflowId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	TokensUsed     int       `json:"tokensUsed"`
	CostUSD        float64   `json:"costUSD"`
	ExecutionID    string    `json:"executionId"`
	NodeID         string    `json:"nodeId"`
	Ts             time.Time `json:"ts"`
}

// CacheEntry is one LRU+TTL response cache record.
type CacheEntry struct {
	Key          string    `json:"key"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	TokensUsed   int       `json:"tokensUsed"`
	CostUSD      float64   `json:"costUSD"`
	Ts           time.Time `json:"ts"`
	TTL          time.Duration `json:"ttl"`
	AccessCount  int       `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// --- Residency ---

// ResidencyStorage names the namespace prefixes an org's artifacts are tagged with.
type ResidencyStorage struct {
	SecretsNamespace string `json:"secretsNamespace"`
	FilePrefix       string `json:"filePrefix"`
	LogPrefix        string `json:"logPrefix"`
}

// ResidencyWorkloads names where an org's compute-shaped work is pinned.
type ResidencyWorkloads struct {
	ExecutionRegion string `json:"executionRegion"`
	AllowCrossRegion bool  `json:"allowCrossRegion"`
}

// ResidencyReport is the per-organization region/isolation answer.
type ResidencyReport struct {
	Region        string             `json:"region"`
	DataResidency string             `json:"dataResidency"`
	Storage       ResidencyStorage   `json:"storage"`
	Workloads     ResidencyWorkloads `json:"workloads"`
}

// --- Multi-tenant identity (HTTP caller surface) ---

// Organization represents a top-level tenant. Per-connector call rates live
// on each ConnectorDefinition's RateLimits; an org only caps spend and which
// connectors its keys may reach.
type Organization struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Region            string    `json:"region,omitempty"`
	AllowedConnectors []string  `json:"allowed_connectors,omitempty"`
	MaxBudget         *float64  `json:"max_budget,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Team is a subdivision within an organization.
type Team struct {
	ID                string   `json:"id"`
	OrgID             string   `json:"org_id"`
	Name              string   `json:"name"`
	AllowedConnectors []string `json:"allowed_connectors,omitempty"`
	MaxBudget         *float64 `json:"max_budget,omitempty"`
}

// APIKey represents an API key for authentication against the HTTP surface.
type APIKey struct {
	ID               string     `json:"id"`
	KeyHash          string     `json:"-"`
	KeyPrefix        string     `json:"key_prefix"`
	UserID           string     `json:"user_id,omitempty"`
	TeamID           string     `json:"team_id,omitempty"`
	OrgID            string     `json:"org_id"`
	Role             string     `json:"role,omitempty"`
	AllowedConnectors []string  `json:"allowed_connectors,omitempty"` // nil = all connectors
	MaxBudget        *float64   `json:"max_budget,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Blocked          bool       `json:"blocked"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Identity is the authenticated caller context attached to a request context.
type Identity struct {
	Subject           string     `json:"subject"`
	KeyID             string     `json:"key_id"`
	UserID            string     `json:"user_id"`
	TeamID            string     `json:"team_id"`
	OrgID             string     `json:"org_id"`
	Role              string     `json:"role"`
	Perms             Permission `json:"-"`
	AuthMethod        string     `json:"auth_method"`
	AllowedConnectors []string   `json:"allowed_connectors,omitempty"`
	MaxBudget         float64    `json:"max_budget,omitempty"`
}

// --- RBAC ---

// Permission is a bitmask representing authorization capabilities.
type Permission uint32

const (
	PermExecute            Permission = 1 << iota // call /v1/execute, /v1/execute/paginated
	PermManageOwnKeys                              // create/delete own API keys
	PermViewOwnUsage                               // view own usage stats
	PermViewAllUsage                               // view org-wide usage
	PermManageAllKeys                              // manage any key in the org
	PermManageDefinitions                          // CRUD connector definitions
	PermManageOrgs                                 // manage orgs and teams
)

// Can reports whether the identity has the given permission.
func (id *Identity) Can(p Permission) bool { return id.Perms&p == p }

// RolePermissions maps role names to their permission bitmasks.
var RolePermissions = map[string]Permission{
	"admin":           PermExecute | PermManageOwnKeys | PermViewOwnUsage | PermViewAllUsage | PermManageAllKeys | PermManageDefinitions | PermManageOrgs,
	"member":          PermExecute | PermManageOwnKeys | PermViewOwnUsage,
	"viewer":          PermViewOwnUsage | PermViewAllUsage,
	"service_account": PermExecute,
}

// ValidRole reports whether role is a known entry in RolePermissions.
func ValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, avoiding a second context.WithValue allocation.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// APIKeyPrefix is the prefix for all runtime-issued API keys.
const APIKeyPrefix = "crt_"

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
