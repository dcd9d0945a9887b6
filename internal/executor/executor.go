// Package executor is the generic operation driver that wires
// schema validation, auth injection, request building, transport, and
// normalization into one execute() call per connector
// operation, grounded on the orchestration shape of a resolve-then-dispatch
// service loop.
package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connectorrt/runtime/internal/authinject"
	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/normalize"
	"github.com/connectorrt/runtime/internal/reqbuild"
	"github.com/connectorrt/runtime/internal/schema"
	"github.com/connectorrt/runtime/internal/transport"
)

// Auditor is the narrow slice of the audit log the executor depends on.
type Auditor interface {
	Record(ctx context.Context, entry connector.AuditEntry)
}

// ResidencyRouter is the narrow slice of the residency router the executor depends on.
type ResidencyRouter interface {
	GetResidencyReport(ctx context.Context, orgID string) (*connector.ResidencyReport, bool)
}

// Requester is the narrow slice of the transport the executor depends on.
type Requester interface {
	Request(ctx context.Context, req transport.Request) (transport.Outcome, error)
}

// Executor drives Contracts A, B, and C.
type Executor struct {
	definitions connector.DefinitionRepository
	validator   *schema.Validator
	transport   Requester
	audit       Auditor
	residency   ResidencyRouter
	maxAttempts int
}

// New builds an Executor. audit and residency may be nil; a nil audit drops
// records, a nil residency router defaults every org to region "us".
func New(definitions connector.DefinitionRepository, validator *schema.Validator, rt Requester, audit Auditor, residency ResidencyRouter) *Executor {
	return &Executor{
		definitions: definitions,
		validator:   validator,
		transport:   rt,
		audit:       audit,
		residency:   residency,
		maxAttempts: 3,
	}
}

// ExecuteRequest is Contract A's input.
type ExecuteRequest struct {
	AppID       string
	FunctionID  string
	Parameters  map[string]any
	Credentials connector.Credentials
}

// Execute implements Contract A.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) *connector.ExecutionResult {
	start := time.Now()
	requestID := uuid.NewString()
	meta := connector.AuditMeta{OrganizationID: req.Credentials.OrganizationID()}
	meta.Region = e.regionFor(ctx, meta.OrganizationID)

	result, httpOut := e.execute(ctx, req, &meta)

	entry := connector.AuditEntry{
		Ts: start, RequestID: requestID, AppID: req.AppID, FunctionID: req.FunctionID,
		DurationMs: time.Since(start).Milliseconds(), Success: result.Success, Meta: meta,
	}
	if result.Error != nil {
		entry.Error = result.Error.Code
	}
	if httpOut != nil {
		meta.RateLimiterAttempts = httpOut.LimiterAttempts
		meta.RateLimiterWaitMs = httpOut.LimiterWaitMs
		meta.Backoffs = httpOut.BackoffEvents
		for _, b := range httpOut.BackoffEvents {
			meta.TotalBackoffMs += b.WaitMs
		}
		entry.Meta = meta
	}
	e.recordAudit(ctx, entry)

	return result
}

func (e *Executor) execute(ctx context.Context, req ExecuteRequest, meta *connector.AuditMeta) (*connector.ExecutionResult, *transport.Outcome) {
	def, err := e.definitions.Get(ctx, req.AppID)
	if err != nil || def == nil {
		return errorResult(codeNotFound, "connector not found: "+req.AppID, 0), nil
	}

	op, ok := def.FindOperation(req.FunctionID)
	if !ok {
		return errorResult(codeNotFound, "operation not found: "+req.FunctionID, 0), nil
	}

	if e.validator != nil && len(op.Parameters) > 0 {
		vr := e.validator.Validate(def.ID, op.ID, op.Parameters, req.Parameters)
		if !vr.Valid {
			return errorResult(codeValidationError, strings.Join(vr.Errors, "; "), 0), nil
		}
	}

	rules := mergeRateLimits(def.RateLimits, op.RateLimits)

	auth, err := authinject.Inject(def.AuthType, def.AuthConfig, req.Credentials, def.BaseURL)
	if err != nil {
		return errorResult(codeUnauthorized, err.Error(), 0), nil
	}

	built, err := reqbuild.Build(ctx, def.ID, auth.URL, op.Endpoint, op.Method, req.Parameters, req.Credentials)
	if err != nil {
		return errorResult(codeValidationError, err.Error(), 0), nil
	}

	headers := http.Header{}
	for k, v := range auth.Headers {
		headers[k] = v
	}
	for k, v := range auth.Query {
		built.Query[k] = v
	}
	if len(built.Query) > 0 {
		built.URL = built.URL + "?" + built.Query.Encode()
	}
	body := built.Body
	switch built.Format {
	case reqbuild.FormatJSON:
		headers.Set("Content-Type", "application/json")
	case reqbuild.FormatForm:
		headers.Set("Content-Type", "application/x-www-form-urlencoded")
	case reqbuild.FormatMultipart:
		headers.Set("Content-Type", "multipart/form-data; boundary="+built.MultipartBoundary)
	}

	out, reqErr := e.transport.Request(ctx, transport.Request{
		URL: built.URL, Method: op.Method, Headers: headers, Body: body,
		ConnectorID: def.ID, Connection: req.Credentials.ConnectionID(), Org: meta.OrganizationID,
		RateLimits: rules, MaxAttempts: e.maxAttempts,
		OnResponse: retryAfterFromHeader,
	})
	if reqErr != nil && out.Response == nil {
		return errorResult(codeServerError, reqErr.Error(), out.Attempts), &out
	}

	if out.Response.StatusCode >= 400 {
		return errorResult(httpErrorCode(out.Response.StatusCode), extractVendorMessage(out.Body), out.Attempts), &out
	}

	if code, msg, isVendorFail := detectVendorFailureEnvelope(out.Body); isVendorFail {
		return errorResult(code, msg, out.Attempts), &out
	}

	if list, matched := normalize.Normalize(def.ID, out.Body); matched {
		data, _ := json.Marshal(list)
		return &connector.ExecutionResult{Success: true, Data: data}, &out
	}

	return &connector.ExecutionResult{Success: true, Data: json.RawMessage(out.Body)}, &out
}

func (e *Executor) recordAudit(ctx context.Context, entry connector.AuditEntry) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, entry)
}

func (e *Executor) regionFor(ctx context.Context, orgID string) string {
	if e.residency == nil || orgID == "" {
		return "us"
	}
	report, ok := e.residency.GetResidencyReport(ctx, orgID)
	if !ok {
		return "us"
	}
	return report.Region
}

// Machine error codes for the wire response. These are wire-level codes, distinct
// from the internal ErrConfig/ErrValidation/... taxonomy in connector/errors.go.
const (
	codeValidationError       = "validation_error"
	codeUnauthorized          = "unauthorized"
	codeForbidden             = "forbidden"
	codeNotFound              = "not_found"
	codeConflict              = "conflict"
	codeUnprocessableEntity   = "unprocessable_entity"
	codeRateLimitExceeded     = "rate_limit_exceeded"
	codeServerError           = "server_error"
	codeVendorError           = "vendor_error"
)

func errorResult(code, message string, attempts int) *connector.ExecutionResult {
	return &connector.ExecutionResult{
		Success: false,
		Error:   &connector.ExecError{Code: code, Message: message, Attempts: attempts},
	}
}

func httpErrorCode(status int) string {
	switch status {
	case 400:
		return codeValidationError
	case 401:
		return codeUnauthorized
	case 403:
		return codeForbidden
	case 404:
		return codeNotFound
	case 409:
		return codeConflict
	case 422:
		return codeUnprocessableEntity
	case 429:
		return codeRateLimitExceeded
	default:
		if status >= 500 {
			return codeServerError
		}
		return codeValidationError
	}
}

func extractVendorMessage(body []byte) string {
	var env struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.Message != "" {
		return env.Message
	}
	switch v := env.Error.(type) {
	case string:
		return v
	case map[string]any:
		if m, ok := v["message"].(string); ok {
			return m
		}
	}
	return ""
}

// detectVendorFailureEnvelope covers 2xx-shaped failures: Slack's {ok:false}
// and the generic {error, ok!=true} convention.
func detectVendorFailureEnvelope(body []byte) (string, string, bool) {
	var env struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", false
	}
	if env.OK != nil && !*env.OK {
		return codeVendorError, env.Error, true
	}
	if env.OK == nil && env.Error != "" {
		return codeVendorError, env.Error, true
	}
	return "", "", false
}

func retryAfterFromHeader(resp *http.Response, body []byte) int64 {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return int64(secs) * 1000
	}
	if t, err := http.ParseTime(ra); err == nil {
		wait := time.Until(t)
		if wait > 0 {
			return wait.Milliseconds()
		}
	}
	return 0
}

// mergeRateLimits takes the stricter (lower) of each connector- and
// operation-level rate, a zero field on either side leaving the other's
// value untouched -- monotonicity: merging never widens a limit.
func mergeRateLimits(connectorLevel connector.RateLimits, operationLevel *connector.RateLimits) connector.RateLimits {
	if operationLevel == nil {
		return connectorLevel
	}
	merged := connectorLevel
	merged.RPS = stricter(merged.RPS, operationLevel.RPS)
	merged.RPM = stricter(merged.RPM, operationLevel.RPM)
	merged.RPH = stricter(merged.RPH, operationLevel.RPH)
	merged.RPD = stricter(merged.RPD, operationLevel.RPD)
	if operationLevel.Burst > 0 && (merged.Burst == 0 || operationLevel.Burst < merged.Burst) {
		merged.Burst = operationLevel.Burst
	}
	return merged
}

func stricter(a, b float64) float64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if b < a {
		return b
	}
	return a
}
