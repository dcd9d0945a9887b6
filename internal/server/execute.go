package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/executor"
)

// maxExecuteBody is the maximum allowed execute request body size (1 MB).
const maxExecuteBody = 1 << 20

type executeRequestBody struct {
	AppID       string                `json:"appId"`
	FunctionID  string                `json:"functionId"`
	Parameters  map[string]any        `json:"parameters"`
	Credentials connector.Credentials `json:"credentials"`
}

type paginatedRequestBody struct {
	executeRequestBody
	MaxPages int `json:"maxPages"`
}

type testConnectionBody struct {
	AppID       string            `json:"appId"`
	Credentials map[string]string `json:"credentials"`
}

// allowedConnector reports whether identity may call appID, honoring a
// non-empty AllowedConnectors allow-list.
func allowedConnector(identity *connector.Identity, appID string) bool {
	if len(identity.AllowedConnectors) == 0 {
		return true
	}
	return slices.Contains(identity.AllowedConnectors, appID)
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequestBody
	if !decodeJSON(w, r, maxExecuteBody, &body) {
		return
	}
	identity := connector.IdentityFromContext(r.Context())
	if !allowedConnector(identity, body.AppID) {
		writeJSON(w, http.StatusForbidden, errorResponse("connector not allowed for this key"))
		return
	}

	result := s.deps.Executor.Execute(r.Context(), executor.ExecuteRequest{
		AppID:       body.AppID,
		FunctionID:  body.FunctionID,
		Parameters:  body.Parameters,
		Credentials: body.Credentials,
	})

	status := http.StatusOK
	if !result.Success {
		status = statusForExecError(result.Error)
	}
	writeJSON(w, status, result)
}

func (s *server) handleExecutePaginated(w http.ResponseWriter, r *http.Request) {
	var body paginatedRequestBody
	if !decodeJSON(w, r, maxExecuteBody, &body) {
		return
	}
	identity := connector.IdentityFromContext(r.Context())
	if !allowedConnector(identity, body.AppID) {
		writeJSON(w, http.StatusForbidden, errorResponse("connector not allowed for this key"))
		return
	}

	result, execErr := s.deps.Executor.ExecutePaginated(r.Context(), executor.PaginatedRequest{
		ExecuteRequest: executor.ExecuteRequest{
			AppID:       body.AppID,
			FunctionID:  body.FunctionID,
			Parameters:  body.Parameters,
			Credentials: body.Credentials,
		},
		MaxPages: body.MaxPages,
	})
	if execErr != nil {
		writeJSON(w, statusForExecError(execErr), executor.PaginatedResult{Pages: result.Pages})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var body testConnectionBody
	if !decodeJSON(w, r, maxExecuteBody, &body) {
		return
	}
	identity := connector.IdentityFromContext(r.Context())
	if !allowedConnector(identity, body.AppID) {
		writeJSON(w, http.StatusForbidden, errorResponse("connector not allowed for this key"))
		return
	}

	result, err := s.deps.Executor.TestConnection(r.Context(), body.AppID, body.Credentials)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("connector not found"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// statusForExecError maps an executor's wire-level error code (see
// executor.go's codeValidationError family) to an HTTP status.
func statusForExecError(err *connector.ExecError) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	switch err.Code {
	case "validation_error", "unprocessable_entity":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusUnauthorized
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "rate_limit_exceeded":
		return http.StatusTooManyRequests
	case "vendor_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// --- Shared JSON response helpers, grounded on the teacher's proxy.go ---

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, connector.ErrUnauthorized), errors.Is(err, connector.ErrKeyExpired):
		return http.StatusUnauthorized
	case errors.Is(err, connector.ErrForbidden), errors.Is(err, connector.ErrKeyBlocked):
		return http.StatusForbidden
	case errors.Is(err, connector.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, connector.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, connector.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, connector.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBody int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}
