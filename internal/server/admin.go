package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connectorrt/runtime/internal/app"
	"github.com/connectorrt/runtime/internal/connector"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case errors.Is(err, connector.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, connector.ErrConflict):
		writeJSON(w, status, errorResponse("conflict"))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// resolveOrgID returns the org_id from the query string, defaulting to the
// caller's org. Writes 403 and returns "" if the requested org differs.
func resolveOrgID(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := connector.IdentityFromContext(r.Context())
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		orgID = identity.OrgID
	}
	if orgID != identity.OrgID {
		writeJSON(w, http.StatusForbidden, errorResponse("cannot access resources outside your organization"))
		return "", false
	}
	return orgID, true
}

// parseExpiresAt parses an optional RFC3339 expires_at string pointer.
// Writes 400 and returns false on invalid format.
func parseExpiresAt(w http.ResponseWriter, raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid expires_at format"))
		return nil, false
	}
	return &t, true
}

// --- Connectors ---

func (s *server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	defs, err := s.deps.Store.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list connectors"))
		return
	}
	if defs == nil {
		defs = []*connector.ConnectorDefinition{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       defs,
		Pagination: pagination{Offset: 0, Limit: len(defs), Total: len(defs)},
	})
}

func (s *server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	var def connector.ConnectorDefinition
	if !decodeJSON(w, r, maxAdminBody, &def) {
		return
	}
	if def.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required"))
		return
	}
	if def.ID == "" {
		def.ID = def.Name
	}
	if err := s.deps.Store.PutDefinition(r.Context(), &def); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.DefinitionInvalidator != nil {
		s.deps.DefinitionInvalidator.Invalidate(r.Context(), def.ID)
	}
	w.Header().Set("Location", "/admin/v1/connectors/"+def.ID)
	writeJSON(w, http.StatusCreated, def)
}

func (s *server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *server) handleUpdateConnector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var def connector.ConnectorDefinition
	if !decodeJSON(w, r, maxAdminBody, &def) {
		return
	}
	def.ID = id
	if err := s.deps.Store.PutDefinition(r.Context(), &def); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.DefinitionInvalidator != nil {
		s.deps.DefinitionInvalidator.Invalidate(r.Context(), def.ID)
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *server) handleDeleteConnector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteDefinition(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.DefinitionInvalidator != nil {
		s.deps.DefinitionInvalidator.Invalidate(r.Context(), id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Keys ---

// keyCreateRequest is the payload for creating a new API key.
type keyCreateRequest struct {
	OrgID             string   `json:"org_id"`
	UserID            string   `json:"user_id,omitempty"`
	TeamID            string   `json:"team_id,omitempty"`
	Role              string   `json:"role,omitempty"`
	AllowedConnectors []string `json:"allowed_connectors,omitempty"`
	MaxBudget         *float64 `json:"max_budget,omitempty"`
	ExpiresAt         *string  `json:"expires_at,omitempty"` // RFC3339
}

// keyCreateResponse includes the plaintext key (shown only once).
type keyCreateResponse struct {
	*connector.APIKey
	PlaintextKey string `json:"key"`
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	orgID, ok := resolveOrgID(w, r)
	if !ok {
		return
	}
	offset, limit := parsePagination(r)

	keys, err := s.deps.Store.ListKeys(r.Context(), orgID, offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list keys"))
		return
	}
	if keys == nil {
		keys = []*connector.APIKey{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       keys,
		Pagination: pagination{Offset: offset, Limit: limit, Total: len(keys)},
	})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, maxAdminBody, &req) {
		return
	}
	// Reject unknown roles early to prevent storing invalid data in DB.
	if req.Role != "" && !connector.ValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid role"))
		return
	}
	identity := connector.IdentityFromContext(r.Context())
	if req.OrgID == "" {
		req.OrgID = identity.OrgID
	}
	if req.OrgID != identity.OrgID {
		writeJSON(w, http.StatusForbidden, errorResponse("cannot create keys outside your organization"))
		return
	}

	expiresAt, ok := parseExpiresAt(w, req.ExpiresAt)
	if !ok {
		return
	}

	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), app.CreateKeyOpts{
		OrgID:             req.OrgID,
		UserID:            req.UserID,
		TeamID:            req.TeamID,
		Role:              req.Role,
		AllowedConnectors: req.AllowedConnectors,
		MaxBudget:         req.MaxBudget,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	w.Header().Set("Location", "/admin/v1/keys/"+key.ID)
	writeJSON(w, http.StatusCreated, keyCreateResponse{
		APIKey:       key,
		PlaintextKey: plaintext,
	})
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Keys.DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.KeyInvalidator != nil {
		s.deps.KeyInvalidator.InvalidateByKeyID(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Orgs ---

type orgCreateRequest struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Region            string   `json:"region,omitempty"`
	AllowedConnectors []string `json:"allowed_connectors,omitempty"`
	MaxBudget         *float64 `json:"max_budget,omitempty"`
}

func (s *server) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	orgs, err := s.deps.Store.ListOrgs(r.Context(), offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list orgs"))
		return
	}
	if orgs == nil {
		orgs = []*connector.Organization{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       orgs,
		Pagination: pagination{Offset: offset, Limit: limit, Total: len(orgs)},
	})
}

func (s *server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var req orgCreateRequest
	if !decodeJSON(w, r, maxAdminBody, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required"))
		return
	}
	org := &connector.Organization{
		ID:                req.ID,
		Name:              req.Name,
		Region:            req.Region,
		AllowedConnectors: req.AllowedConnectors,
		MaxBudget:         req.MaxBudget,
		CreatedAt:         time.Now().UTC(),
	}
	if org.ID == "" {
		org.ID = uuid.Must(uuid.NewV7()).String()
	}
	if err := s.deps.Store.CreateOrg(r.Context(), org); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.Header().Set("Location", "/admin/v1/orgs/"+org.ID)
	writeJSON(w, http.StatusCreated, org)
}

func (s *server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	org, err := s.deps.Store.GetOrg(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *server) handleUpdateOrg(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Store.GetOrg(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	var update orgCreateRequest
	if !decodeJSON(w, r, maxAdminBody, &update) {
		return
	}
	if update.Name != "" {
		existing.Name = update.Name
	}
	if update.Region != "" {
		existing.Region = update.Region
	}
	if update.AllowedConnectors != nil {
		existing.AllowedConnectors = update.AllowedConnectors
	}
	if update.MaxBudget != nil {
		existing.MaxBudget = update.MaxBudget
	}

	if err := s.deps.Store.UpdateOrg(r.Context(), existing); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteOrg(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteOrg(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
