package users

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pierre-mcp/pierre/pkg/api"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/authz"
)

// Handlers bundles the User entity's HTTP surface: self-registration
// (public, pre-authentication) and the admin approval queue (gated by
// pkg/authz's Admin endpoints rule).
type Handlers struct {
	store Store
}

func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

type registerRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register serves POST /users/register: self-service signup. The caller
// isn't authenticated yet — there's no principal to resolve a tenant
// from — so tenant_id travels in the body, the same way the OAuth
// dynamic-registration flow only resolves its tenant from a caller
// that's already authenticated some other way.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "malformed registration request body")
		return
	}
	if req.TenantID == "" {
		api.WriteBadRequest(w, "tenant_id is required")
		return
	}

	u, err := h.store.Register(r.Context(), req.TenantID, RegisterRequest{Email: req.Email, Password: req.Password})
	switch {
	case errors.Is(err, ErrEmailTaken):
		api.WriteConflict(w, err.Error())
		return
	case err != nil:
		api.WriteBadRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(u)
}

// AdminUsers serves the admin approval queue, mounted under
// /admin/users/. GET lists this tenant's pending registrations; POST
// .../{id}/approve and .../{id}/revoke act on one, requiring RequireAdmin
// plus RequireOwnership against the target user's tenant; POST
// .../{id}/promote elevates an admin to super_admin and requires
// RequireSuperAdminIssuer instead, per the Super-admin issuance rule.
func (h *Handlers) AdminUsers(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/users"), "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.listPending(w, r, principal)
	case strings.HasSuffix(rest, "/approve") && r.Method == http.MethodPost:
		h.approve(w, r, principal, strings.TrimSuffix(rest, "/approve"))
	case strings.HasSuffix(rest, "/revoke") && r.Method == http.MethodPost:
		h.revoke(w, r, principal, strings.TrimSuffix(rest, "/revoke"))
	case strings.HasSuffix(rest, "/promote") && r.Method == http.MethodPost:
		h.promote(w, r, principal, strings.TrimSuffix(rest, "/promote"))
	default:
		api.WriteNotFound(w, "unknown admin users route")
	}
}

func (h *Handlers) listPending(w http.ResponseWriter, r *http.Request, principal auth.Principal) {
	if err := authz.RequireAdmin(principal, "users.list"); err != nil {
		api.WriteForbidden(w, err.Error())
		return
	}
	pending, err := h.store.ListPending(r.Context(), principal.GetTenantID())
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pending)
}

// authorizeTarget checks RequireAdmin for action, then loads userID and
// checks RequireOwnership against its tenant, writing an error response
// and returning ok=false on any failure.
func (h *Handlers) authorizeTarget(w http.ResponseWriter, r *http.Request, principal auth.Principal, action, userID string) (*User, bool) {
	if err := authz.RequireAdmin(principal, action); err != nil {
		api.WriteForbidden(w, err.Error())
		return nil, false
	}
	if userID == "" {
		api.WriteBadRequest(w, "user id is required")
		return nil, false
	}
	target, err := h.store.Get(r.Context(), userID)
	if errors.Is(err, ErrNotFound) {
		api.WriteNotFound(w, "user not found")
		return nil, false
	}
	if err != nil {
		api.WriteInternal(w, err)
		return nil, false
	}
	if err := authz.RequireOwnership(principal, target.TenantID); err != nil {
		api.WriteForbidden(w, err.Error())
		return nil, false
	}
	return target, true
}

func (h *Handlers) approve(w http.ResponseWriter, r *http.Request, principal auth.Principal, userID string) {
	target, ok := h.authorizeTarget(w, r, principal, "users.approve", userID)
	if !ok {
		return
	}
	u, err := h.store.Approve(r.Context(), target.ID)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(u)
}

// promote serves .../{id}/promote: elevating an admin to super_admin,
// gated by the Super-admin issuance rule rather than RequireAdmin — only
// an existing super_admin may mint another one.
func (h *Handlers) promote(w http.ResponseWriter, r *http.Request, principal auth.Principal, userID string) {
	if err := authz.RequireSuperAdminIssuer(principal); err != nil {
		api.WriteForbidden(w, err.Error())
		return
	}
	if userID == "" {
		api.WriteBadRequest(w, "user id is required")
		return
	}
	target, err := h.store.Get(r.Context(), userID)
	if errors.Is(err, ErrNotFound) {
		api.WriteNotFound(w, "user not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if err := authz.RequireOwnership(principal, target.TenantID); err != nil {
		api.WriteForbidden(w, err.Error())
		return
	}

	u, err := h.store.PromoteSuperAdmin(r.Context(), target.ID)
	if errors.Is(err, ErrNotFound) {
		api.WriteNotFound(w, "user not found, not approved, or not an admin")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(u)
}

func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request, principal auth.Principal, userID string) {
	target, ok := h.authorizeTarget(w, r, principal, "users.revoke", userID)
	if !ok {
		return
	}
	if err := h.store.Revoke(r.Context(), target.ID); err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
