package users_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/users"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory users.Store used to exercise the HTTP surface
// without a database.
type memStore struct {
	byID map[string]*users.User
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*users.User)}
}

func (s *memStore) Register(ctx context.Context, tenantID string, req users.RegisterRequest) (*users.User, error) {
	for _, u := range s.byID {
		if u.TenantID == tenantID && u.Email == req.Email {
			return nil, users.ErrEmailTaken
		}
	}
	u := &users.User{
		ID: "u_" + req.Email, TenantID: tenantID, Email: req.Email,
		Role: "user", ApprovalStatus: users.StatusPending, CreatedAt: time.Now().UTC(),
	}
	s.byID[u.ID] = u
	return u, nil
}

func (s *memStore) Get(ctx context.Context, userID string) (*users.User, error) {
	u, ok := s.byID[userID]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}

func (s *memStore) ListPending(ctx context.Context, tenantID string) ([]*users.User, error) {
	var out []*users.User
	for _, u := range s.byID {
		if u.TenantID == tenantID && u.ApprovalStatus == users.StatusPending {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) Approve(ctx context.Context, userID string) (*users.User, error) {
	u, ok := s.byID[userID]
	if !ok {
		return nil, users.ErrNotFound
	}
	now := time.Now().UTC()
	u.ApprovalStatus = users.StatusApproved
	u.ApprovedAt = &now
	return u, nil
}

func (s *memStore) Revoke(ctx context.Context, userID string) error {
	u, ok := s.byID[userID]
	if !ok {
		return users.ErrNotFound
	}
	now := time.Now().UTC()
	u.ApprovalStatus = users.StatusRevoked
	u.RevokedAt = &now
	return nil
}

func (s *memStore) PromoteSuperAdmin(ctx context.Context, userID string) (*users.User, error) {
	u, ok := s.byID[userID]
	if !ok || u.ApprovalStatus != users.StatusApproved {
		return nil, users.ErrNotFound
	}
	u.Role = "super_admin"
	return u, nil
}

func (s *memStore) Authenticate(ctx context.Context, tenantID, email, password string) (*users.User, error) {
	for _, u := range s.byID {
		if u.TenantID == tenantID && u.Email == email {
			if !u.CanAuthenticate() {
				return nil, users.ErrNotApproved
			}
			return u, nil
		}
	}
	return nil, users.ErrInvalidCredentials
}

func withPrincipal(req *http.Request, p auth.Principal) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func TestHandlers_Register(t *testing.T) {
	h := users.NewHandlers(newMemStore())
	body, _ := json.Marshal(map[string]string{"tenant_id": "tenant-a", "email": "rider@example.com", "password": "correct-horse-battery"})

	req := httptest.NewRequest(http.MethodPost, "/users/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Register(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got users.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, users.StatusPending, got.ApprovalStatus)
}

func TestHandlers_Register_MissingTenantID(t *testing.T) {
	h := users.NewHandlers(newMemStore())
	body, _ := json.Marshal(map[string]string{"email": "rider@example.com", "password": "correct-horse-battery"})

	req := httptest.NewRequest(http.MethodPost, "/users/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Register(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_Register_DuplicateEmail(t *testing.T) {
	store := newMemStore()
	h := users.NewHandlers(store)
	body, _ := json.Marshal(map[string]string{"tenant_id": "tenant-a", "email": "rider@example.com", "password": "correct-horse-battery"})

	req := httptest.NewRequest(http.MethodPost, "/users/register", bytes.NewReader(body))
	h.Register(httptest.NewRecorder(), req)

	req2 := httptest.NewRequest(http.MethodPost, "/users/register", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	h.Register(w2, req2)

	require.Equal(t, http.StatusConflict, w2.Code)
}

func TestHandlers_AdminUsers_RequiresPrincipal(t *testing.T) {
	h := users.NewHandlers(newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_AdminUsers_ListPending(t *testing.T) {
	store := newMemStore()
	store.byID["u_rider@example.com"] = &users.User{
		ID: "u_rider@example.com", TenantID: "tenant-a", Email: "rider@example.com", ApprovalStatus: users.StatusPending,
	}
	h := users.NewHandlers(store)
	admin := &auth.BasePrincipal{ID: "admin-1", TenantID: "tenant-a", Role: auth.RoleAdmin, Scopes: []string{"admin:users.list"}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/admin/users", nil), admin)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []*users.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
}

func TestHandlers_AdminUsers_ListPending_RejectsNonAdmin(t *testing.T) {
	h := users.NewHandlers(newMemStore())
	regular := &auth.BasePrincipal{ID: "user-1", TenantID: "tenant-a", Role: auth.RoleUser}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/admin/users", nil), regular)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlers_AdminUsers_Approve(t *testing.T) {
	store := newMemStore()
	store.byID["u1"] = &users.User{ID: "u1", TenantID: "tenant-a", Email: "rider@example.com", ApprovalStatus: users.StatusPending}
	h := users.NewHandlers(store)
	admin := &auth.BasePrincipal{ID: "admin-1", TenantID: "tenant-a", Role: auth.RoleAdmin, Scopes: []string{"admin:users.approve"}}

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/users/u1/approve", nil), admin)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, users.StatusApproved, store.byID["u1"].ApprovalStatus)
}

func TestHandlers_AdminUsers_Approve_RejectsCrossTenant(t *testing.T) {
	store := newMemStore()
	store.byID["u1"] = &users.User{ID: "u1", TenantID: "tenant-b", Email: "rider@example.com", ApprovalStatus: users.StatusPending}
	h := users.NewHandlers(store)
	admin := &auth.BasePrincipal{ID: "admin-1", TenantID: "tenant-a", Role: auth.RoleAdmin, Scopes: []string{"admin:users.approve"}}

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/users/u1/approve", nil), admin)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, users.StatusPending, store.byID["u1"].ApprovalStatus)
}

func TestHandlers_AdminUsers_Revoke(t *testing.T) {
	store := newMemStore()
	store.byID["u1"] = &users.User{ID: "u1", TenantID: "tenant-a", Email: "rider@example.com", ApprovalStatus: users.StatusApproved}
	h := users.NewHandlers(store)
	admin := &auth.BasePrincipal{ID: "admin-1", TenantID: "tenant-a", Role: auth.RoleAdmin, Scopes: []string{"admin:users.revoke"}}

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/users/u1/revoke", nil), admin)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, users.StatusRevoked, store.byID["u1"].ApprovalStatus)
}

func TestHandlers_AdminUsers_Promote_RequiresSuperAdminIssuer(t *testing.T) {
	store := newMemStore()
	store.byID["u1"] = &users.User{ID: "u1", TenantID: "tenant-a", Email: "admin@example.com", ApprovalStatus: users.StatusApproved, Role: "admin"}
	h := users.NewHandlers(store)
	admin := &auth.BasePrincipal{ID: "admin-1", TenantID: "tenant-a", Role: auth.RoleAdmin}

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/users/u1/promote", nil), admin)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "admin", store.byID["u1"].Role)
}

func TestHandlers_AdminUsers_Promote_Succeeds(t *testing.T) {
	store := newMemStore()
	store.byID["u1"] = &users.User{ID: "u1", TenantID: "tenant-a", Email: "admin@example.com", ApprovalStatus: users.StatusApproved, Role: "admin"}
	h := users.NewHandlers(store)
	superAdmin := &auth.BasePrincipal{ID: "super-1", TenantID: "tenant-a", Role: auth.RoleSuperAdmin}

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/users/u1/promote", nil), superAdmin)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "super_admin", store.byID["u1"].Role)
}

func TestHandlers_AdminUsers_UnknownRoute(t *testing.T) {
	h := users.NewHandlers(newMemStore())
	admin := &auth.BasePrincipal{ID: "admin-1", TenantID: "tenant-a", Role: auth.RoleAdmin}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/admin/users/u1/unknown", nil), admin)
	w := httptest.NewRecorder()
	h.AdminUsers(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
