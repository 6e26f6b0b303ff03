package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRevocationChecker struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocationChecker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

func setupTokens(t *testing.T) (identity.KeySet, *identity.TokenManager) {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	return ks, identity.NewTokenManager(ks, "https://pierre.test")
}

func issueToken(t *testing.T, tm *identity.TokenManager, sub, tenantID, clientID string, scopes []string, role, jti string, ttl time.Duration) string {
	t.Helper()
	tok, err := tm.IssueAccessToken(identity.TokenParams{
		Subject:  sub,
		TenantID: tenantID,
		ClientID: clientID,
		Scopes:   scopes,
		Role:     role,
	}, jti, ttl)
	require.NoError(t, err)
	return tok
}

func TestMiddleware_ValidToken(t *testing.T) {
	_, tm := setupTokens(t)
	middleware := auth.NewMiddleware(tm, nil, nil, nil)

	var captured auth.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		require.NoError(t, err)
		captured = p
		w.WriteHeader(http.StatusOK)
	}))

	token := issueToken(t, tm, "user-123", "tenant-abc", "client-1", []string{"tools:call"}, "admin", "jti-1", time.Hour)

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "user-123", captured.GetID())
	assert.Equal(t, "tenant-abc", captured.GetTenantID())
	assert.Equal(t, "client-1", captured.GetClientID())
	assert.True(t, captured.HasScope("tools:call"))
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	_, tm := setupTokens(t)
	middleware := auth.NewMiddleware(tm, nil, nil, nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for expired token")
	}))

	token := issueToken(t, tm, "user-123", "tenant-abc", "", nil, "user", "jti-2", -time.Hour)

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	_, tm := setupTokens(t)
	middleware := auth.NewMiddleware(tm, nil, nil, nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without auth header")
	}))

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	_, tm1 := setupTokens(t)
	_, tm2 := setupTokens(t)
	middleware := auth.NewMiddleware(tm2, nil, nil, nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for invalid signature")
	}))

	token := issueToken(t, tm1, "user-123", "tenant-abc", "", nil, "user", "jti-3", time.Hour)

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_PublicPathsBypass(t *testing.T) {
	_, tm := setupTokens(t)
	middleware := auth.NewMiddleware(tm, nil, nil, nil)

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_NilTokenManager_FailClosed(t *testing.T) {
	middleware := auth.NewMiddleware(nil, nil, nil, nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called when token manager is nil")
	}))

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_MissingTenantClaim(t *testing.T) {
	_, tm := setupTokens(t)
	middleware := auth.NewMiddleware(tm, nil, nil, nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for missing tenant claim")
	}))

	token := issueToken(t, tm, "user-123", "", "", nil, "user", "jti-4", time.Hour)
	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_RevokedTokenRejected(t *testing.T) {
	_, tm := setupTokens(t)
	checker := &fakeRevocationChecker{revoked: map[string]bool{"jti-5": true}}
	middleware := auth.NewMiddleware(tm, checker, nil, nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for revoked token")
	}))

	token := issueToken(t, tm, "user-123", "tenant-abc", "", nil, "user", "jti-5", time.Hour)
	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_EffectiveScopesAreIntersected(t *testing.T) {
	_, tm := setupTokens(t)
	clientScopes := func(ctx context.Context, clientID string) ([]string, error) {
		return []string{"tools:call", "tools:list"}, nil
	}
	userScopes := func(ctx context.Context, userID string) ([]string, error) {
		return []string{"tools:call", "resources:read"}, nil
	}
	middleware := auth.NewMiddleware(tm, nil, clientScopes, userScopes)

	var captured auth.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		require.NoError(t, err)
		captured = p
		w.WriteHeader(http.StatusOK)
	}))

	token := issueToken(t, tm, "user-123", "tenant-abc", "client-1",
		[]string{"tools:call", "tools:list", "resources:read"}, "user", "jti-6", time.Hour)
	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.NotNil(t, captured)
	assert.True(t, captured.HasScope("tools:call"))
	assert.False(t, captured.HasScope("tools:list"), "tools:list is absent from user scopes")
	assert.False(t, captured.HasScope("resources:read"), "resources:read is absent from client scopes")
}

func TestGetRequestID_ExtractsFromContext(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.NotEmpty(t, got)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
