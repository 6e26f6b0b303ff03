package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/credentials"
	"github.com/pierre-mcp/pierre/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCredStore is a minimal credentials.Store for provider tests.
type memCredStore struct {
	creds map[string]*credentials.ProviderCredential
}

func newMemCredStore() *memCredStore {
	return &memCredStore{creds: make(map[string]*credentials.ProviderCredential)}
}

func (s *memCredStore) key(tenantID, userID, p string) string { return tenantID + ":" + userID + ":" + p }

func (s *memCredStore) SaveCredential(ctx context.Context, cred *credentials.ProviderCredential) error {
	s.creds[s.key(cred.TenantID, cred.UserID, cred.Provider)] = cred
	return nil
}

func (s *memCredStore) GetCredential(ctx context.Context, tenantID, userID, p string) (*credentials.ProviderCredential, error) {
	cred, ok := s.creds[s.key(tenantID, userID, p)]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return cred, nil
}

func (s *memCredStore) RevokeCredential(ctx context.Context, tenantID, userID, p string) error {
	delete(s.creds, s.key(tenantID, userID, p))
	return nil
}

func (s *memCredStore) ListStatus(ctx context.Context, tenantID, userID string, providers []string) ([]credentials.Status, error) {
	return nil, nil
}

func testDescriptor(tokenURL string) provider.Descriptor {
	return provider.Descriptor{
		Name:            "strava",
		AuthorizeURL:    "https://example.test/authorize",
		TokenURL:        tokenURL,
		DefaultScopes:   []string{"activity:read_all"},
		ScopeSeparator:  ",",
		AuthStyleInBody: true,
	}
}

func TestClient_AuthorizeURLAndCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		_ = json.NewEncoder(w).Encode(provider.TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    3600,
		})
	}))
	defer srv.Close()

	creds := newMemCredStore()
	states := provider.NewInMemoryStateStore()
	c := provider.NewClient(testDescriptor(srv.URL), "client-id", "client-secret", "https://pierre.test/callback", creds, states)

	authURL, err := c.AuthorizeURL(context.Background(), "t_1", "u_1", time.Minute)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	cred, err := c.CompleteCallback(context.Background(), state, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)

	_, err = c.CompleteCallback(context.Background(), state, "auth-code")
	assert.ErrorIs(t, err, provider.ErrStateNotFound, "replaying a consumed state must fail")
}

func TestClient_AccessToken_ReturnsUnexpiredWithoutRefresh(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		_ = json.NewEncoder(w).Encode(provider.TokenResponse{AccessToken: "should-not-be-called", ExpiresIn: 3600})
	}))
	defer srv.Close()

	creds := newMemCredStore()
	expiresAt := time.Now().Add(time.Hour)
	require.NoError(t, creds.SaveCredential(context.Background(), &credentials.ProviderCredential{
		TenantID: "t_1", UserID: "u_1", Provider: "strava",
		AccessToken: "still-valid", RefreshToken: "r1", ExpiresAt: &expiresAt,
	}))

	c := provider.NewClient(testDescriptor(srv.URL), "id", "secret", "cb", creds, provider.NewInMemoryStateStore())

	token, err := c.AccessToken(context.Background(), "t_1", "u_1")
	require.NoError(t, err)
	assert.Equal(t, "still-valid", token)
	assert.Equal(t, int32(0), atomic.LoadInt32(&tokenCalls))
}

func TestClient_AccessToken_RefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(provider.TokenResponse{AccessToken: "refreshed", RefreshToken: "r2", ExpiresIn: 3600})
	}))
	defer srv.Close()

	creds := newMemCredStore()
	expiresAt := time.Now().Add(-time.Minute)
	require.NoError(t, creds.SaveCredential(context.Background(), &credentials.ProviderCredential{
		TenantID: "t_1", UserID: "u_1", Provider: "strava",
		AccessToken: "expired", RefreshToken: "r1", ExpiresAt: &expiresAt,
	}))

	c := provider.NewClient(testDescriptor(srv.URL), "id", "secret", "cb", creds, provider.NewInMemoryStateStore())

	token, err := c.AccessToken(context.Background(), "t_1", "u_1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", token)
}

func TestClient_AccessToken_ReauthRequiredOnMissingCredential(t *testing.T) {
	creds := newMemCredStore()
	c := provider.NewClient(testDescriptor("https://unused.test"), "id", "secret", "cb", creds, provider.NewInMemoryStateStore())

	_, err := c.AccessToken(context.Background(), "t_1", "u_1")
	assert.ErrorIs(t, err, provider.ErrReauthRequired)
}

func TestClient_AccessToken_ReauthRequiredOn4xxRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	creds := newMemCredStore()
	expiresAt := time.Now().Add(-time.Minute)
	require.NoError(t, creds.SaveCredential(context.Background(), &credentials.ProviderCredential{
		TenantID: "t_1", UserID: "u_1", Provider: "strava",
		AccessToken: "expired", RefreshToken: "revoked", ExpiresAt: &expiresAt,
	}))

	c := provider.NewClient(testDescriptor(srv.URL), "id", "secret", "cb", creds, provider.NewInMemoryStateStore())

	_, err := c.AccessToken(context.Background(), "t_1", "u_1")
	assert.ErrorIs(t, err, provider.ErrReauthRequired)

	_, err = creds.GetCredential(context.Background(), "t_1", "u_1", "strava")
	assert.ErrorIs(t, err, credentials.ErrNotFound, "failed refresh must revoke the stale credential")
}

func TestClient_AccessToken_CoalescesConcurrentRefresh(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(provider.TokenResponse{AccessToken: "refreshed-once", RefreshToken: "r2", ExpiresIn: 3600})
	}))
	defer srv.Close()

	creds := newMemCredStore()
	expiresAt := time.Now().Add(-time.Minute)
	require.NoError(t, creds.SaveCredential(context.Background(), &credentials.ProviderCredential{
		TenantID: "t_1", UserID: "u_1", Provider: "strava",
		AccessToken: "expired", RefreshToken: "r1", ExpiresAt: &expiresAt,
	}))

	c := provider.NewClient(testDescriptor(srv.URL), "id", "secret", "cb", creds, provider.NewInMemoryStateStore())

	results := make(chan string, 5)
	for i := 0; i < 5; i++ {
		go func() {
			tok, err := c.AccessToken(context.Background(), "t_1", "u_1")
			require.NoError(t, err)
			results <- tok
		}()
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, "refreshed-once", <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls), "concurrent callers must share a single refresh")
}
