// Package credentials implements the Credential Store:
// tenant-scoped encrypted storage of provider OAuth tokens and OAuth
// client secrets. Every operation takes an explicit tenant id and binds it
// into the encryption AAD, so a store call without a tenant argument is a
// compile error rather than a runtime check, and a ciphertext copied
// across tenants fails to decrypt.
package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pierre-mcp/pierre/pkg/kms"
)

// ErrNotFound is returned when no credential exists for the given
// (tenant, user, provider) triple.
var ErrNotFound = errors.New("credentials: not found")

const purposeProviderCredential = "provider_credential"

// ProviderCredential is a tenant-scoped, per-user OAuth token set for one
// fitness provider. AccessToken and RefreshToken are held in plaintext
// only in memory; SaveCredential encrypts both before they touch storage
// and GetCredential never returns an error that leaks ciphertext.
type ProviderCredential struct {
	TenantID     string     `json:"-"`
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	Scopes       []string   `json:"scopes,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NeedsRefresh reports whether the access token is expired or expiring
// within the provider client's refresh window.
func (c *ProviderCredential) NeedsRefresh(window time.Duration) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return time.Until(*c.ExpiresAt) < window
}

// Status is the public, secret-free view of a credential returned to API
// callers and audit log entries.
type Status struct {
	Provider  string     `json:"provider"`
	Connected bool       `json:"connected"`
	Scopes    []string   `json:"scopes,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Store is the Credential Store contract. Implementations MUST treat the
// tenant id as part of the query predicate on every operation, never as
// an optional filter applied afterward.
type Store interface {
	SaveCredential(ctx context.Context, cred *ProviderCredential) error
	GetCredential(ctx context.Context, tenantID, userID, provider string) (*ProviderCredential, error)
	RevokeCredential(ctx context.Context, tenantID, userID, provider string) error
	ListStatus(ctx context.Context, tenantID, userID string, providers []string) ([]Status, error)
}

// SQLStore implements Store against Postgres/sqlite, encrypting token
// material with the shared kms.Manager before it reaches the database.
type SQLStore struct {
	db  *sql.DB
	kms kms.Manager
	mu  sync.RWMutex
}

func NewSQLStore(db *sql.DB, manager kms.Manager) *SQLStore {
	return &SQLStore{db: db, kms: manager}
}

// SaveCredential upserts a credential, encrypting both tokens under
// AAD = (tenant, purpose, user, provider).
func (s *SQLStore) SaveCredential(ctx context.Context, cred *ProviderCredential) error {
	if cred.TenantID == "" {
		return fmt.Errorf("credentials: tenant id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	aad := s.aad(cred.TenantID, cred.UserID, cred.Provider)

	encAccess, err := s.kms.Encrypt(cred.AccessToken, aad)
	if err != nil {
		return fmt.Errorf("credentials: encrypt access token: %w", err)
	}
	encRefresh, err := s.kms.Encrypt(cred.RefreshToken, aad)
	if err != nil {
		return fmt.Errorf("credentials: encrypt refresh token: %w", err)
	}
	scopesJSON, err := json.Marshal(cred.Scopes)
	if err != nil {
		return fmt.Errorf("credentials: marshal scopes: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_credentials
			(tenant_id, user_id, provider, access_token, refresh_token, scopes, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (tenant_id, user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scopes = EXCLUDED.scopes,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, cred.TenantID, cred.UserID, cred.Provider, encAccess, encRefresh, string(scopesJSON), cred.ExpiresAt, now)
	if err != nil {
		return fmt.Errorf("credentials: save: %w", err)
	}
	return nil
}

// GetCredential returns ErrNotFound if the (tenant, user, provider) row
// does not exist. It never returns a row belonging to a different tenant:
// the WHERE predicate always includes tenant_id, so a colliding user or
// provider id in another tenant is invisible to this query.
func (s *SQLStore) GetCredential(ctx context.Context, tenantID, userID, provider string) (*ProviderCredential, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("credentials: tenant id required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encAccess, encRefresh, scopesJSON sql.NullString
	var expiresAt sql.NullTime
	cred := &ProviderCredential{TenantID: tenantID, UserID: userID, Provider: provider}

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, scopes, expires_at, created_at, updated_at
		FROM provider_credentials
		WHERE tenant_id = $1 AND user_id = $2 AND provider = $3
	`, tenantID, userID, provider).Scan(&encAccess, &encRefresh, &scopesJSON, &expiresAt, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: get: %w", err)
	}

	aad := s.aad(tenantID, userID, provider)
	if encAccess.Valid {
		if cred.AccessToken, err = s.kms.Decrypt(encAccess.String, aad); err != nil {
			return nil, fmt.Errorf("credentials: decrypt access token: %w", err)
		}
	}
	if encRefresh.Valid {
		if cred.RefreshToken, err = s.kms.Decrypt(encRefresh.String, aad); err != nil {
			return nil, fmt.Errorf("credentials: decrypt refresh token: %w", err)
		}
	}
	if scopesJSON.Valid {
		_ = json.Unmarshal([]byte(scopesJSON.String), &cred.Scopes)
	}
	if expiresAt.Valid {
		cred.ExpiresAt = &expiresAt.Time
	}
	return cred, nil
}

// RevokeCredential deletes a credential row, scoped to tenant.
func (s *SQLStore) RevokeCredential(ctx context.Context, tenantID, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM provider_credentials WHERE tenant_id = $1 AND user_id = $2 AND provider = $3
	`, tenantID, userID, provider)
	if err != nil {
		return fmt.Errorf("credentials: revoke: %w", err)
	}
	return nil
}

// ListStatus returns the connected/expiry status for each requested
// provider, without ever exposing token material.
func (s *SQLStore) ListStatus(ctx context.Context, tenantID, userID string, providers []string) ([]Status, error) {
	statuses := make([]Status, 0, len(providers))
	for _, p := range providers {
		cred, err := s.GetCredential(ctx, tenantID, userID, p)
		if errors.Is(err, ErrNotFound) {
			statuses = append(statuses, Status{Provider: p, Connected: false})
			continue
		}
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, Status{
			Provider:  p,
			Connected: cred.AccessToken != "",
			Scopes:    cred.Scopes,
			ExpiresAt: cred.ExpiresAt,
		})
	}
	return statuses, nil
}

func (s *SQLStore) aad(tenantID, userID, provider string) []byte {
	return kms.AAD(tenantID, purposeProviderCredential, userID, provider)
}
