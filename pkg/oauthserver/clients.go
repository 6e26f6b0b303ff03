package oauthserver

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pierre-mcp/pierre/pkg/crypto"
)

// ErrClientNotFound is returned when no client exists for a client_id, or
// it exists in a different tenant than the caller asked for.
var ErrClientNotFound = errors.New("oauthserver: client not found")

// Client is a registered OAuth client (RFC 7591). ClientSecretHash is
// never the plaintext secret — RegisterClient returns the plaintext once,
// at creation time, and never again.
type Client struct {
	ClientID         string    `json:"client_id"`
	TenantID         string    `json:"-"`
	ClientSecretHash string    `json:"-"`
	RedirectURIs     []string  `json:"redirect_uris"`
	Scopes           []string  `json:"scopes"`
	GrantTypes       []string  `json:"grant_types"`
	ClientName       string    `json:"client_name,omitempty"`
	FirstParty       bool      `json:"-"`
	CreatedAt        time.Time `json:"-"`
}

// RegistrationRequest is the subset of RFC 7591 fields Pierre accepts.
// FirstParty is never taken from an unauthenticated or non-admin caller
// (Handlers.Register forces it false unless the registering principal is
// an admin) — it is what gates the password grant in tokens.go.
type RegistrationRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
	GrantTypes   []string `json:"grant_types"`
	ClientName   string   `json:"client_name"`
	FirstParty   bool     `json:"first_party,omitempty"`
}

// RegistrationResponse carries the plaintext client_secret exactly once.
type RegistrationResponse struct {
	Client
	ClientSecret string `json:"client_secret"`
}

func (r RegistrationRequest) validate() error {
	if len(r.RedirectURIs) == 0 {
		return errInvalidRequest("redirect_uris is required")
	}
	for _, u := range r.RedirectURIs {
		if u == "" {
			return errInvalidRequest("redirect_uris must not contain an empty value")
		}
	}
	if len(r.GrantTypes) == 0 {
		return errInvalidRequest("grant_types is required")
	}
	for _, g := range r.GrantTypes {
		switch g {
		case "authorization_code", "refresh_token", "client_credentials", "password":
		default:
			return errInvalidRequest(fmt.Sprintf("unsupported grant_type %q", g))
		}
	}
	return nil
}

// RegisterClient implements RFC 7591 dynamic client registration: it mints
// a client_id and a random client_secret, stores only the secret's hash,
// and returns the plaintext secret to the caller this one time.
func (s *Server) RegisterClient(ctx context.Context, tenantID string, req RegistrationRequest) (*RegistrationResponse, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("oauthserver: tenant id required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	secret, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: generate client secret: %w", err)
	}

	client := Client{
		ClientID:         uuid.NewString(),
		TenantID:         tenantID,
		ClientSecretHash: crypto.HashBytes([]byte(secret)),
		RedirectURIs:     req.RedirectURIs,
		Scopes:           req.Scopes,
		GrantTypes:       req.GrantTypes,
		ClientName:       req.ClientName,
		FirstParty:       req.FirstParty,
		CreatedAt:        time.Now().UTC(),
	}

	redirectJSON, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: marshal redirect_uris: %w", err)
	}
	scopesJSON, err := json.Marshal(client.Scopes)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: marshal scopes: %w", err)
	}
	grantsJSON, err := json.Marshal(client.GrantTypes)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: marshal grant_types: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_clients
			(client_id, tenant_id, client_secret, redirect_uris, scopes, grant_types, client_name, first_party, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, client.ClientID, client.TenantID, client.ClientSecretHash, string(redirectJSON), string(scopesJSON), string(grantsJSON), client.ClientName, client.FirstParty, client.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: register client: %w", err)
	}

	return &RegistrationResponse{Client: client, ClientSecret: secret}, nil
}

// GetClient looks up a client by id, scoped to tenant.
func (s *Server) GetClient(ctx context.Context, tenantID, clientID string) (*Client, error) {
	var redirectJSON, scopesJSON, grantsJSON string
	var name sql.NullString
	client := &Client{ClientID: clientID, TenantID: tenantID}

	err := s.db.QueryRowContext(ctx, `
		SELECT client_secret, redirect_uris, scopes, grant_types, client_name, first_party, created_at
		FROM oauth_clients
		WHERE client_id = $1 AND tenant_id = $2
	`, clientID, tenantID).Scan(&client.ClientSecretHash, &redirectJSON, &scopesJSON, &grantsJSON, &name, &client.FirstParty, &client.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oauthserver: get client: %w", err)
	}

	_ = json.Unmarshal([]byte(redirectJSON), &client.RedirectURIs)
	_ = json.Unmarshal([]byte(scopesJSON), &client.Scopes)
	_ = json.Unmarshal([]byte(grantsJSON), &client.GrantTypes)
	client.ClientName = name.String
	return client, nil
}

// getClientAnyTenant looks up a client by id alone, for endpoints (token
// exchange, revocation) that authenticate the client before they know its
// tenant.
func (s *Server) getClientAnyTenant(ctx context.Context, clientID string) (*Client, error) {
	var redirectJSON, scopesJSON, grantsJSON string
	var name sql.NullString
	client := &Client{ClientID: clientID}

	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, client_secret, redirect_uris, scopes, grant_types, client_name, first_party, created_at
		FROM oauth_clients
		WHERE client_id = $1
	`, clientID).Scan(&client.TenantID, &client.ClientSecretHash, &redirectJSON, &scopesJSON, &grantsJSON, &name, &client.FirstParty, &client.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oauthserver: get client: %w", err)
	}

	_ = json.Unmarshal([]byte(redirectJSON), &client.RedirectURIs)
	_ = json.Unmarshal([]byte(scopesJSON), &client.Scopes)
	_ = json.Unmarshal([]byte(grantsJSON), &client.GrantTypes)
	client.ClientName = name.String
	return client, nil
}

// ClientScopes returns the registered scopes for clientID, looked up
// without a tenant filter. This is what auth.NewMiddleware's clientScopes
// callback calls: a request arrives bearing only a bearer token, and the
// client_id it was issued to is only known after parsing the token's
// claims, before the caller's tenant is established independently.
func (s *Server) ClientScopes(ctx context.Context, clientID string) ([]string, error) {
	client, err := s.getClientAnyTenant(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return client.Scopes, nil
}

// AuthenticateClient hash-compares a presented secret against the stored
// hash. Public clients (no stored secret, PKCE-only) compare against an
// empty hash and always fail here — they must use PKCE instead.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := s.getClientAnyTenant(ctx, clientID)
	if errors.Is(err, ErrClientNotFound) {
		return nil, errInvalidClient("client authentication failed")
	}
	if err != nil {
		return nil, err
	}
	if client.ClientSecretHash == "" || crypto.HashBytes([]byte(clientSecret)) != client.ClientSecretHash {
		return nil, errInvalidClient("client authentication failed")
	}
	return client, nil
}

// supportsGrant reports whether the client registered the given grant_type.
func (c *Client) supportsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// hasRedirectURI reports whether uri exactly matches one of the client's
// registered redirect URIs. Matching is exact-character, never prefix or
// host-only.
func (c *Client) hasRedirectURI(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
