// Package oauthserver is Pierre's OAuth 2.1 Authorization Server:
// dynamic client registration (RFC 7591), the
// authorization endpoint with mandatory PKCE (RFC 7636), the token
// endpoint for the authorization_code, refresh_token, client_credentials,
// and password (ROPC, first-party clients only) grants, token revocation
// (RFC 7009), introspection, and discovery (RFC 8414). It issues access
// tokens through pkg/identity.TokenManager and persists clients, codes,
// and refresh tokens through pkg/store's schema.
package oauthserver

import (
	"database/sql"
	"time"

	"github.com/pierre-mcp/pierre/pkg/identity"
	"github.com/pierre-mcp/pierre/pkg/users"
)

// Config holds the TTLs and issuer identity the server stamps into every
// token and discovery document it issues.
type Config struct {
	IssuerURL      string
	AccessTokenTTL time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = 10 * time.Minute
	}
	return c
}

// Server is the Authorization Server. It is safe for concurrent use; all
// single-use and rotation invariants are enforced by the database, not by
// in-process locking, so multiple Server instances behind a load balancer
// behave correctly.
type Server struct {
	db     *sql.DB
	tokens *identity.TokenManager
	cfg    Config
	users  users.Store
}

// New constructs a Server. tokens issues and validates the JWT access
// tokens the token endpoint returns; db is the shared Postgres handle
// pkg/store.Migrate has already prepared. userStore backs the password
// grant's credential check; it may be nil, in which case the password
// grant is rejected for every client regardless of FirstParty (a bootstrap
// server that never constructs a users.Store simply never supports ROPC).
func New(db *sql.DB, tokens *identity.TokenManager, cfg Config, userStore users.Store) *Server {
	return &Server{db: db, tokens: tokens, cfg: cfg.withDefaults(), users: userStore}
}
