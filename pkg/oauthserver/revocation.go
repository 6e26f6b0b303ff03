package oauthserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RevokeRequest is the RFC 7009 revocation endpoint body. TokenTypeHint
// is advisory; both tables are always checked regardless of its value.
type RevokeRequest struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
}

// Revoke implements RFC 7009: revoking an unknown token is defined as a
// success, not an error, so callers can't use the response to probe for
// valid tokens. A refresh token revocation also revokes its whole chain,
// matching the reuse-detection behavior in the token endpoint.
func (s *Server) Revoke(ctx context.Context, req RevokeRequest) error {
	if req.Token == "" {
		return errInvalidRequest("token is required")
	}
	if _, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
		return err
	}

	var chainID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE token = $1 AND revoked_at IS NULL
		RETURNING chain_id
	`, req.Token, time.Now().UTC()).Scan(&chainID)
	if err == nil {
		return s.revokeChain(ctx, chainID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("oauthserver: revoke refresh token: %w", err)
	}

	claims, parseErr := s.tokens.ValidateToken(req.Token)
	if parseErr != nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, tenant_id, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (jti) DO NOTHING
	`, claims.ID, claims.TenantID, claims.ExpiresAt.Time, time.Now().UTC()); err != nil {
		return fmt.Errorf("oauthserver: revoke access token: %w", err)
	}
	return nil
}

// IntrospectResponse is the RFC 7662 response body.
type IntrospectResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// Introspect implements RFC 7662. An inactive, expired, revoked, or
// malformed token all collapse to {"active": false} — introspection never
// distinguishes why a token is inactive, only that it is.
func (s *Server) Introspect(ctx context.Context, token string) (*IntrospectResponse, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return &IntrospectResponse{Active: false}, nil
	}
	revoked, err := s.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: introspect: check revocation: %w", err)
	}
	if revoked {
		return &IntrospectResponse{Active: false}, nil
	}
	return &IntrospectResponse{
		Active:    true,
		Scope:     joinScope(claims.Scopes),
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		TenantID:  claims.TenantID,
		ExpiresAt: claims.ExpiresAt.Unix(),
		TokenType: "Bearer",
	}, nil
}

// IsRevoked implements pkg/auth.RevocationChecker against the
// revoked_tokens table, letting the request-authentication middleware
// reject an access token the instant its jti is revoked, without waiting
// for the token's own expiry.
func (s *Server) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > $2
	`, jti, time.Now().UTC()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("oauthserver: check revocation: %w", err)
	}
	return true, nil
}
