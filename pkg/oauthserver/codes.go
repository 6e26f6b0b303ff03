package oauthserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pierre-mcp/pierre/pkg/crypto"
)

// AuthorizeRequest is the parsed authorization endpoint query string.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

func (r AuthorizeRequest) validate() error {
	if r.ClientID == "" {
		return errInvalidRequest("client_id is required")
	}
	if r.RedirectURI == "" {
		return errInvalidRequest("redirect_uri is required")
	}
	if r.CodeChallenge == "" {
		return errInvalidRequest("code_challenge is required")
	}
	if r.CodeChallengeMethod != "S256" {
		return errInvalidRequest("code_challenge_method must be S256")
	}
	return nil
}

// CreateAuthorizationCode validates the client, the exact redirect_uri
// binding, and the PKCE challenge shape, then issues a single-use code
// tied to the authenticated user. The code is opaque and random, never
// derived from client-controlled input.
func (s *Server) CreateAuthorizationCode(ctx context.Context, tenantID, userID string, req AuthorizeRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	client, err := s.GetClient(ctx, tenantID, req.ClientID)
	if errors.Is(err, ErrClientNotFound) {
		return "", errInvalidClient("unknown client_id")
	}
	if err != nil {
		return "", err
	}
	if !client.supportsGrant("authorization_code") {
		return "", errUnauthorizedClient("client is not registered for the authorization_code grant")
	}
	if !client.hasRedirectURI(req.RedirectURI) {
		return "", errInvalidRequest("redirect_uri does not match a registered URI")
	}

	code, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("oauthserver: generate authorization code: %w", err)
	}

	scopesJSON, err := json.Marshal(req.Scopes)
	if err != nil {
		return "", fmt.Errorf("oauthserver: marshal scopes: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO authorization_codes
			(code, tenant_id, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, code, tenantID, req.ClientID, userID, req.RedirectURI, string(scopesJSON), req.CodeChallenge, req.CodeChallengeMethod, now.Add(s.cfg.AuthCodeTTL), now)
	if err != nil {
		return "", fmt.Errorf("oauthserver: create authorization code: %w", err)
	}
	return code, nil
}

type authCodeRow struct {
	tenantID            string
	clientID            string
	userID              string
	redirectURI         string
	scopes              []string
	codeChallenge       string
	codeChallengeMethod string
}

// ExchangeAuthorizationCode atomically consumes a code — the UPDATE's
// WHERE consumed_at IS NULL makes exactly one of two concurrent exchanges
// of the same code succeed, with no extra application-level locking — then
// validates client_id, redirect_uri, and the PKCE verifier against what
// was bound at issuance. The code is burned whether or not these
// post-checks pass, so a failed exchange can never be retried.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*authCodeRow, error) {
	var row authCodeRow
	var scopesJSON string

	err := s.db.QueryRowContext(ctx, `
		UPDATE authorization_codes
		SET consumed_at = $2
		WHERE code = $1 AND consumed_at IS NULL AND expires_at > $2
		RETURNING tenant_id, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method
	`, code, time.Now().UTC()).Scan(&row.tenantID, &row.clientID, &row.userID, &row.redirectURI, &scopesJSON, &row.codeChallenge, &row.codeChallengeMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errInvalidGrant("authorization code is invalid, expired, or already used")
	}
	if err != nil {
		return nil, fmt.Errorf("oauthserver: exchange authorization code: %w", err)
	}
	_ = json.Unmarshal([]byte(scopesJSON), &row.scopes)

	if row.clientID != clientID {
		return nil, errInvalidGrant("authorization code was not issued to this client")
	}
	if row.redirectURI != redirectURI {
		return nil, errInvalidGrant("redirect_uri does not match the value used at authorization time")
	}
	if !crypto.VerifyPKCE(codeVerifier, row.codeChallenge, row.codeChallengeMethod) {
		return nil, errInvalidGrant("code_verifier does not match code_challenge")
	}
	return &row, nil
}
