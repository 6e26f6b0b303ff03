package oauthserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/identity"
)

// TokenRequest is the parsed application/x-www-form-urlencoded body of a
// POST to the token endpoint, covering every supported grant.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// TokenResponse is the RFC 6749 §5.1 success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

func joinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// HandleTokenRequest dispatches to the grant-specific handler. Every
// client-caused failure ends as an *OAuthError; a storage or signing
// fault comes back as a wrapped plain error.
func (s *Server) HandleTokenRequest(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.handleAuthorizationCodeGrant(ctx, req)
	case "refresh_token":
		return s.handleRefreshTokenGrant(ctx, req)
	case "client_credentials":
		return s.handleClientCredentialsGrant(ctx, req)
	case "password":
		return s.handlePasswordGrant(ctx, req)
	case "":
		return nil, errInvalidRequest("grant_type is required")
	default:
		return nil, errUnsupportedGrantType(fmt.Sprintf("unsupported grant_type %q", req.GrantType))
	}
}

func (s *Server) handleAuthorizationCodeGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, errInvalidRequest("code is required")
	}
	if req.RedirectURI == "" {
		return nil, errInvalidRequest("redirect_uri is required")
	}
	if req.CodeVerifier == "" {
		return nil, errInvalidRequest("code_verifier is required")
	}
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.supportsGrant("authorization_code") {
		return nil, errUnauthorizedClient("client is not registered for the authorization_code grant")
	}

	row, err := s.ExchangeAuthorizationCode(ctx, req.Code, req.ClientID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		return nil, err
	}

	return s.issueTokenPair(ctx, row.tenantID, row.clientID, row.userID, row.scopes, "", "")
}

func (s *Server) handleClientCredentialsGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.supportsGrant("client_credentials") {
		return nil, errUnauthorizedClient("client is not registered for the client_credentials grant")
	}

	requested := splitScope(req.Scope)
	var granted []string
	if len(requested) == 0 {
		granted = client.Scopes
	} else {
		granted = auth.IntersectScopes(requested, client.Scopes)
		if len(granted) == 0 {
			return nil, errInvalidScope("none of the requested scopes are available to this client")
		}
	}

	jti := uuid.NewString()
	accessToken, err := s.tokens.IssueAccessToken(identity.TokenParams{
		Subject:  client.ClientID,
		TenantID: client.TenantID,
		ClientID: client.ClientID,
		Scopes:   granted,
		Role:     string(auth.RoleUser),
	}, jti, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: issue access token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       joinScope(granted),
	}, nil
}

// handlePasswordGrant implements the ROPC grant: the client presents its
// own credentials plus an end user's email and password in the same
// request. It is restricted to clients an admin registered with
// FirstParty set — a third-party integration has no business ever
// collecting a user's Pierre password directly.
func (s *Server) handlePasswordGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, errInvalidRequest("username and password are required")
	}
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.supportsGrant("password") {
		return nil, errUnauthorizedClient("client is not registered for the password grant")
	}
	if !client.FirstParty {
		return nil, errUnauthorizedClient("password grant is restricted to first-party clients")
	}
	if s.users == nil {
		return nil, errUnauthorizedClient("password grant is not available on this server")
	}

	u, err := s.users.Authenticate(ctx, client.TenantID, req.Username, req.Password)
	if err != nil {
		return nil, errInvalidGrant("invalid username or password")
	}

	requested := splitScope(req.Scope)
	var granted []string
	if len(requested) == 0 {
		granted = client.Scopes
	} else {
		granted = auth.IntersectScopes(requested, client.Scopes)
		if len(granted) == 0 {
			return nil, errInvalidScope("none of the requested scopes are available to this client")
		}
	}

	return s.issueTokenPair(ctx, client.TenantID, client.ClientID, u.ID, granted, "", "")
}

// handleRefreshTokenGrant rotates the presented refresh token. The UPDATE
// ... WHERE revoked_at IS NULL ... RETURNING is the same atomic-consume
// pattern as authorization code exchange; zero rows affected because the
// token is unknown, expired, or already revoked is a reuse signal once we
// confirm the token was previously valid, which triggers full chain
// revocation.
func (s *Server) handleRefreshTokenGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, errInvalidRequest("refresh_token is required")
	}
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.supportsGrant("refresh_token") {
		return nil, errUnauthorizedClient("client is not registered for the refresh_token grant")
	}

	var tenantID, clientID, userID, chainID, scopesJSON string
	var accessJTI sql.NullString
	err = s.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE token = $1 AND revoked_at IS NULL AND expires_at > $2
		RETURNING tenant_id, client_id, user_id, scopes, chain_id, access_jti
	`, req.RefreshToken, time.Now().UTC()).Scan(&tenantID, &clientID, &userID, &scopesJSON, &chainID, &accessJTI)
	if errors.Is(err, sql.ErrNoRows) {
		if reused, chkErr := s.reuseChainID(ctx, req.RefreshToken); chkErr == nil && reused != "" {
			_ = s.revokeChain(ctx, reused)
		}
		return nil, errInvalidGrant("refresh_token is invalid, expired, or already used")
	}
	if err != nil {
		return nil, fmt.Errorf("oauthserver: rotate refresh token: %w", err)
	}
	if clientID != req.ClientID {
		return nil, errInvalidGrant("refresh_token was not issued to this client")
	}

	var scopes []string
	_ = json.Unmarshal([]byte(scopesJSON), &scopes)

	return s.issueTokenPair(ctx, tenantID, clientID, userID, scopes, chainID, req.RefreshToken)
}

// reuseChainID looks up the chain_id of a refresh token row regardless of
// its revoked_at state, distinguishing "never existed" (not a reuse) from
// "already revoked" (a reuse, requiring full chain revocation).
func (s *Server) reuseChainID(ctx context.Context, token string) (string, error) {
	var chainID string
	err := s.db.QueryRowContext(ctx, `SELECT chain_id FROM refresh_tokens WHERE token = $1`, token).Scan(&chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("oauthserver: lookup refresh token chain: %w", err)
	}
	return chainID, nil
}

// revokeChain revokes every refresh token in the chain plus every access
// token jti ever issued alongside one of them, so reusing a stolen
// refresh token can't mint a fresh access token from the same lineage.
func (s *Server) revokeChain(ctx context.Context, chainID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, access_jti, expires_at FROM refresh_tokens WHERE chain_id = $1
	`, chainID)
	if err != nil {
		return fmt.Errorf("oauthserver: list chain for revocation: %w", err)
	}
	defer rows.Close()

	type jtiRecord struct {
		tenantID  string
		jti       sql.NullString
		expiresAt time.Time
	}
	var records []jtiRecord
	for rows.Next() {
		var r jtiRecord
		if err := rows.Scan(&r.tenantID, &r.jti, &r.expiresAt); err != nil {
			return fmt.Errorf("oauthserver: scan chain row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("oauthserver: iterate chain rows: %w", err)
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE chain_id = $1 AND revoked_at IS NULL
	`, chainID, now); err != nil {
		return fmt.Errorf("oauthserver: revoke chain: %w", err)
	}
	for _, r := range records {
		if !r.jti.Valid || r.jti.String == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO revoked_tokens (jti, tenant_id, expires_at, revoked_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (jti) DO NOTHING
		`, r.jti.String, r.tenantID, r.expiresAt, now); err != nil {
			return fmt.Errorf("oauthserver: record access token revocation: %w", err)
		}
	}
	return nil
}

// issueTokenPair issues a fresh access token and a fresh refresh token.
// chainID is the chain to join; an empty chainID starts a new chain (the
// first issuance in an authorization_code exchange). rotatedFromToken is
// the previous refresh token this one replaces, recorded for audit, or
// empty on first issuance.
func (s *Server) issueTokenPair(ctx context.Context, tenantID, clientID, userID string, scopes []string, chainID, rotatedFromToken string) (*TokenResponse, error) {
	accessJTI := uuid.NewString()
	accessToken, err := s.tokens.IssueAccessToken(identity.TokenParams{
		Subject:  userID,
		TenantID: tenantID,
		ClientID: clientID,
		Scopes:   scopes,
		Role:     string(auth.RoleUser),
	}, accessJTI, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: issue access token: %w", err)
	}

	if chainID == "" {
		chainID = uuid.NewString()
	}

	refreshToken, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: generate refresh token: %w", err)
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: marshal scopes: %w", err)
	}

	now := time.Now().UTC()
	var rotatedFromCol any
	if rotatedFromToken != "" {
		rotatedFromCol = rotatedFromToken
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens
			(token, tenant_id, client_id, user_id, scopes, chain_id, rotated_from, expires_at, access_jti, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, refreshToken, tenantID, clientID, userID, string(scopesJSON), chainID, rotatedFromCol, now.Add(s.cfg.RefreshTokenTTL), accessJTI, now)
	if err != nil {
		return nil, fmt.Errorf("oauthserver: store refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        joinScope(scopes),
	}, nil
}
