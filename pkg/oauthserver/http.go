package oauthserver

import (
	"encoding/json"
	"net/http"

	"github.com/pierre-mcp/pierre/pkg/auth"
)

// tenantFromRequest resolves the tenant the authorization endpoint and
// registration endpoint act on. Both require a caller already
// authenticated by the regular session middleware (a logged-in user
// approving a client, or an admin registering a client on their tenant's
// behalf); the function passed to NewHandlers extracts that principal.
type tenantFromRequest func(r *http.Request) (auth.Principal, bool)

// Handlers bundles the OAuth HTTP endpoints as http.HandlerFuncs, ready
// to mount on a ServeMux. principalOf resolves the calling principal for
// the endpoints that require one (registration, authorize); it may be
// nil if those flows aren't exposed over this mux, in which case those
// endpoints reject every caller as unauthenticated.
type Handlers struct {
	srv        *Server
	principalOf tenantFromRequest
}

func NewHandlers(srv *Server, principalOf tenantFromRequest) *Handlers {
	if principalOf == nil {
		principalOf = func(*http.Request) (auth.Principal, bool) { return nil, false }
	}
	return &Handlers{srv: srv, principalOf: principalOf}
}

func writeOAuthError(w http.ResponseWriter, err error) {
	oe, ok := err.(*OAuthError)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusBadRequest
	switch oe.Code {
	case "invalid_client", "unauthorized_client":
		status = http.StatusUnauthorized
	case "access_denied":
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             oe.Code,
		"error_description": oe.Description,
	})
}

// Discovery serves GET /.well-known/oauth-authorization-server.
func (h *Handlers) Discovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.srv.Discovery())
}

// Register serves POST /oauth/register (RFC 7591).
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, ok := h.principalOf(r)
	if !ok {
		writeOAuthError(w, errInvalidRequest("registration requires an authenticated caller"))
		return
	}

	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, errInvalidRequest("malformed registration request body"))
		return
	}
	if req.FirstParty && principal.GetRole() != auth.RoleAdmin && principal.GetRole() != auth.RoleSuperAdmin {
		req.FirstParty = false
	}

	resp, err := h.srv.RegisterClient(r.Context(), principal.GetTenantID(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// Authorize serves GET /oauth/authorize.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, ok := h.principalOf(r)
	if !ok {
		writeOAuthError(w, errInvalidRequest("authorization requires an authenticated user"))
		return
	}

	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		writeOAuthError(w, errUnsupportedResponseType("only response_type=code is supported"))
		return
	}
	req := AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              splitScope(q.Get("scope")),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	code, err := h.srv.CreateAuthorizationCode(r.Context(), principal.GetTenantID(), principal.GetID(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	redirect := req.RedirectURI + "?code=" + code
	if req.State != "" {
		redirect += "&state=" + req.State
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Token serves POST /oauth/token.
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, errInvalidRequest("malformed form body"))
		return
	}

	req := TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
	}

	resp, err := h.srv.HandleTokenRequest(r.Context(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

// Revoke serves POST /oauth/revoke (RFC 7009).
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, errInvalidRequest("malformed form body"))
		return
	}
	req := RevokeRequest{
		Token:         r.PostForm.Get("token"),
		TokenTypeHint: r.PostForm.Get("token_type_hint"),
		ClientID:      r.PostForm.Get("client_id"),
		ClientSecret:  r.PostForm.Get("client_secret"),
	}
	if err := h.srv.Revoke(r.Context(), req); err != nil {
		writeOAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Introspect serves POST /oauth/introspect (RFC 7662).
func (h *Handlers) Introspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, errInvalidRequest("malformed form body"))
		return
	}
	resp, err := h.srv.Introspect(r.Context(), r.PostForm.Get("token"))
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Mount registers every OAuth endpoint on mux.
func (h *Handlers) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.Discovery)
	mux.HandleFunc("/oauth/register", h.Register)
	mux.HandleFunc("/oauth/authorize", h.Authorize)
	mux.HandleFunc("/oauth/token", h.Token)
	mux.HandleFunc("/oauth/revoke", h.Revoke)
	mux.HandleFunc("/oauth/introspect", h.Introspect)
}
