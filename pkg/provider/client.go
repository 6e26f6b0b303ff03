package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pierre-mcp/pierre/pkg/credentials"
	"github.com/pierre-mcp/pierre/pkg/util/resiliency"
)

// ErrReauthRequired is surfaced to callers of AccessToken when refresh
// fails for a reason that only the user can fix (revoked or expired
// refresh token, provider 4xx). The client transitions to Disconnected and
// will not retry on subsequent calls until the user re-authorizes.
var ErrReauthRequired = errors.New("provider: reauthorization required")

// tokenSkew is subtracted from a token's expiry before comparing to now,
// so a token about to expire mid-request is refreshed proactively.
const tokenSkew = 60 * time.Second

// TokenResponse is the provider's RFC 6749 §5.1 access token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Client drives the Provider OAuth Client state machine for every
// (tenant, user, provider) triple against a single Descriptor-described
// provider. One Client instance is shared across all tenants/users that
// connect to that provider; state lives in the credential store and the
// state store, not on the Client.
type Client struct {
	descriptor   Descriptor
	clientID     string
	clientSecret string
	redirectURI  string

	creds  credentials.Store
	states StateStore
	http   *resiliency.EnhancedClient

	refreshMu sync.Mutex
	inflight  map[string]*refreshCall
}

type refreshCall struct {
	done chan struct{}
	cred *credentials.ProviderCredential
	err  error
}

// NewClient constructs a Client for one provider from its Descriptor and
// the server's own client_id/secret registered with that provider.
func NewClient(d Descriptor, clientID, clientSecret, redirectURI string, creds credentials.Store, states StateStore) *Client {
	return &Client{
		descriptor:   d,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		creds:        creds,
		states:       states,
		http:         resiliency.NewEnhancedClient(d.Name),
		inflight:     make(map[string]*refreshCall),
	}
}

// AuthorizeURL implements authorize_url(tenant, user, provider): a URL
// with a single-use, cryptographically random state bound server-side to
// (tenant, user, provider) with a short TTL.
func (c *Client) AuthorizeURL(ctx context.Context, tenantID, userID string, stateTTL time.Duration) (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}
	if err := c.states.Put(ctx, state, PendingAuthorization{
		TenantID:    tenantID,
		UserID:      userID,
		Provider:    c.descriptor.Name,
		RedirectURI: c.redirectURI,
		CreatedAt:   time.Now().UTC(),
	}, stateTTL); err != nil {
		return "", fmt.Errorf("provider: store pending authorization: %w", err)
	}

	q := url.Values{
		"client_id":     {c.clientID},
		"redirect_uri":  {c.redirectURI},
		"response_type": {"code"},
		"state":         {state},
		"scope":         {strings.Join(c.descriptor.DefaultScopes, c.descriptor.ScopeSeparator)},
	}
	return c.descriptor.AuthorizeURL + "?" + q.Encode(), nil
}

// CompleteCallback implements complete_callback(state, code): validates
// state equality exactly once (TakeOnce deletes it), exchanges the code
// for tokens, and atomically stores them via the Credential Store.
func (c *Client) CompleteCallback(ctx context.Context, state, code string) (*credentials.ProviderCredential, error) {
	pending, err := c.states.TakeOnce(ctx, state)
	if err != nil {
		return nil, err
	}

	tok, err := c.exchangeCode(ctx, code, pending.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("provider: code exchange: %w", err)
	}

	cred := c.toCredential(pending.TenantID, pending.UserID, tok)
	if err := c.creds.SaveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("provider: save credential: %w", err)
	}
	return cred, nil
}

// AccessToken implements access_token(tenant, user, provider): the core
// read path used by tool dispatch. Returns a usable access token,
// refreshing at most once per concurrent wave of callers.
func (c *Client) AccessToken(ctx context.Context, tenantID, userID string) (string, error) {
	cred, err := c.creds.GetCredential(ctx, tenantID, userID, c.descriptor.Name)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return "", ErrReauthRequired
		}
		return "", err
	}

	if !cred.NeedsRefresh(tokenSkew) {
		return cred.AccessToken, nil
	}

	refreshed, err := c.coalescedRefresh(ctx, tenantID, userID, cred)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// coalescedRefresh ensures only one refresh HTTP call is in flight per
// (tenant, user, provider) at a time; concurrent callers share the result.
func (c *Client) coalescedRefresh(ctx context.Context, tenantID, userID string, cred *credentials.ProviderCredential) (*credentials.ProviderCredential, error) {
	key := tenantID + ":" + userID + ":" + c.descriptor.Name

	c.refreshMu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.refreshMu.Unlock()
		<-call.done
		return call.cred, call.err
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.refreshMu.Unlock()

	call.cred, call.err = c.doRefresh(ctx, tenantID, userID, cred)

	c.refreshMu.Lock()
	delete(c.inflight, key)
	c.refreshMu.Unlock()
	close(call.done)

	return call.cred, call.err
}

func (c *Client) doRefresh(ctx context.Context, tenantID, userID string, cred *credentials.ProviderCredential) (*credentials.ProviderCredential, error) {
	tok, err := c.refreshToken(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, errProviderClientError) {
			_ = c.creds.RevokeCredential(ctx, tenantID, userID, c.descriptor.Name)
			return nil, ErrReauthRequired
		}
		return nil, fmt.Errorf("provider: refresh: %w", err)
	}

	newCred := c.toCredential(tenantID, userID, tok)
	if newCred.RefreshToken == "" {
		newCred.RefreshToken = cred.RefreshToken // providers may omit rotation
	}
	if err := c.creds.SaveCredential(ctx, newCred); err != nil {
		return nil, fmt.Errorf("provider: save refreshed credential: %w", err)
	}
	return newCred, nil
}

func (c *Client) toCredential(tenantID, userID string, tok *TokenResponse) *credentials.ProviderCredential {
	expiresAt := time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
	var scopes []string
	if tok.Scope != "" {
		scopes = strings.Split(tok.Scope, c.descriptor.ScopeSeparator)
	}
	return &credentials.ProviderCredential{
		TenantID:     tenantID,
		UserID:       userID,
		Provider:     c.descriptor.Name,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scopes:       scopes,
		ExpiresAt:    &expiresAt,
	}
}

// errProviderClientError marks a 4xx provider response as non-retriable —
// the refresh token itself is invalid, not a transient failure.
var errProviderClientError = errors.New("provider: client error")

func (c *Client) exchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	return c.doTokenRequest(ctx, form)
}

func (c *Client) refreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.doTokenRequest(ctx, form)
}

func (c *Client) doTokenRequest(ctx context.Context, form url.Values) (*TokenResponse, error) {
	if c.descriptor.AuthStyleInBody {
		form.Set("client_id", c.clientID)
		form.Set("client_secret", c.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.descriptor.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if !c.descriptor.AuthStyleInBody {
		req.SetBasicAuth(c.clientID, c.clientSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, errProviderClientError
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("provider: %s token endpoint returned %d", c.descriptor.Name, resp.StatusCode)
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("provider: decode token response: %w", err)
	}
	return &tok, nil
}

// Disconnect revokes the stored credential and, if the provider exposes a
// deauthorize endpoint, best-effort notifies it.
func (c *Client) Disconnect(ctx context.Context, tenantID, userID string) error {
	cred, err := c.creds.GetCredential(ctx, tenantID, userID, c.descriptor.Name)
	if err == nil && c.descriptor.DeauthorizeURL != "" {
		_ = c.notifyDeauthorize(ctx, cred.AccessToken)
	}
	return c.creds.RevokeCredential(ctx, tenantID, userID, c.descriptor.Name)
}

func (c *Client) notifyDeauthorize(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.descriptor.DeauthorizeURL,
		strings.NewReader(url.Values{"access_token": {accessToken}}.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return nil
}
