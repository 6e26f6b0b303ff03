package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pierre-mcp/pierre/pkg/api"
	"github.com/pierre-mcp/pierre/pkg/identity"
)

// RevocationChecker reports whether a token's jti has been revoked
// (logout, refresh-token chain reuse, admin kill-switch). Checked on
// every request after signature and expiry pass.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// publicPaths are endpoints reachable without a bearer token: the OAuth
// authorization server's own endpoints (which authenticate clients and
// users by other means) and the liveness probe.
var publicPaths = []string{
	"/healthz",
	"/.well-known/oauth-authorization-server",
	"/oauth/register",
	"/oauth/authorize",
	"/oauth/token",
	"/oauth/revoke",
	"/oauth/introspect",
	"/users/register",
}

// publicPrefixes covers path families rather than single routes. The
// provider OAuth authorize/callback endpoints authenticate themselves:
// authorize resolves its own bearer principal (same validation this
// middleware does, applied inline), and callback is reached directly by
// the fitness provider's redirect carrying no Authorization header at
// all, authenticated instead by its single-use state parameter.
var publicPrefixes = []string{
	"/providers/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// NewMiddleware builds the Session & Token Authenticator as HTTP
// middleware: it extracts the bearer token, validates signature and
// expiry via tokens, checks the jti against revocations (fail closed if
// the checker itself errors), and injects a Principal carrying the
// effective scope set (token ∩ client ∩ user, per clientScopes and
// userScopes) into the request context.
//
// clientScopes and userScopes resolve the registered scopes for the
// token's client_id and subject respectively; revocations may be nil to
// skip the check (tests, or deployments without a revocation store).
func NewMiddleware(
	tokens *identity.TokenManager,
	revocations RevocationChecker,
	clientScopes func(ctx context.Context, clientID string) ([]string, error),
	userScopes func(ctx context.Context, userID string) ([]string, error),
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			tokenStr := parts[1]

			if tokens == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := tokens.ValidateToken(tokenStr)
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" || claims.TenantID == "" {
				api.WriteUnauthorized(w, "Token is missing required subject or tenant binding")
				return
			}

			if revocations != nil {
				revoked, err := revocations.IsRevoked(r.Context(), claims.ID)
				if err != nil {
					api.WriteUnauthorized(w, "Unable to verify token revocation status")
					return
				}
				if revoked {
					api.WriteUnauthorized(w, "Token has been revoked")
					return
				}
			}

			effective := claims.Scopes
			if clientScopes != nil && claims.ClientID != "" {
				cs, err := clientScopes(r.Context(), claims.ClientID)
				if err != nil {
					api.WriteUnauthorized(w, "Unable to resolve client scopes")
					return
				}
				effective = IntersectScopes(effective, cs)
			}
			if userScopes != nil {
				us, err := userScopes(r.Context(), claims.Subject)
				if err != nil {
					api.WriteUnauthorized(w, "Unable to resolve user scopes")
					return
				}
				effective = IntersectScopes(effective, us)
			}

			principal := &BasePrincipal{
				ID:       claims.Subject,
				TenantID: claims.TenantID,
				ClientID: claims.ClientID,
				Role:     Role(claims.Role),
				Scopes:   effective,
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
