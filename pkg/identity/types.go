// Package identity issues and verifies Pierre's Access Tokens: signed JWTs
// carrying subject, tenant, client, scopes, and a jti checked against a
// revocation list at validation time.
package identity

import "github.com/golang-jwt/jwt/v5"

// Claims is the payload of a Pierre access token: a standard registered
// claim set (sub, iat, exp, jti) plus the tenant/client/scope/role fields
// the Request Authorizer and Credential Store need.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes,omitempty"`
	Role     string   `json:"role,omitempty"`
}

// HasScope reports whether the token's scope set contains scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
