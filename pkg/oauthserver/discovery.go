package oauthserver

// Discovery is the RFC 8414 authorization server metadata document,
// served at /.well-known/oauth-authorization-server.
type Discovery struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
}

// Discovery builds the metadata document for this server's issuer URL.
// PKCE is mandatory and S256 is the only supported method, matching the
// enforcement in ExchangeAuthorizationCode.
func (s *Server) Discovery() Discovery {
	base := s.cfg.IssuerURL
	return Discovery{
		Issuer:                        base,
		AuthorizationEndpoint:         base + "/oauth/authorize",
		TokenEndpoint:                 base + "/oauth/token",
		RegistrationEndpoint:          base + "/oauth/register",
		RevocationEndpoint:            base + "/oauth/revoke",
		IntrospectionEndpoint:         base + "/oauth/introspect",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token", "client_credentials"},
		CodeChallengeMethodsSupported: []string{"S256"},
		TokenEndpointAuthMethods:      []string{"client_secret_post"},
	}
}
