package oauthserver

import "fmt"

// OAuthError is an RFC 6749 §5.2 error response: a fixed code string plus
// a human-readable description. The token/authorize/revoke/introspect
// handlers translate one of these into the wire JSON; any other error
// reaching writeOAuthError is written as a plain-text 500.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("oauthserver: %s: %s", e.Code, e.Description)
}

func errInvalidRequest(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_request", Description: desc}
}

func errInvalidClient(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_client", Description: desc}
}

func errInvalidGrant(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_grant", Description: desc}
}

func errInvalidScope(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_scope", Description: desc}
}

func errUnauthorizedClient(desc string) *OAuthError {
	return &OAuthError{Code: "unauthorized_client", Description: desc}
}

func errUnsupportedGrantType(desc string) *OAuthError {
	return &OAuthError{Code: "unsupported_grant_type", Description: desc}
}

func errUnsupportedResponseType(desc string) *OAuthError {
	return &OAuthError{Code: "unsupported_response_type", Description: desc}
}

func errAccessDenied(desc string) *OAuthError {
	return &OAuthError{Code: "access_denied", Description: desc}
}
