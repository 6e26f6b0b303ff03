package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// VerifyPKCE checks a code_verifier against a stored code_challenge per
// RFC 7636 §4.6. Only the S256 method is supported; "plain" is rejected
// because the spec requires code_challenge_method ∈ {S256} for PKCE-required
// clients.
func VerifyPKCE(verifier, challenge, method string) bool {
	if method != "S256" {
		return false
	}
	if verifier == "" || challenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ComputeS256Challenge derives the code_challenge a client would send for a
// given verifier. Exposed for tests and for first-party client tooling.
func ComputeS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
