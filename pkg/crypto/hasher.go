// Package crypto provides canonicalization, hashing, and PKCE primitives
// shared by the OAuth authorization server and the audit log. Envelope
// encryption lives in pkg/kms; JWT signing lives in pkg/identity.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher produces a content-addressed digest of a value, used by the audit
// log to fingerprint request/response bodies without retaining them.
type Hasher interface {
	Hash(v any) (string, error)
}

// CanonicalHasher hashes the canonical JSON encoding of a value with SHA-256.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v any) (string, error) {
	b, err := CanonicalMarshal(v)
	if err != nil {
		return "", fmt.Errorf("crypto: canonical serialization: %w", err)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the hex-encoded SHA-256 digest of raw bytes, prefixed
// with "sha256:".
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
