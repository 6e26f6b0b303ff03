package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalMarshal marshals v into a deterministic JSON encoding: sorted
// map keys (the encoding/json default), no HTML escaping, no indentation,
// no trailing newline. This is the encoding audit-log content hashes and
// PKCE-adjacent fingerprints are computed over, so the same value always
// hashes the same way regardless of map iteration order.
func CanonicalMarshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("crypto: canonical encode: %w", err)
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}
