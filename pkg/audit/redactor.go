package audit

import "strings"

// secretFields lists the metadata keys that must never reach a log
// formatter unredacted. A key is secret when its lower-cased form
// contains any of these as a substring, so "refresh_token" and
// "RefreshToken" both hit.
var secretFields = []string{
	"token",
	"access_token",
	"refresh_token",
	"id_token",
	"secret",
	"client_secret",
	"code_verifier",
	"code_challenge",
	"password",
	"authorization",
}

func isSecretField(key string) bool {
	lower := strings.ToLower(key)
	for _, f := range secretFields {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// redact returns a copy of metadata with every secret-classified field
// replaced by a fixed placeholder, recursing into nested maps. This
// runs unconditionally in Record — there is no opt-out — so a secret
// value can only reach a sink by being misclassified, never by a caller
// forgetting to scrub it.
func redact(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch {
		case isSecretField(k):
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]interface{}); ok {
				out[k] = redact(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
