package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}
type mcpSessionIDKey struct{}

// mcpSessionIDHeader mirrors pkg/transport.SessionIDHeader. It's
// redeclared here rather than imported to avoid pkg/auth depending on
// pkg/transport for one header name — the Session & Token Authenticator
// sits below the transport layer in the pipeline, not above it.
const mcpSessionIDHeader = "Mcp-Session-Id"

// RequestIDMiddleware injects a unique X-Request-ID into every request
// context and response header (reusing the client's, if sent), and, when
// present, carries the MCP transport's own Mcp-Session-Id into the same
// context so audit entries and error responses can report both: which
// HTTP request failed, and which long-lived MCP session it belonged to.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		if sessionID := r.Header.Get(mcpSessionIDHeader); sessionID != "" {
			ctx = context.WithValue(ctx, mcpSessionIDKey{}, sessionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetMCPSessionID extracts the MCP session id the request carried, if
// any. Requests outside the MCP transport (OAuth, provider callbacks,
// admin endpoints) never set this.
func GetMCPSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(mcpSessionIDKey{}).(string); ok {
		return id
	}
	return ""
}
