// Package a2a is the A2A Bridge: a thin JSON envelope
// over client_credentials-authenticated HTTP that dispatches straight
// into the same pkg/dispatch.Dispatcher every MCP transport uses. No
// MCP-specific machinery (sampling, progress, cancellation) applies
// here; an agent that wants to watch a long-running tool's progress
// does so by polling, not by holding a stream open.
package a2a

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pierre-mcp/pierre/pkg/api"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/authz"
	"github.com/pierre-mcp/pierre/pkg/dispatch"
	"github.com/pierre-mcp/pierre/pkg/tooling"
)

// invokeRequest is the envelope body for POST /a2a/invoke.
type invokeRequest struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// invokeResponse carries exactly one of Result or Error, never both.
type invokeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *invokeError    `json:"error,omitempty"`
}

type invokeError struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Fields  []tooling.FieldError `json:"fields,omitempty"`
}

// Handler serves POST /a2a/invoke. The dispatcher it wraps is the exact
// same *dispatch.Dispatcher the MCP engine calls for tools/call; an A2A
// client and an MCP client invoking the same tool name go through
// identical lookup, scope, schema, and audit steps.
type Handler struct {
	dispatcher *dispatch.Dispatcher
}

func NewHandler(dispatcher *dispatch.Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "no authenticated principal for this request")
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "malformed request body, expected {tool, params}")
		return
	}
	if req.Tool == "" {
		api.WriteBadRequest(w, "tool is required")
		return
	}

	result, invokeErr := h.dispatcher.Invoke(r.Context(), principal, req.Tool, req.Params, dispatch.Invocation{})

	w.Header().Set("Content-Type", "application/json")
	if invokeErr == nil {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(invokeResponse{Result: result})
		return
	}

	status, body := mapError(invokeErr)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(invokeResponse{Error: body})
}

// mapError turns a dispatch.Invoke error into an HTTP status and the
// envelope's error body, mirroring pkg/mcpserver's protocol-error
// mapping for the same error vocabulary.
func mapError(err error) (int, *invokeError) {
	switch {
	case errors.Is(err, dispatch.ErrToolNotFound):
		return http.StatusNotFound, &invokeError{Code: "tool_not_found", Message: err.Error()}
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden, &invokeError{Code: "forbidden", Message: err.Error()}
	case errors.Is(err, dispatch.ErrCancelled):
		return http.StatusGatewayTimeout, &invokeError{Code: "cancelled", Message: err.Error()}
	}

	var verr *tooling.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, &invokeError{Code: "invalid_params", Message: verr.Error(), Fields: verr.Fields}
	}

	// A handler error that isn't one of the above sentinels is the
	// tool's own failure, not a dispatch/protocol failure: it still
	// reaches the caller as structured data rather than a 500.
	return http.StatusUnprocessableEntity, &invokeError{Code: "tool_error", Message: err.Error()}
}
