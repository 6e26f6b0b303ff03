// Package observability provides Pierre-specific OTel instrumentation
// helpers: semantic-convention attribute keys and span helpers for the
// MCP, OAuth, and dispatch spans.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Pierre-specific semantic convention attributes.
var (
	// Tenant/session attributes.
	AttrTenantID  = attribute.Key("pierre.tenant.id")
	AttrSessionID = attribute.Key("pierre.session.id")

	// MCP protocol attributes.
	AttrMCPMethod    = attribute.Key("pierre.mcp.method")
	AttrMCPRequestID = attribute.Key("pierre.mcp.request_id")
	AttrMCPTransport = attribute.Key("pierre.mcp.transport")

	// Tool dispatch attributes.
	AttrToolName      = attribute.Key("pierre.tool.name")
	AttrToolStatus    = attribute.Key("pierre.tool.status")
	AttrToolLatencyMs = attribute.Key("pierre.tool.latency_ms")

	// OAuth authorization server attributes.
	AttrOAuthClientID = attribute.Key("pierre.oauth.client_id")
	AttrOAuthGrant    = attribute.Key("pierre.oauth.grant_type")
	AttrOAuthScopes   = attribute.Key("pierre.oauth.scopes")

	// Provider OAuth attributes.
	AttrProviderName   = attribute.Key("pierre.provider.name")
	AttrProviderAction = attribute.Key("pierre.provider.action")
)

// MCPOperation creates attributes for an MCP request span.
func MCPOperation(sessionID, method, requestID, transport string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrMCPMethod.String(method),
		AttrMCPRequestID.String(requestID),
		AttrMCPTransport.String(transport),
	}
}

// ToolDispatchOperation creates attributes for a tool dispatch span.
func ToolDispatchOperation(tenantID, toolName, status string, latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrToolName.String(toolName),
		AttrToolStatus.String(status),
		AttrToolLatencyMs.Float64(latencyMs),
	}
}

// OAuthOperation creates attributes for an OAuth authorization-server span.
func OAuthOperation(tenantID, clientID, grantType string, scopes []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrOAuthClientID.String(clientID),
		AttrOAuthGrant.String(grantType),
		AttrOAuthScopes.StringSlice(scopes),
	}
}

// ProviderOperation creates attributes for an outbound provider OAuth call.
func ProviderOperation(tenantID, provider, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrProviderName.String(provider),
		AttrProviderAction.String(action),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span, if non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
