// Package observability provides OpenTelemetry tracing and RED metrics
// for Pierre. It wires one Provider per process covering the MCP
// server, the OAuth authorization server, and outbound provider calls.
//
// # Tracing
//
// Initialize at application startup:
//
//	p, err := observability.New(ctx, &observability.Config{
//		Enabled:      true,
//		ServiceName:  "pierre",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1,
//	})
//	defer p.Shutdown(ctx)
//
// Start a span manually, or track an operation end-to-end:
//
//	ctx, span := p.StartSpan(ctx, "oauth.token_exchange")
//	defer span.End()
//
//	ctx, done := p.TrackOperation(ctx, "dispatch.tool_call", observability.ToolDispatchOperation(tenantID, tool, "", 0)...)
//	defer done(err)
//
// # Metrics
//
// p.Meter() exposes the process's meter for RED (rate/errors/duration)
// instruments; RecordRequest/RecordError/RecordDuration record against
// the provider's own request counters.
package observability
