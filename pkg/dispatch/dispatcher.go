// Package dispatch is the Tool Dispatcher: the single path every tool
// call takes from an authenticated principal down to a registered
// handler. It looks up the tool, authorizes the caller,
// validates params against the tool's schema, runs the handler under a
// cancellable context registered by progress token, and audits the
// outcome.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pierre-mcp/pierre/pkg/audit"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/authz"
	"github.com/pierre-mcp/pierre/pkg/observability"
	"github.com/pierre-mcp/pierre/pkg/registry"
	"github.com/pierre-mcp/pierre/pkg/tooling"
)

// ErrToolNotFound is returned when the registry has no entry under the
// requested name.
var ErrToolNotFound = registry.ErrToolNotFound

// ErrCancelled is returned when the handler's context was cancelled
// before or during execution, via notifications/cancelled.
var ErrCancelled = errors.New("dispatch: cancelled")

// ProgressFunc reports incremental progress back to the caller. Handlers
// that support progress reporting call it at their own cadence; it is
// nil when the caller didn't supply a progress token.
type ProgressFunc func(pct float64, message string)

// Invocation carries the out-of-band parts of a tool call: the
// cancellation token's home registry, the progress token naming this
// particular call within it, and an optional progress reporter.
type Invocation struct {
	Cancellation  *CancellationRegistry
	ProgressToken string
	Progress      ProgressFunc
}

type progressKey struct{}

// ProgressFromContext returns the ProgressFunc Invoke attached to ctx, or
// a no-op if the caller supplied no Invocation.Progress. A handler that
// wants to stream incremental status calls this once at the top of its
// body rather than threading Invocation through its own signature.
func ProgressFromContext(ctx context.Context) ProgressFunc {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		return fn
	}
	return func(float64, string) {}
}

// Dispatcher is the concrete §4.8 Tool Dispatcher.
type Dispatcher struct {
	catalog registry.Catalog
	audit   audit.Logger
	obs     *observability.Provider
}

// New creates a Dispatcher over catalog, recording every call through
// logger. obs may be nil to skip span/metric instrumentation (e.g. in
// tests).
func New(catalog registry.Catalog, logger audit.Logger, obs *observability.Provider) *Dispatcher {
	return &Dispatcher{catalog: catalog, audit: logger, obs: obs}
}

// Invoke looks up the tool, authorizes the caller, validates params, runs
// the handler, and audits the outcome, in that order. inv may be the zero
// value when the caller has no cancellation/progress machinery.
func (d *Dispatcher) Invoke(ctx context.Context, principal auth.Principal, toolName string, params json.RawMessage, inv Invocation) (json.RawMessage, error) {
	entry, err := d.catalog.Lookup(toolName)
	if err != nil {
		d.recordOutcome(ctx, principal, toolName, "not_found", 0)
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	if err := authz.RequireAllScopes(principal, entry.Descriptor.RequiredScopes); err != nil {
		d.recordOutcome(ctx, principal, toolName, "forbidden", 0)
		return nil, err
	}

	if err := entry.Descriptor.ValidateParams(params); err != nil {
		d.recordOutcome(ctx, principal, toolName, "invalid_params", 0)
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if inv.Cancellation != nil && inv.ProgressToken != "" {
		callCtx, cancel = inv.Cancellation.Register(ctx, inv.ProgressToken)
		defer inv.Cancellation.Unregister(inv.ProgressToken)
		defer cancel()
	}
	if inv.Progress != nil {
		callCtx = context.WithValue(callCtx, progressKey{}, inv.Progress)
	}

	start := time.Now()
	result, handlerErr := entry.Handler(callCtx, params)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	status := "ok"
	outErr := handlerErr
	if handlerErr != nil {
		status = "error"
		if callCtx.Err() == context.Canceled {
			status = "cancelled"
			outErr = ErrCancelled
		}
	}

	d.recordOutcome(ctx, principal, toolName, status, latencyMs)
	if d.obs != nil {
		_, finish := d.obs.TrackOperation(ctx, "dispatch.invoke",
			observability.ToolDispatchOperation(principal.GetTenantID(), toolName, status, latencyMs)...)
		finish(outErr)
	}

	if outErr != nil {
		return nil, outErr
	}
	return result, nil
}

func (d *Dispatcher) recordOutcome(ctx context.Context, principal auth.Principal, toolName, status string, latencyMs float64) {
	if d.audit == nil {
		return
	}
	meta := map[string]interface{}{
		"status":     status,
		"latency_ms": latencyMs,
	}
	if principal != nil {
		meta["tenant_id"] = principal.GetTenantID()
		meta["client_id"] = principal.GetClientID()
	}
	_ = d.audit.Record(ctx, audit.EventAccess, "tool.invoke", toolName, meta)
}
