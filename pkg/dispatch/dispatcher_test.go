package dispatch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/audit"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/authz"
	"github.com/pierre-mcp/pierre/pkg/dispatch"
	"github.com/pierre-mcp/pierre/pkg/registry"
	"github.com/pierre-mcp/pierre/pkg/tooling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"provider": {"type": "string"}},
		"required": ["provider"]
	}`)
}

func principal(scopes ...string) *auth.BasePrincipal {
	return &auth.BasePrincipal{ID: "user-1", TenantID: "tenant-a", Role: auth.RoleUser, Scopes: scopes}
}

func newCatalog(t *testing.T, handler registry.Handler, scopes ...string) registry.Catalog {
	t.Helper()
	c := registry.NewInMemoryCatalog()
	require.NoError(t, c.Register(registry.Entry{
		Descriptor: tooling.Descriptor{
			Name:           "activities.list",
			Category:       "fitness",
			RequiredScopes: scopes,
			InputSchema:    schema(),
		},
		Handler: handler,
	}))
	return c
}

func TestDispatcher_Invoke_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)
	catalog := newCatalog(t, func(ctx context.Context, params []byte) ([]byte, error) {
		return json.RawMessage(`{"ok": true}`), nil
	}, "activities:read")

	d := dispatch.New(catalog, logger, nil)
	result, err := d.Invoke(context.Background(), principal("activities:read"), "activities.list",
		json.RawMessage(`{"provider": "strava"}`), dispatch.Invocation{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(result))
	assert.Contains(t, buf.String(), `"action":"tool.invoke"`)
}

func TestDispatcher_Invoke_ToolNotFound(t *testing.T) {
	catalog := registry.NewInMemoryCatalog()
	d := dispatch.New(catalog, audit.NewLoggerWithWriter(&bytes.Buffer{}), nil)

	_, err := d.Invoke(context.Background(), principal(), "missing.tool", nil, dispatch.Invocation{})
	assert.ErrorIs(t, err, dispatch.ErrToolNotFound)
}

func TestDispatcher_Invoke_ForbiddenOnMissingScope(t *testing.T) {
	catalog := newCatalog(t, func(ctx context.Context, params []byte) ([]byte, error) {
		return nil, nil
	}, "activities:read")
	d := dispatch.New(catalog, audit.NewLoggerWithWriter(&bytes.Buffer{}), nil)

	_, err := d.Invoke(context.Background(), principal("tools:call"), "activities.list",
		json.RawMessage(`{"provider": "strava"}`), dispatch.Invocation{})
	assert.ErrorIs(t, err, authz.ErrForbidden)
}

func TestDispatcher_Invoke_InvalidParams(t *testing.T) {
	catalog := newCatalog(t, func(ctx context.Context, params []byte) ([]byte, error) {
		return nil, nil
	}, "activities:read")
	d := dispatch.New(catalog, audit.NewLoggerWithWriter(&bytes.Buffer{}), nil)

	_, err := d.Invoke(context.Background(), principal("activities:read"), "activities.list",
		json.RawMessage(`{}`), dispatch.Invocation{})
	require.Error(t, err)
	var verr *tooling.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDispatcher_Invoke_HandlerError(t *testing.T) {
	handlerErr := errors.New("provider unavailable")
	catalog := newCatalog(t, func(ctx context.Context, params []byte) ([]byte, error) {
		return nil, handlerErr
	}, "activities:read")
	d := dispatch.New(catalog, audit.NewLoggerWithWriter(&bytes.Buffer{}), nil)

	_, err := d.Invoke(context.Background(), principal("activities:read"), "activities.list",
		json.RawMessage(`{"provider": "strava"}`), dispatch.Invocation{})
	assert.ErrorIs(t, err, handlerErr)
}

func TestDispatcher_Invoke_CancellationReturnsErrCancelled(t *testing.T) {
	started := make(chan struct{})
	catalog := newCatalog(t, func(ctx context.Context, params []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, "activities:read")
	d := dispatch.New(catalog, audit.NewLoggerWithWriter(&bytes.Buffer{}), nil)

	reg := dispatch.NewCancellationRegistry()
	inv := dispatch.Invocation{Cancellation: reg, ProgressToken: "progress-xyz"}

	done := make(chan error, 1)
	go func() {
		_, err := d.Invoke(context.Background(), principal("activities:read"), "activities.list",
			json.RawMessage(`{"provider": "strava"}`), inv)
		done <- err
	}()

	<-started
	require.True(t, reg.Cancel("progress-xyz"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, dispatch.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}
}

func TestDispatcher_Invoke_UnregistersTokenOnCompletion(t *testing.T) {
	catalog := newCatalog(t, func(ctx context.Context, params []byte) ([]byte, error) {
		return json.RawMessage(`{}`), nil
	}, "activities:read")
	d := dispatch.New(catalog, audit.NewLoggerWithWriter(&bytes.Buffer{}), nil)

	reg := dispatch.NewCancellationRegistry()
	_, err := d.Invoke(context.Background(), principal("activities:read"), "activities.list",
		json.RawMessage(`{"provider": "strava"}`), dispatch.Invocation{Cancellation: reg, ProgressToken: "progress-done"})
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}
