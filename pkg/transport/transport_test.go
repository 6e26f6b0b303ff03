package transport_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pierre-mcp/pierre/pkg/audit"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/dispatch"
	"github.com/pierre-mcp/pierre/pkg/mcpserver"
	"github.com/pierre-mcp/pierre/pkg/registry"
	"github.com/pierre-mcp/pierre/pkg/tooling"
	"github.com/stretchr/testify/require"
)

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testPrincipal() *auth.BasePrincipal {
	return &auth.BasePrincipal{ID: "user-1", TenantID: "tenant-a", Role: auth.RoleUser, Scopes: []string{"activities:read"}}
}

func testEngine(t *testing.T) *mcpserver.Engine {
	t.Helper()
	catalog := registry.NewInMemoryCatalog()
	require.NoError(t, catalog.Register(registry.Entry{
		Descriptor: tooling.Descriptor{
			Name:           "activities.list",
			Category:       "fitness",
			RequiredScopes: []string{"activities:read"},
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"provider": {"type": "string"}},
				"required": ["provider"]
			}`),
		},
		Handler: func(ctx context.Context, params []byte) ([]byte, error) {
			dispatch.ProgressFromContext(ctx)(0.5, "halfway")
			return json.RawMessage(`{"ok":true}`), nil
		},
	}))
	d := dispatch.New(catalog, audit.NewLoggerWithWriter(noopWriter{}), nil)
	return mcpserver.New(d, catalog, "pierre", "test")
}
