package registry_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pierre-mcp/pierre/pkg/registry"
	"github.com/pierre-mcp/pierre/pkg/tooling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pingSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func echoEntry() registry.Entry {
	return registry.Entry{
		Descriptor: tooling.Descriptor{
			Name:           "echo",
			Description:    "echoes params back",
			Category:       "debug",
			RequiredScopes: []string{"tools:call"},
			InputSchema:    pingSchema(),
		},
		Handler: func(ctx context.Context, params []byte) ([]byte, error) {
			return params, nil
		},
	}
}

func TestInMemoryCatalog_RegisterAndLookup(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	require.NoError(t, c.Register(echoEntry()))

	e, err := c.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", e.Descriptor.Name)
	assert.NotNil(t, e.Handler)
}

func TestInMemoryCatalog_Lookup_NotFound(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	_, err := c.Lookup("missing")
	assert.ErrorIs(t, err, registry.ErrToolNotFound)
}

func TestInMemoryCatalog_Register_RejectsMissingHandler(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	entry := echoEntry()
	entry.Handler = nil
	assert.Error(t, c.Register(entry))
}

func TestInMemoryCatalog_Register_RejectsInvalidDescriptor(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	entry := echoEntry()
	entry.Descriptor.InputSchema = nil
	assert.Error(t, c.Register(entry))
}

func TestInMemoryCatalog_List_FiltersByCategory(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	require.NoError(t, c.Register(echoEntry()))

	other := echoEntry()
	other.Descriptor.Name = "activities.list"
	other.Descriptor.Category = "fitness"
	require.NoError(t, c.Register(other))

	fitness := c.List(registry.Filter{Category: "fitness"})
	require.Len(t, fitness, 1)
	assert.Equal(t, "activities.list", fitness[0].Descriptor.Name)

	all := c.List(registry.Filter{})
	assert.Len(t, all, 2)
}

func TestInMemoryCatalog_List_FiltersByScope(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	require.NoError(t, c.Register(echoEntry()))

	admin := echoEntry()
	admin.Descriptor.Name = "admin.suspend_tenant"
	admin.Descriptor.RequiredScopes = []string{"admin:tenants"}
	require.NoError(t, c.Register(admin))

	visible := c.List(registry.Filter{Scopes: []string{"tools:call"}})
	require.Len(t, visible, 1)
	assert.Equal(t, "echo", visible[0].Descriptor.Name)
}

func TestInMemoryCatalog_List_IsOrderedByName(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	for _, name := range []string{"zeta", "alpha", "mu"} {
		e := echoEntry()
		e.Descriptor.Name = name
		require.NoError(t, c.Register(e))
	}

	names := make([]string, 0, 3)
	for _, e := range c.List(registry.Filter{}) {
		names = append(names, e.Descriptor.Name)
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, names)
}

func TestInMemoryCatalog_Register_Overwrites(t *testing.T) {
	c := registry.NewInMemoryCatalog()
	require.NoError(t, c.Register(echoEntry()))

	updated := echoEntry()
	updated.Descriptor.Description = "updated description"
	require.NoError(t, c.Register(updated))

	e, err := c.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, "updated description", e.Descriptor.Description)
}
