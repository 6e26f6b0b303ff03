package tenants_test

import (
	"context"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/tenants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory tenants.Store used to test lifecycle semantics
// without a database.
type memStore struct {
	byID map[string]*tenants.Tenant
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*tenants.Tenant)}
}

func (s *memStore) Create(ctx context.Context, req tenants.CreateRequest) (*tenants.Tenant, error) {
	t := &tenants.Tenant{
		ID:        "tenant-" + req.Name,
		Name:      req.Name,
		Status:    tenants.StatusActive,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	s.byID[t.ID] = t
	return t, nil
}

func (s *memStore) Get(ctx context.Context, tenantID string) (*tenants.Tenant, error) {
	t, ok := s.byID[tenantID]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (s *memStore) Suspend(ctx context.Context, tenantID string) error {
	t, ok := s.byID[tenantID]
	if !ok {
		return assert.AnError
	}
	now := time.Now().UTC()
	t.Status = tenants.StatusSuspended
	t.Suspended = &now
	return nil
}

func (s *memStore) Reactivate(ctx context.Context, tenantID string) error {
	t, ok := s.byID[tenantID]
	if !ok {
		return assert.AnError
	}
	t.Status = tenants.StatusActive
	t.Suspended = nil
	return nil
}

func (s *memStore) Delete(ctx context.Context, tenantID string) error {
	t, ok := s.byID[tenantID]
	if !ok {
		return assert.AnError
	}
	now := time.Now().UTC()
	t.Status = tenants.StatusDeleted
	t.DeletedAt = &now
	return nil
}

func TestStore_Create(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	tenant, err := store.Create(ctx, tenants.CreateRequest{Name: "acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, tenant.ID)
	assert.Equal(t, "acme", tenant.Name)
	assert.Equal(t, tenants.StatusActive, tenant.Status)
	assert.True(t, tenant.IsActive())
}

func TestStore_Lifecycle(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	tenant, err := store.Create(ctx, tenants.CreateRequest{Name: "lifecycle"})
	require.NoError(t, err)

	require.NoError(t, store.Suspend(ctx, tenant.ID))
	got, err := store.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusSuspended, got.Status)
	assert.NotNil(t, got.Suspended)
	assert.False(t, got.IsActive())

	require.NoError(t, store.Reactivate(ctx, tenant.ID))
	got, err = store.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusActive, got.Status)

	require.NoError(t, store.Delete(ctx, tenant.ID))
	got, err = store.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusDeleted, got.Status)
	assert.NotNil(t, got.DeletedAt)
}

func TestWithTenant_RoundTrips(t *testing.T) {
	ctx := tenants.WithTenant(context.Background(), tenants.Tenant{ID: "t_1", Name: "acme"})

	got, err := tenants.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t_1", got.ID)

	id, err := tenants.IDFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t_1", id)
}

func TestFromContext_MissingTenant(t *testing.T) {
	_, err := tenants.FromContext(context.Background())
	require.ErrorIs(t, err, tenants.ErrMissingTenant)
}
