package tenants

import (
	"context"
	"errors"
)

// ErrMissingTenant is returned by FromContext when no tenant was resolved
// upstream. Any operation that needs a tenant and did not receive one must
// fail with this error at the boundary rather than default or guess.
var ErrMissingTenant = errors.New("tenants: missing tenant in context")

type contextKey string

const tenantKey contextKey = "tenant"

// WithTenant attaches a resolved Tenant to ctx. Called exactly once per
// request, at the transport/authentication boundary, never again
// downstream — the value is carried immutably from there on.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// FromContext retrieves the Tenant attached by WithTenant.
func FromContext(ctx context.Context) (Tenant, error) {
	t, ok := ctx.Value(tenantKey).(Tenant)
	if !ok {
		return Tenant{}, ErrMissingTenant
	}
	return t, nil
}

// IDFromContext is a convenience for the common case of needing only the
// tenant id, e.g. to scope a repository call or cache key prefix.
func IDFromContext(ctx context.Context) (string, error) {
	t, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}
