// Package tenants implements Tenant Context and the tenant
// registry: every persistent row and cache key in Pierre carries a tenant
// id, and every request resolves its tenant exactly once at the
// transport/authentication boundary, then carries it immutably downstream.
package tenants

import "time"

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Tenant is the isolation unit of Pierre: every user, provider credential,
// OAuth client, and audit entry belongs to exactly one tenant. Created at
// registration, never implicitly. Store.Delete marks a tenant deleted and
// does not remove the data it owns.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Suspended *time.Time     `json:"suspended_at,omitempty"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsActive reports whether the tenant may authenticate new sessions.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// CreateRequest is the input to Store.Create.
type CreateRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
