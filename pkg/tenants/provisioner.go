package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the tenant registry: registration and lifecycle transitions.
// Every other component that persists data takes a tenant id from a Store
// lookup or from tenants.FromContext — never from a fresh guess.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (*Tenant, error)
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	Suspend(ctx context.Context, tenantID string) error
	Reactivate(ctx context.Context, tenantID string) error
	Delete(ctx context.Context, tenantID string) error
}

// PostgresStore implements Store against the shared Postgres/sqlite schema
// (pkg/store owns the migration; this type only issues queries against it).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create registers a new tenant. Registration is explicit and
// administrator-driven; nothing in Pierre provisions a tenant implicitly.
func (s *PostgresStore) Create(ctx context.Context, req CreateRequest) (*Tenant, error) {
	tenant := &Tenant{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}

	metaJSON, err := json.Marshal(tenant.Metadata)
	if err != nil {
		return nil, fmt.Errorf("tenants: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, status, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, tenant.ID, tenant.Name, tenant.Status, tenant.CreatedAt, metaJSON)
	if err != nil {
		return nil, fmt.Errorf("tenants: create: %w", err)
	}

	return tenant, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	var metaJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at, suspended_at, deleted_at, metadata
		FROM tenants WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.Suspended, &t.DeletedAt, &metaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenants: %s not found", tenantID)
		}
		return nil, fmt.Errorf("tenants: get: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("tenants: unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

func (s *PostgresStore) Suspend(ctx context.Context, tenantID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET status = $1, suspended_at = $2 WHERE id = $3
	`, StatusSuspended, now, tenantID)
	return requireRowAffected(res, err, tenantID)
}

func (s *PostgresStore) Reactivate(ctx context.Context, tenantID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET status = $1, suspended_at = NULL WHERE id = $2
	`, StatusActive, tenantID)
	return requireRowAffected(res, err, tenantID)
}

// Delete marks a tenant deleted: it sets status to deleted and stamps
// deleted_at. The tenant row and the rows it owns (credentials, clients,
// tokens, users) stay in place; no other table is touched, and the
// schema's tenant foreign keys have no ON DELETE CASCADE.
func (s *PostgresStore) Delete(ctx context.Context, tenantID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET status = $1, deleted_at = $2 WHERE id = $3
	`, StatusDeleted, now, tenantID)
	return requireRowAffected(res, err, tenantID)
}

func requireRowAffected(res sql.Result, err error, tenantID string) error {
	if err != nil {
		return fmt.Errorf("tenants: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tenants: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tenants: %s not found", tenantID)
	}
	return nil
}
