package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches the cost dexidp-style password stores use: expensive
// enough to resist offline cracking, cheap enough for an interactive login.
const bcryptCost = 12

var (
	// ErrNotFound is returned when no user matches the given id or email.
	ErrNotFound = errors.New("users: not found")
	// ErrEmailTaken is returned by Register when the tenant already has a
	// user registered under that email.
	ErrEmailTaken = errors.New("users: email already registered in this tenant")
	// ErrInvalidCredentials covers a wrong password or an email Register
	// never saw, given back identically so a login endpoint can't be used
	// to enumerate which emails exist.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrNotApproved is returned by Authenticate for a user whose
	// password matches but whose approval_status isn't "approved" yet
	// (still pending, or since revoked).
	ErrNotApproved = errors.New("users: account is not approved")
)

// Store is the User entity's persistence contract: self-registration,
// the admin approval gate, revocation, and password authentication.
type Store interface {
	Register(ctx context.Context, tenantID string, req RegisterRequest) (*User, error)
	Get(ctx context.Context, userID string) (*User, error)
	ListPending(ctx context.Context, tenantID string) ([]*User, error)
	Approve(ctx context.Context, userID string) (*User, error)
	Revoke(ctx context.Context, userID string) error
	PromoteSuperAdmin(ctx context.Context, userID string) (*User, error)
	Authenticate(ctx context.Context, tenantID, email, password string) (*User, error)
}

// PostgresStore implements Store against the users table pkg/store's
// migrations own.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Register creates a new user in StatusPending. Role is always "user" —
// self-registration can never mint an admin or super_admin account.
func (s *PostgresStore) Register(ctx context.Context, tenantID string, req RegisterRequest) (*User, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("users: email is required")
	}
	if len(req.Password) < 8 {
		return nil, fmt.Errorf("users: password must be at least 8 characters")
	}

	if _, err := s.getByEmail(ctx, tenantID, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	u := &User{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Email:          req.Email,
		PasswordHash:   string(hash),
		Role:           "user",
		ApprovalStatus: StatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, password_hash, role, approval_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.TenantID, u.Email, u.PasswordHash, u.Role, u.ApprovalStatus, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("users: register: %w", err)
	}
	return u, nil
}

// CreateAdmin creates a user that is already StatusApproved with role
// "admin", bypassing the self-registration queue. It exists for
// provisioning a deployment's first operator, the same way the first
// tenant and OAuth client are created outside the running server rather
// than through their own self-service endpoints.
func (s *PostgresStore) CreateAdmin(ctx context.Context, tenantID, email, password string) (*User, error) {
	if email == "" {
		return nil, fmt.Errorf("users: email is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("users: password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &User{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Email:          email,
		PasswordHash:   string(hash),
		Role:           "admin",
		ApprovalStatus: StatusApproved,
		CreatedAt:      now,
		ApprovedAt:     &now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, password_hash, role, approval_status, created_at, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.TenantID, u.Email, u.PasswordHash, u.Role, u.ApprovalStatus, u.CreatedAt, u.ApprovedAt)
	if err != nil {
		return nil, fmt.Errorf("users: create admin: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*User, error) {
	return s.scanOne(ctx, `
		SELECT id, tenant_id, email, password_hash, role, approval_status, created_at, approved_at, revoked_at
		FROM users WHERE id = $1
	`, userID)
}

func (s *PostgresStore) getByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	return s.scanOne(ctx, `
		SELECT id, tenant_id, email, password_hash, role, approval_status, created_at, approved_at, revoked_at
		FROM users WHERE tenant_id = $1 AND email = $2
	`, tenantID, email)
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	var approvedAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Role, &u.ApprovalStatus,
		&u.CreatedAt, &approvedAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: query: %w", err)
	}
	if approvedAt.Valid {
		u.ApprovedAt = &approvedAt.Time
	}
	if revokedAt.Valid {
		u.RevokedAt = &revokedAt.Time
	}
	return &u, nil
}

// ListPending returns every StatusPending user in tenantID, the admin
// approval queue.
func (s *PostgresStore) ListPending(ctx context.Context, tenantID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, email, password_hash, role, approval_status, created_at, approved_at, revoked_at
		FROM users WHERE tenant_id = $1 AND approval_status = $2
		ORDER BY created_at
	`, tenantID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("users: list pending: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		var approvedAt, revokedAt sql.NullTime
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Role, &u.ApprovalStatus,
			&u.CreatedAt, &approvedAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("users: scan pending row: %w", err)
		}
		if approvedAt.Valid {
			u.ApprovedAt = &approvedAt.Time
		}
		if revokedAt.Valid {
			u.RevokedAt = &revokedAt.Time
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// Approve moves a pending user to StatusApproved. Approving an already-
// approved or revoked user is a no-op success, not an error — idempotent
// retries of an admin action shouldn't fail.
func (s *PostgresStore) Approve(ctx context.Context, userID string) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET approval_status = $1, approved_at = $2
		WHERE id = $3 AND approval_status = $4
	`, StatusApproved, now, userID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("users: approve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.Get(ctx, userID)
	}
	return s.Get(ctx, userID)
}

// Revoke withdraws access from a user without deleting the row, per the
// lifecycle's "optionally revoked" terminal state.
func (s *PostgresStore) Revoke(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET approval_status = $1, revoked_at = $2 WHERE id = $3
	`, StatusRevoked, now, userID)
	if err != nil {
		return fmt.Errorf("users: revoke: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("users: rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PromoteSuperAdmin elevates an already-approved admin to super_admin.
// It is the only path that ever mints a super_admin row past the very
// first one, which is created directly by an operator; callers are
// expected to have already checked authz.RequireSuperAdminIssuer before
// calling this, since the store itself has no notion of who is asking.
func (s *PostgresStore) PromoteSuperAdmin(ctx context.Context, userID string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET role = 'super_admin'
		WHERE id = $1 AND approval_status = $2 AND role = 'admin'
	`, userID, StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("users: promote super admin: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("users: rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, userID)
}

// Authenticate verifies email+password against the stored bcrypt hash and
// requires the account be approved. Invalid email and invalid password
// return the identical ErrInvalidCredentials so a caller can't use this
// to enumerate registered emails; an unapproved account with a correct
// password returns the more specific ErrNotApproved, since that's not a
// credential-guessing oracle (the caller already proved they know the
// password).
func (s *PostgresStore) Authenticate(ctx context.Context, tenantID, email, password string) (*User, error) {
	u, err := s.getByEmail(ctx, tenantID, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.CanAuthenticate() {
		return nil, ErrNotApproved
	}
	return u, nil
}
