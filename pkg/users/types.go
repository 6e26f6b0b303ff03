// Package users implements the User entity: self-registration, the admin
// approval gate, and the password credential the Session & Token
// Authenticator's ROPC path and login flow both authenticate against.
// A user belongs to exactly one tenant (pkg/tenants is the isolation
// unit). Elevation from "user" to admin happens out of band (CreateAdmin),
// the same way the first tenant and client are provisioned outside the
// running server; an approved admin becomes super_admin through the
// promote endpoint (PromoteSuperAdmin).
package users

import "time"

// ApprovalStatus is the admin-approval lifecycle state of a user.
type ApprovalStatus string

const (
	// StatusPending is the state a freshly self-registered user starts
	// in: a password hash exists, but the account cannot authenticate
	// until an admin approves it.
	StatusPending ApprovalStatus = "pending"
	// StatusApproved means an admin has reviewed and accepted the
	// registration; the user may now authenticate.
	StatusApproved ApprovalStatus = "approved"
	// StatusRevoked means the user once authenticated but access has
	// since been withdrawn; revocation never deletes the row.
	StatusRevoked ApprovalStatus = "revoked"
)

// User is a tenant-scoped account: identifier, email (unique within its
// tenant), salted password hash, role, approval status, and creation
// time, per the Data Model's User entity.
type User struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Email          string         `json:"email"`
	PasswordHash   string         `json:"-"`
	Role           string         `json:"role"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	CreatedAt      time.Time      `json:"created_at"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	RevokedAt      *time.Time     `json:"revoked_at,omitempty"`
}

// CanAuthenticate reports whether u may complete a login or ROPC grant:
// approved and never revoked.
func (u *User) CanAuthenticate() bool {
	return u.ApprovalStatus == StatusApproved
}

// RegisterRequest is the input to Store.Register: self-service signup,
// always landing in StatusPending regardless of what the caller asks for.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
