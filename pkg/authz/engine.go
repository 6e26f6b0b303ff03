// Package authz is the Request Authorizer: role, scope, and tenant checks
// consulted on every administrative and write operation.
// It makes no I/O and holds no state — callers pass in whatever the
// Session & Token Authenticator already resolved onto the Principal.
package authz

import (
	"errors"
	"fmt"

	"github.com/pierre-mcp/pierre/pkg/auth"
)

// ErrForbidden is returned (possibly wrapped) by every check below.
var ErrForbidden = errors.New("authz: forbidden")

// RequireRole enforces role ≥ min.
func RequireRole(p auth.Principal, min auth.Role) error {
	if !p.GetRole().AtLeast(min) {
		return fmt.Errorf("%w: role %q does not meet minimum %q", ErrForbidden, p.GetRole(), min)
	}
	return nil
}

// RequireScope enforces that p's effective scope set contains scope.
func RequireScope(p auth.Principal, scope string) error {
	if !p.HasScope(scope) {
		return fmt.Errorf("%w: missing required scope %q", ErrForbidden, scope)
	}
	return nil
}

// RequireAllScopes enforces that p's effective scope set contains every
// scope the tool registry declared as required.
func RequireAllScopes(p auth.Principal, required []string) error {
	for _, scope := range required {
		if !p.HasScope(scope) {
			return fmt.Errorf("%w: missing required scope %q", ErrForbidden, scope)
		}
	}
	return nil
}

// RequireAdmin enforces the Admin endpoints rule: role >= admin
// and a scope matching the "admin:*" action being performed.
func RequireAdmin(p auth.Principal, action string) error {
	if err := RequireRole(p, auth.RoleAdmin); err != nil {
		return err
	}
	return RequireScope(p, "admin:"+action)
}

// RequireSuperAdminIssuer enforces the Super-admin issuance
// rule: minting a super-admin token requires an existing, valid
// super-admin credential. The very first super-admin is bootstrapped
// outside the running server and never flows through this check.
func RequireSuperAdminIssuer(issuer auth.Principal) error {
	if issuer.GetRole() != auth.RoleSuperAdmin {
		return fmt.Errorf("%w: issuing a super-admin token requires an existing super-admin principal", ErrForbidden)
	}
	return nil
}

// RequireSameTenant enforces the tenant-isolation rule: every
// repository method receives an explicit tenant, and the authorizer
// rejects any mismatch between the requesting principal's tenant and the
// tenant the operation targets before the call reaches storage.
func RequireSameTenant(principalTenant, targetTenant string) error {
	if principalTenant == "" || targetTenant == "" || principalTenant != targetTenant {
		return fmt.Errorf("%w: principal tenant %q does not match target tenant %q", ErrForbidden, principalTenant, targetTenant)
	}
	return nil
}

// RequireOwnership enforces the API key / OAuth client
// mutation rule: the principal's tenant must equal the target resource's
// tenant, checked on read before the mutating write proceeds.
func RequireOwnership(p auth.Principal, targetTenant string) error {
	return RequireSameTenant(p.GetTenantID(), targetTenant)
}
