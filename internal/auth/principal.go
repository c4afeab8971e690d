package auth

import (
	"errors"

	"sparrowvision.org/internal/access"
)

// ErrUnauthorized indicates a principal lacking a required capability.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Principal represents an authenticated caller with a resolved permission set.
type Principal struct {
	UserID      string
	Role        access.Role
	Permissions []access.Permission
}

// NewPrincipal resolves the permission set for a role from the catalog.
// The set is always derived, never stored, so it cannot go stale.
func NewPrincipal(userID string, role access.Role) Principal {
	return Principal{
		UserID:      userID,
		Role:        role,
		Permissions: access.PermissionsFor(role),
	}
}

// PrincipalFromClaims builds a principal from verified token claims.
func PrincipalFromClaims(claims *Claims) Principal {
	return NewPrincipal(claims.Subject, access.Role(claims.Role))
}

// HasPermission reports whether the principal's set grants the need.
func (p Principal) HasPermission(need string) bool {
	return access.Grants(p.Permissions, need)
}
