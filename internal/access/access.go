package access

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRole indicates a role outside the fixed enumeration.
var ErrInvalidRole = errors.New("access: invalid role")

// Role names a bundle of permissions assigned to a user.
type Role string

const (
	RoleViewer             Role = "viewer"
	RoleEditor             Role = "editor"
	RoleLogAuditor         Role = "log_auditor"
	RoleIntegrationManager Role = "integration_manager"
	RoleAdmin              Role = "admin"
)

// Permission is a pattern matched against a requested capability:
// "resource.action", "resource.*" (any action) or "*" (everything).
type Permission string

// Wildcard grants every capability. Only the admin role carries it.
const Wildcard Permission = "*"

// Capability needs checked throughout the service.
const (
	NeedDashboardRead      = "dashboard.read"
	NeedUserInvite         = "users.invite"
	NeedUserUpdate         = "users.update"
	NeedUserRemove         = "users.remove"
	NeedIntegrationManage  = "integrations.manage"
	NeedReportRead         = "reports.read"
	NeedReviewRead         = "reviews.read"
)

// catalog maps each role to its ordered permission patterns. Built once at
// process start and never mutated afterwards; PermissionsFor hands out copies.
var catalog = map[Role][]Permission{
	RoleViewer: {
		"dashboard.read",
		"tools.read",
		"reports.read",
		"reviews.read",
	},
	RoleEditor: {
		"dashboard.read",
		"tools.*",
		"users.*",
		"reports.*",
		"reviews.*",
	},
	RoleLogAuditor: {
		"dashboard.read",
		"logs.*",
		"reports.read",
	},
	RoleIntegrationManager: {
		"dashboard.read",
		"integrations.*",
		"tools.*",
	},
	RoleAdmin: {
		Wildcard,
	},
}

// Roles returns the fixed role enumeration in display order.
func Roles() []Role {
	return []Role{RoleViewer, RoleEditor, RoleLogAuditor, RoleIntegrationManager, RoleAdmin}
}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := catalog[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return role, nil
}

// PermissionsFor returns the ordered permission patterns for a role.
// Total over the enumeration; unknown roles resolve to the viewer set so a
// corrupted record can never escalate.
func PermissionsFor(role Role) []Permission {
	perms, ok := catalog[role]
	if !ok {
		perms = catalog[RoleViewer]
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Grants reports whether the permission set satisfies a "resource.action"
// need. A pattern matches when it is the universal wildcard, equals the need
// exactly, or is a "resource.*" pattern whose resource equals the need's.
func Grants(set []Permission, need string) bool {
	need = strings.TrimSpace(need)
	if need == "" {
		return false
	}
	resource, _, _ := strings.Cut(need, ".")
	for _, p := range set {
		switch {
		case p == Wildcard:
			return true
		case string(p) == need:
			return true
		case strings.HasSuffix(string(p), ".*") && strings.TrimSuffix(string(p), ".*") == resource:
			return true
		}
	}
	return false
}
