package directory

import (
	"context"
	"errors"
	"time"

	"sparrowvision.org/internal/access"
)

// Status is the user lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// User is a member of the tenant directory. Permissions are derived from the
// role via the catalog on every read and are never stored independently.
type User struct {
	ID          string              `json:"id"`
	Email       string              `json:"email"`
	Name        string              `json:"name"`
	Role        access.Role         `json:"role"`
	Status      Status              `json:"status"`
	InvitedBy   string              `json:"invited_by,omitempty"`
	InvitedAt   time.Time           `json:"invited_at"`
	LastLogin   *time.Time          `json:"last_login,omitempty"`
	Permissions []access.Permission `json:"permissions"`
}

// Stats summarizes the directory for the dashboard.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Admins    int `json:"admins"`
}

var (
	ErrNotFound           = errors.New("directory: user not found")
	ErrDuplicateEmail     = errors.New("directory: email already registered")
	ErrForbidden          = errors.New("directory: actor lacks permission")
	ErrLastAdminProtected = errors.New("directory: last admin is protected")
)

// Actor identifies who performs a mutation, with their resolved permissions.
type Actor struct {
	ID          string
	Permissions []access.Permission
}

// ActorFor builds an actor from a directory user.
func ActorFor(u User) Actor {
	return Actor{ID: u.ID, Permissions: access.PermissionsFor(u.Role)}
}

// SystemActor is used by internal jobs (bootstrap, IGA sync).
func SystemActor() Actor {
	return Actor{ID: "system", Permissions: []access.Permission{access.Wildcard}}
}

// Store persists directory state. The in-memory directory is authoritative;
// the store is a write-through durable copy.
type Store interface {
	LoadUsers(ctx context.Context) ([]User, error)
	SaveUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) error
}
