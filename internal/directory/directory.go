package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sparrowvision.org/internal/access"
	"sparrowvision.org/internal/ids"
	"sparrowvision.org/internal/obs"
)

// Directory is the in-memory user registry. All reads return copies; all
// mutations run under a single writer lock so invariants such as email
// uniqueness and last-admin protection hold atomically.
type Directory struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
	store   Store
	now     func() time.Time
}

type Option func(*Directory)

// WithStore enables write-through persistence. Store failures are logged,
// never surfaced: the in-memory state stays authoritative.
func WithStore(s Store) Option {
	return func(d *Directory) { d.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func New(opts ...Option) *Directory {
	d := &Directory{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load replaces in-memory state with the store's contents. Call once at boot.
func (d *Directory) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	users, err := d.store.LoadUsers(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = make(map[string]*User, len(users))
	d.byEmail = make(map[string]string, len(users))
	for i := range users {
		u := users[i]
		d.users[u.ID] = &u
		d.byEmail[normalizeEmail(u.Email)] = u.ID
	}
	return nil
}

// Create registers a new pending user. The email must be unique ignoring case.
func (d *Directory) Create(ctx context.Context, email, name string, role access.Role, invitedBy string) (User, error) {
	role, err := access.ParseRole(string(role))
	if err != nil {
		return User{}, err
	}
	email = strings.TrimSpace(email)
	key := normalizeEmail(email)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[key]; ok {
		return User{}, ErrDuplicateEmail
	}
	u := &User{
		ID:        ids.NewPrefixed("usr"),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Role:      role,
		Status:    StatusPending,
		InvitedBy: invitedBy,
		InvitedAt: d.now(),
	}
	d.users[u.ID] = u
	d.byEmail[key] = u.ID
	d.persist(ctx, u)
	return d.view(u), nil
}

// Get returns the user by id.
func (d *Directory) Get(id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return d.view(u), nil
}

// GetByEmail looks a user up by email, ignoring case.
func (d *Directory) GetByEmail(email string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return d.view(d.users[id]), nil
}

// List returns all users ordered by invitation time, then id.
func (d *Directory) List() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, d.view(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvitedAt.Equal(out[j].InvitedAt) {
			return out[i].InvitedAt.Before(out[j].InvitedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetRole changes a user's role. Demoting the last active admin is refused.
func (d *Directory) SetRole(ctx context.Context, id string, role access.Role, actor Actor) (User, error) {
	role, err := access.ParseRole(string(role))
	if err != nil {
		return User{}, err
	}
	if err := authorize(actor, access.NeedUserUpdate); err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if u.Role != role && role != access.RoleAdmin && d.isLastAdmin(u) {
		return User{}, ErrLastAdminProtected
	}
	u.Role = role
	d.persist(ctx, u)
	return d.view(u), nil
}

// Remove deletes a user. The last active admin cannot be removed, including
// by themselves.
func (d *Directory) Remove(ctx context.Context, id string, actor Actor) error {
	if err := authorize(actor, access.NeedUserRemove); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	if d.isLastAdmin(u) {
		return ErrLastAdminProtected
	}
	delete(d.byEmail, normalizeEmail(u.Email))
	delete(d.users, id)
	if d.store != nil {
		if err := d.store.DeleteUser(ctx, id); err != nil {
			obs.Log("warn", "directory_store_delete_failed", map[string]any{"user_id": id, "error": err.Error()})
		}
	}
	return nil
}

// Suspend blocks a user's access. Suspending the last active admin is refused.
func (d *Directory) Suspend(ctx context.Context, id string, actor Actor) (User, error) {
	if err := authorize(actor, access.NeedUserUpdate); err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if u.Status != StatusSuspended && d.isLastAdmin(u) {
		return User{}, ErrLastAdminProtected
	}
	u.Status = StatusSuspended
	d.persist(ctx, u)
	return d.view(u), nil
}

// Reinstate lifts a suspension. Users who have authenticated before return to
// active; users who never logged in return to pending.
func (d *Directory) Reinstate(ctx context.Context, id string, actor Actor) (User, error) {
	if err := authorize(actor, access.NeedUserUpdate); err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if u.Status == StatusSuspended {
		if u.LastLogin != nil {
			u.Status = StatusActive
		} else {
			u.Status = StatusPending
		}
		d.persist(ctx, u)
	}
	return d.view(u), nil
}

// MarkAuthenticated records a successful login. A pending user becomes
// active; a suspended user stays suspended with only the timestamp refreshed.
func (d *Directory) MarkAuthenticated(ctx context.Context, id string, at time.Time) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	ts := at.UTC()
	u.LastLogin = &ts
	if u.Status == StatusPending {
		u.Status = StatusActive
	}
	d.persist(ctx, u)
	return d.view(u), nil
}

// Bootstrap ensures at least one active admin exists. It is a no-op when an
// admin is already registered.
func (d *Directory) Bootstrap(ctx context.Context, email, name string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Role == access.RoleAdmin {
			return d.view(u), nil
		}
	}
	email = strings.TrimSpace(email)
	u := &User{
		ID:        ids.NewPrefixed("usr"),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Role:      access.RoleAdmin,
		Status:    StatusActive,
		InvitedBy: "system",
		InvitedAt: d.now(),
	}
	d.users[u.ID] = u
	d.byEmail[normalizeEmail(email)] = u.ID
	d.persist(ctx, u)
	return d.view(u), nil
}

// CountsByStatus reports totals for the dashboard.
func (d *Directory) CountsByStatus() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := Stats{Total: len(d.users)}
	for _, u := range d.users {
		switch u.Status {
		case StatusPending:
			s.Pending++
		case StatusActive:
			s.Active++
		case StatusSuspended:
			s.Suspended++
		}
		if u.Role == access.RoleAdmin {
			s.Admins++
		}
	}
	return s
}

func authorize(actor Actor, need string) error {
	if !access.Grants(actor.Permissions, need) {
		return ErrForbidden
	}
	return nil
}

// isLastAdmin reports whether u is the only admin who is not suspended.
// Callers hold the write lock.
func (d *Directory) isLastAdmin(u *User) bool {
	if u.Role != access.RoleAdmin || u.Status == StatusSuspended {
		return false
	}
	for _, other := range d.users {
		if other.ID == u.ID {
			continue
		}
		if other.Role == access.RoleAdmin && other.Status != StatusSuspended {
			return false
		}
	}
	return true
}

func (d *Directory) view(u *User) User {
	out := *u
	if u.LastLogin != nil {
		ts := *u.LastLogin
		out.LastLogin = &ts
	}
	out.Permissions = access.PermissionsFor(u.Role)
	return out
}

func (d *Directory) persist(ctx context.Context, u *User) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveUser(ctx, d.view(u)); err != nil {
		obs.Log("warn", "directory_store_save_failed", map[string]any{"user_id": u.ID, "error": err.Error()})
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
