package directory

import (
	"sort"
	"time"

	"sparrowvision.org/internal/access"
)

// Inactive returns users who never logged in or whose last login predates
// the cutoff. Suspended users are included; their access is already blocked
// but they still hold a seat.
func (d *Directory) Inactive(cutoff time.Time) []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []User
	for _, u := range d.users {
		if u.LastLogin == nil || u.LastLogin.Before(cutoff) {
			out = append(out, d.view(u))
		}
	}
	sortByInvitedAt(out)
	return out
}

// Privileged returns users whose role grants user management, the
// high-impact capability reviews care about.
func (d *Directory) Privileged() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []User
	for _, u := range d.users {
		if access.Grants(access.PermissionsFor(u.Role), access.NeedUserUpdate) {
			out = append(out, d.view(u))
		}
	}
	sortByInvitedAt(out)
	return out
}

func sortByInvitedAt(users []User) {
	sort.Slice(users, func(i, j int) bool {
		if !users[i].InvitedAt.Equal(users[j].InvitedAt) {
			return users[i].InvitedAt.Before(users[j].InvitedAt)
		}
		return users[i].ID < users[j].ID
	})
}
