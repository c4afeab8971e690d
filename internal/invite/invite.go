// Package invite orchestrates onboarding: it registers a pending user and
// announces the invitation on the notification and webhook paths. The
// registration is authoritative; announcement failures are reported as
// warnings, never as invitation failures.
package invite

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"sparrowvision.org/internal/access"
	"sparrowvision.org/internal/audit"
	"sparrowvision.org/internal/directory"
	"sparrowvision.org/internal/notify"
)

var ErrInvalidEmail = errors.New("invite: invalid email address")

// Deliberately loose: one @, non-empty local part, dotted domain.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Hook receives governance events on the tenant's webhook path.
type Hook interface {
	Notify(ctx context.Context, ev notify.Event)
}

// Workflow wires the directory to the notification fan-out.
type Workflow struct {
	dir        *directory.Directory
	dispatcher *notify.Dispatcher
	hook       Hook
}

func NewWorkflow(dir *directory.Directory, dispatcher *notify.Dispatcher, hook Hook) *Workflow {
	return &Workflow{dir: dir, dispatcher: dispatcher, hook: hook}
}

// Invite registers a new pending user and announces the invitation. The
// returned delivery errors are advisory; when err is nil the user exists.
func (w *Workflow) Invite(ctx context.Context, email, name string, role access.Role, actor directory.Actor) (directory.User, []notify.DeliveryError, error) {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return directory.User{}, nil, ErrInvalidEmail
	}
	if !access.Grants(actor.Permissions, access.NeedUserInvite) {
		return directory.User{}, nil, directory.ErrForbidden
	}

	u, err := w.dir.Create(ctx, email, name, role, actor.ID)
	if err != nil {
		return directory.User{}, nil, err
	}

	audit.LogEvent(ctx, "user_invited", map[string]any{
		"user_id": u.ID,
		"role":    string(u.Role),
		"actor":   actor.ID,
	})

	ev := notify.NewEvent(notify.EventUserInvited, map[string]string{
		"user_id":    u.ID,
		"email":      u.Email,
		"role":       string(u.Role),
		"invited_by": actor.ID,
	})

	var warnings []notify.DeliveryError
	if w.dispatcher != nil {
		warnings = w.dispatcher.Dispatch(ctx, ev)
	}
	if w.hook != nil {
		w.hook.Notify(ctx, ev)
	}
	return u, warnings, nil
}
