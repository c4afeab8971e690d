package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sparrowvision.org/internal/access"
	"sparrowvision.org/internal/auth"
	"sparrowvision.org/internal/directory"
	"sparrowvision.org/internal/invite"
	"sparrowvision.org/internal/notify"
)

type inviteRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type inviteResponse struct {
	User     directory.User `json:"user"`
	Warnings []string       `json:"warnings,omitempty"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type recordLoginRequest struct {
	At time.Time `json:"at"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.inviteUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getUser(w, r, id)
		case http.MethodDelete:
			a.removeUser(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case "role":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setUserRole(w, r, id)
	case "logins":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.recordLogin(w, r, id)
	case "suspend":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.suspendUser(w, r, id)
	case "reinstate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reinstateUser(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), access.NeedDashboardRead); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.dir.List()})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), access.NeedDashboardRead); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	u, err := a.dir.Get(id)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) inviteUser(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actor, ok := actorFromContext(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	u, warnings, err := a.invites.Invite(r.Context(), req.Email, req.Name, access.Role(req.Role), actor)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}

	resp := inviteResponse{User: u}
	for _, warn := range warnings {
		resp.Warnings = append(resp.Warnings, warn.Error())
	}

	w.Header().Set("Location", "/v1/users/"+u.ID)
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) setUserRole(w http.ResponseWriter, r *http.Request, id string) {
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, ok := actorFromContext(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	u, err := a.dir.SetRole(r.Context(), id, access.Role(req.Role), actor)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.role.changed", map[string]any{
		"user_id": u.ID,
		"role":    string(u.Role),
	})
	writeJSON(w, http.StatusOK, u)
}

func (a *API) removeUser(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromContext(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.dir.Remove(r.Context(), id, actor); err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.removed", map[string]any{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// recordLogin lets the SSO callback report an authentication out of band.
func (a *API) recordLogin(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), access.NeedUserUpdate); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	var req recordLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	u, err := a.dir.MarkAuthenticated(r.Context(), id, at)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) suspendUser(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromContext(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	u, err := a.dir.Suspend(r.Context(), id, actor)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.suspended", map[string]any{"user_id": u.ID})
	a.publishEvent(r.Context(), notify.EventPolicyViolation, map[string]string{
		"user_id": u.ID,
		"action":  "suspended",
	})
	writeJSON(w, http.StatusOK, u)
}

func (a *API) reinstateUser(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromContext(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	u, err := a.dir.Reinstate(r.Context(), id, actor)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.reinstated", map[string]any{"user_id": u.ID})
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, directory.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, directory.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, directory.ErrLastAdminProtected):
		writeError(w, r, http.StatusConflict, "cannot remove or downgrade the last admin")
	case errors.Is(err, access.ErrInvalidRole):
		writeError(w, r, http.StatusBadRequest, "unknown role")
	case errors.Is(err, invite.ErrInvalidEmail):
		writeError(w, r, http.StatusBadRequest, "invalid email address")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func actorFromContext(r *http.Request) (directory.Actor, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return directory.Actor{}, false
	}
	return directory.Actor{ID: principal.UserID, Permissions: principal.Permissions}, true
}
