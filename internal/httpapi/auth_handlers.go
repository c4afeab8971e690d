package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sparrowvision.org/internal/auth"
	"sparrowvision.org/internal/directory"
)

type tokenRequest struct {
	Email string `json:"email"`
}

type tokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      directory.User `json:"user"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken exchanges a directory email for a short-lived token.
// Upstream SSO has already verified the caller; this endpoint sits behind it.
// The first successful issue moves a pending user to active.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	u, err := a.dir.GetByEmail(email)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	if u.Status == directory.StatusSuspended {
		writeError(w, r, http.StatusForbidden, "account suspended")
		return
	}

	token, err := auth.GenerateToken(u.ID, u.Role, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	u, err = a.dir.MarkAuthenticated(r.Context(), u.ID, time.Now().UTC())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login record failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	a.audit(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    u.ID,
		"role":       string(u.Role),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      u,
	})
}
