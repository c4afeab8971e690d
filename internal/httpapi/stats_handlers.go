package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"sparrowvision.org/internal/access"
)

const defaultInactivityWindow = 90 * 24 * time.Hour

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requirePermission(r.Context(), access.NeedDashboardRead); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	body := map[string]any{"users": a.dir.CountsByStatus()}
	if a.hooks != nil {
		body["webhook"] = map[string]any{
			"config":     a.hooks.Snapshot(),
			"deliveries": a.hooks.DeliveryStats(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleInactiveReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requirePermission(r.Context(), access.NeedReportRead); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	window := defaultInactivityWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 || days > 3650 {
			writeError(w, r, http.StatusBadRequest, "days must be between 1 and 3650")
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-window)
	writeJSON(w, http.StatusOK, map[string]any{
		"cutoff": cutoff,
		"items":  a.dir.Inactive(cutoff),
	})
}

func (a *API) handlePrivilegedReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requirePermission(r.Context(), access.NeedReportRead); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.dir.Privileged()})
}
