package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"sparrowvision.org/internal/access"
	"sparrowvision.org/internal/notify"
	"sparrowvision.org/internal/webhook"
)

type setEndpointRequest struct {
	URL string `json:"url"`
}

type setSubscriptionRequest struct {
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

func (a *API) handleWebhookConfig(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), access.NeedIntegrationManage); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.hooks.Snapshot())
	case http.MethodPut:
		var req setEndpointRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := a.hooks.SetEndpoint(r.Context(), req.URL)
		if err != nil {
			a.handleWebhookError(w, r, err)
			return
		}
		a.audit(r.Context(), "webhook.endpoint.updated", map[string]any{
			"url":    cfg.URL,
			"active": cfg.Active,
		})
		writeJSON(w, http.StatusOK, cfg)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleWebhookSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if err := a.requirePermission(r.Context(), access.NeedIntegrationManage); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	var req setSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := a.hooks.SetSubscription(r.Context(), notify.EventKind(req.Kind), req.Enabled)
	if err != nil {
		a.handleWebhookError(w, r, err)
		return
	}
	a.audit(r.Context(), "webhook.subscription.updated", map[string]any{
		"kind":    req.Kind,
		"enabled": req.Enabled,
	})
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requirePermission(r.Context(), access.NeedIntegrationManage); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	receipt, err := a.hooks.TestConnection(r.Context())
	if err != nil {
		var cerr *webhook.ConnectivityError
		if errors.As(err, &cerr) {
			// The endpoint itself misbehaved; report the receipt, not a 5xx.
			writeJSON(w, http.StatusOK, receipt)
			return
		}
		a.handleWebhookError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requirePermission(r.Context(), access.NeedIntegrationManage); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.hooks.Deliveries(limit),
		"stats": a.hooks.DeliveryStats(),
	})
}

func (a *API) handleWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, webhook.ErrInvalidURL):
		writeError(w, r, http.StatusBadRequest, "endpoint must be a valid https url")
	case errors.Is(err, webhook.ErrUnknownEventKind):
		writeError(w, r, http.StatusBadRequest, "unknown event kind")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
