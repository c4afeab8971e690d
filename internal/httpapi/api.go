// Package httpapi is the HTTP surface of the governance service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"sparrowvision.org/api/spec"
	"sparrowvision.org/internal/audit"
	"sparrowvision.org/internal/directory"
	"sparrowvision.org/internal/invite"
	"sparrowvision.org/internal/obs"
	"sparrowvision.org/internal/stream"
	"sparrowvision.org/internal/webhook"
)

// ReadyProbe reports whether downstream dependencies answer.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	dir     *directory.Directory
	invites *invite.Workflow
	hooks   *webhook.Manager
	events  *stream.Stream

	rateBurst   int
	ratePerSec  int
	maxBodySize int64
}

type Option func(*API)

// WithRateLimit overrides the default per-IP token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

func New(rp ReadyProbe, version string, dir *directory.Directory, invites *invite.Workflow, hooks *webhook.Manager, events *stream.Stream, opts ...Option) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  rp,
		version:     version,
		dir:         dir,
		invites:     invites,
		hooks:       hooks,
		events:      events,
		rateBurst:   50,
		ratePerSec:  25,
		maxBodySize: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// user directory
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	// webhook settings
	a.mux.HandleFunc("/v1/webhook", a.handleWebhookConfig)
	a.mux.HandleFunc("/v1/webhook/subscriptions", a.handleWebhookSubscriptions)
	a.mux.HandleFunc("/v1/webhook/test", a.handleWebhookTest)
	a.mux.HandleFunc("/v1/webhook/deliveries", a.handleWebhookDeliveries)

	// dashboard
	a.mux.HandleFunc("/v1/stats", a.handleStats)
	a.mux.HandleFunc("/v1/reports/inactive", a.handleInactiveReport)
	a.mux.HandleFunc("/v1/reports/privileged", a.handlePrivilegedReport)
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodySize)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sparrowvision-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sparrowvision-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}
