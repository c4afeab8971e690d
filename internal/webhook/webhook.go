// Package webhook manages the tenant's single outbound webhook endpoint:
// its URL, per-event subscriptions, connectivity tests, and event delivery
// with bounded retries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sparrowvision.org/internal/notify"
	"sparrowvision.org/internal/obs"
)

var (
	ErrInvalidURL       = errors.New("webhook: endpoint must be a valid https url")
	ErrUnknownEventKind = errors.New("webhook: unknown event kind")
)

// ConnectivityError describes why a test post failed.
type ConnectivityError struct {
	Reason string // "timeout" or "status"
	Status int
}

func (e *ConnectivityError) Error() string {
	if e.Reason == "status" {
		return fmt.Sprintf("webhook: endpoint returned %d", e.Status)
	}
	return "webhook: endpoint unreachable: " + e.Reason
}

// Config is the tenant's webhook settings snapshot.
type Config struct {
	URL           string                    `json:"url"`
	Active        bool                      `json:"active"`
	LastTest      *time.Time                `json:"last_test,omitempty"`
	Subscriptions map[notify.EventKind]bool `json:"subscriptions"`
}

// DeliveryReceipt is the result of a connectivity test.
type DeliveryReceipt struct {
	OK       bool          `json:"ok"`
	Status   int           `json:"status,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Poster performs the HTTP POST. Tests substitute fakes.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, headers map[string]string) (int, error)
}

// HTTPPoster posts JSON with a shared http.Client.
type HTTPPoster struct {
	Client *http.Client
}

func (p *HTTPPoster) Post(ctx context.Context, target string, body []byte, headers map[string]string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// ConfigStore persists the singleton webhook configuration.
type ConfigStore interface {
	LoadConfig(ctx context.Context) (Config, bool, error)
	SaveConfig(ctx context.Context, cfg Config) error
}

// Manager owns the webhook configuration and delivery machinery.
type Manager struct {
	mu          sync.RWMutex
	cfg         Config
	poster      Poster
	store       ConfigStore
	policy      RetryPolicy
	limiter     *rate.Limiter
	log         *deliveryLog
	secret      string
	now         func() time.Time
	testTimeout time.Duration
	wg          sync.WaitGroup
}

type ManagerOption func(*Manager)

func WithPoster(p Poster) ManagerOption {
	return func(m *Manager) { m.poster = p }
}

func WithConfigStore(s ConfigStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithSigningSecret enables HMAC-SHA256 payload signatures.
func WithSigningSecret(secret string) ManagerOption {
	return func(m *Manager) { m.secret = secret }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func WithTestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.testTimeout = d }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		poster:      &HTTPPoster{Client: &http.Client{Timeout: 15 * time.Second}},
		policy:      DefaultRetryPolicy(),
		limiter:     rate.NewLimiter(rate.Limit(10), 20),
		log:         newDeliveryLog(256),
		now:         func() time.Time { return time.Now().UTC() },
		testTimeout: 10 * time.Second,
	}
	m.cfg.Subscriptions = defaultSubscriptions()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultSubscriptions() map[notify.EventKind]bool {
	subs := make(map[notify.EventKind]bool, len(notify.Kinds()))
	for _, k := range notify.Kinds() {
		subs[k] = true
	}
	return subs
}

// Load restores persisted configuration. Call once at boot.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	cfg, found, err := m.store.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if cfg.Subscriptions == nil {
		cfg.Subscriptions = defaultSubscriptions()
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// SetEndpoint updates the endpoint URL. Only https URLs are accepted; an
// empty string clears the endpoint and deactivates delivery.
func (m *Manager) SetEndpoint(ctx context.Context, raw string) (Config, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return Config{}, ErrInvalidURL
		}
	}
	m.mu.Lock()
	m.cfg.URL = raw
	m.cfg.Active = raw != ""
	cfg := m.snapshotLocked()
	m.mu.Unlock()
	m.persist(ctx, cfg)
	return cfg, nil
}

// SetSubscription toggles delivery of one event kind.
func (m *Manager) SetSubscription(ctx context.Context, kind notify.EventKind, enabled bool) (Config, error) {
	if !notify.ValidKind(kind) {
		return Config{}, ErrUnknownEventKind
	}
	m.mu.Lock()
	m.cfg.Subscriptions[kind] = enabled
	cfg := m.snapshotLocked()
	m.mu.Unlock()
	m.persist(ctx, cfg)
	return cfg, nil
}

// Snapshot returns a copy of the current configuration.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Config {
	cfg := m.cfg
	subs := make(map[notify.EventKind]bool, len(cfg.Subscriptions))
	for k, v := range cfg.Subscriptions {
		subs[k] = v
	}
	cfg.Subscriptions = subs
	if cfg.LastTest != nil {
		ts := *cfg.LastTest
		cfg.LastTest = &ts
	}
	return cfg
}

// TestConnection posts a synthetic ping to the configured endpoint. One
// attempt, no retries. A 2xx response stamps LastTest; nothing here ever
// changes Active.
func (m *Manager) TestConnection(ctx context.Context) (DeliveryReceipt, error) {
	m.mu.RLock()
	target := m.cfg.URL
	m.mu.RUnlock()
	if target == "" {
		return DeliveryReceipt{}, ErrInvalidURL
	}

	body, err := json.Marshal(map[string]any{
		"kind": "ping",
		"sent": m.now().Format(time.RFC3339),
	})
	if err != nil {
		return DeliveryReceipt{}, err
	}

	tctx, cancel := context.WithTimeout(ctx, m.testTimeout)
	defer cancel()

	start := m.now()
	status, err := m.poster.Post(tctx, target, body, m.signature(body))
	receipt := DeliveryReceipt{Status: status, Duration: time.Since(start)}
	if err != nil {
		cerr := &ConnectivityError{Reason: "timeout"}
		if !errors.Is(err, context.DeadlineExceeded) {
			cerr.Reason = err.Error()
		}
		receipt.Error = cerr.Error()
		return receipt, cerr
	}
	if status < 200 || status > 299 {
		cerr := &ConnectivityError{Reason: "status", Status: status}
		receipt.Error = cerr.Error()
		return receipt, cerr
	}

	receipt.OK = true
	m.mu.Lock()
	ts := m.now()
	m.cfg.LastTest = &ts
	cfg := m.snapshotLocked()
	m.mu.Unlock()
	m.persist(ctx, cfg)
	return receipt, nil
}

// Notify delivers an event to the endpoint asynchronously. Events are
// dropped silently when the endpoint is inactive or the kind is not
// subscribed. Delivery retries with backoff until the policy is exhausted.
func (m *Manager) Notify(ctx context.Context, ev notify.Event) {
	m.mu.RLock()
	target := m.cfg.URL
	active := m.cfg.Active
	subscribed := m.cfg.Subscriptions[ev.Kind]
	m.mu.RUnlock()
	if !active || !subscribed || target == "" {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		obs.Log("error", "webhook_marshal_failed", map[string]any{"event_id": ev.ID, "error": err.Error()})
		return
	}

	m.log.add(DeliveryRecord{
		EventID:    ev.ID,
		Kind:       ev.Kind,
		URL:        target,
		Status:     DeliveryPending,
		FirstTried: m.now(),
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.deliver(context.WithoutCancel(ctx), target, ev, body)
	}()
}

// Wait blocks until in-flight deliveries finish. Shutdown hook.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) deliver(ctx context.Context, target string, ev notify.Event, body []byte) {
	headers := m.signature(body)
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		if delay := m.policy.Delay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}

		status, err := m.poster.Post(ctx, target, body, headers)
		ok := err == nil && status >= 200 && status <= 299
		n := attempt
		m.log.update(ev.ID, func(rec *DeliveryRecord) {
			rec.Attempts = n
			rec.LastCode = status
			if err != nil {
				rec.LastError = err.Error()
			} else if !ok {
				rec.LastError = fmt.Sprintf("status %d", status)
			}
		})
		if ok {
			ts := m.now()
			m.log.update(ev.ID, func(rec *DeliveryRecord) {
				rec.Status = DeliverySucceeded
				rec.LastError = ""
				rec.CompletedAt = &ts
			})
			obs.ObserveWebhookDelivery("success")
			return
		}
		obs.Log("warn", "webhook_delivery_retry", map[string]any{
			"event_id": ev.ID, "attempt": attempt, "status": status,
		})
	}
	ts := m.now()
	m.log.update(ev.ID, func(rec *DeliveryRecord) {
		rec.Status = DeliveryFailed
		rec.CompletedAt = &ts
	})
	obs.ObserveWebhookDelivery("failed")
	obs.Log("error", "webhook_delivery_failed", map[string]any{"event_id": ev.ID, "kind": string(ev.Kind)})
}

// Deliveries returns up to n recent delivery records, newest first.
func (m *Manager) Deliveries(n int) []DeliveryRecord { return m.log.recent(n) }

func (m *Manager) DeliveryStats() DeliveryStats { return m.log.stats() }

func (m *Manager) signature(body []byte) map[string]string {
	if m.secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write(body)
	return map[string]string{"X-Sparrowvision-Signature": hex.EncodeToString(mac.Sum(nil))}
}

func (m *Manager) persist(ctx context.Context, cfg Config) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveConfig(ctx, cfg); err != nil {
		obs.Log("warn", "webhook_store_save_failed", map[string]any{"error": err.Error()})
	}
}
