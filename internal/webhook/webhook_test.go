package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sparrowvision.org/internal/notify"
)

type fakePoster struct {
	mu       sync.Mutex
	statuses []int
	err      error
	calls    int
	lastBody []byte
	headers  map[string]string
}

func (p *fakePoster) Post(_ context.Context, _ string, body []byte, headers map[string]string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastBody = body
	p.headers = headers
	if p.err != nil {
		return 0, p.err
	}
	status := 200
	if len(p.statuses) > 0 {
		status = p.statuses[0]
		if len(p.statuses) > 1 {
			p.statuses = p.statuses[1:]
		}
	}
	return status, nil
}

func (p *fakePoster) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestSetEndpointRejectsNonHTTPS(t *testing.T) {
	m := NewManager()
	for _, raw := range []string{"http://example.com/hook", "ftp://example.com", "not a url", "https://"} {
		if _, err := m.SetEndpoint(context.Background(), raw); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("SetEndpoint(%q) err = %v, want ErrInvalidURL", raw, err)
		}
	}
	if m.Snapshot().Active {
		t.Fatalf("rejected endpoint must not activate delivery")
	}
}

func TestSetEndpointActivatesAndClears(t *testing.T) {
	m := NewManager()
	cfg, err := m.SetEndpoint(context.Background(), "https://hooks.example.com/gov")
	if err != nil {
		t.Fatalf("set endpoint: %v", err)
	}
	if !cfg.Active || cfg.URL != "https://hooks.example.com/gov" {
		t.Fatalf("config = %+v", cfg)
	}

	cfg, err = m.SetEndpoint(context.Background(), "")
	if err != nil {
		t.Fatalf("clear endpoint: %v", err)
	}
	if cfg.Active || cfg.URL != "" {
		t.Fatalf("cleared config = %+v", cfg)
	}
}

func TestSetSubscriptionUnknownKind(t *testing.T) {
	m := NewManager()
	if _, err := m.SetSubscription(context.Background(), "user.deleted", true); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("err = %v, want ErrUnknownEventKind", err)
	}
}

func TestTestConnectionStampsLastTestOnSuccess(t *testing.T) {
	poster := &fakePoster{}
	m := NewManager(WithPoster(poster))
	if _, err := m.SetEndpoint(context.Background(), "https://hooks.example.com/gov"); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}

	receipt, err := m.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if !receipt.OK || receipt.Status != 200 {
		t.Fatalf("receipt = %+v", receipt)
	}
	if m.Snapshot().LastTest == nil {
		t.Fatalf("LastTest not stamped")
	}
}

func TestTestConnectionFailureLeavesConfigAlone(t *testing.T) {
	poster := &fakePoster{statuses: []int{503}}
	m := NewManager(WithPoster(poster))
	if _, err := m.SetEndpoint(context.Background(), "https://hooks.example.com/gov"); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}

	_, err := m.TestConnection(context.Background())
	var cerr *ConnectivityError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConnectivityError", err)
	}
	if cerr.Reason != "status" || cerr.Status != 503 {
		t.Fatalf("connectivity error = %+v", cerr)
	}
	cfg := m.Snapshot()
	if cfg.LastTest != nil {
		t.Fatalf("failed test must not stamp LastTest")
	}
	if !cfg.Active {
		t.Fatalf("failed test must not deactivate the endpoint")
	}
}

func TestNotifySkipsUnsubscribedKind(t *testing.T) {
	poster := &fakePoster{}
	m := NewManager(WithPoster(poster), WithRetryPolicy(fastPolicy()))
	if _, err := m.SetEndpoint(context.Background(), "https://hooks.example.com/gov"); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}
	if _, err := m.SetSubscription(context.Background(), notify.EventToolSynced, false); err != nil {
		t.Fatalf("set subscription: %v", err)
	}

	m.Notify(context.Background(), notify.NewEvent(notify.EventToolSynced, nil))
	m.Wait()
	if poster.callCount() != 0 {
		t.Fatalf("unsubscribed event was posted")
	}
}

func TestNotifyRetriesUntilSuccess(t *testing.T) {
	poster := &fakePoster{statuses: []int{500, 502, 200}}
	m := NewManager(WithPoster(poster), WithRetryPolicy(fastPolicy()))
	if _, err := m.SetEndpoint(context.Background(), "https://hooks.example.com/gov"); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}

	ev := notify.NewEvent(notify.EventUserInvited, map[string]string{"email": "a@example.com"})
	m.Notify(context.Background(), ev)
	m.Wait()

	if got := poster.callCount(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	recs := m.Deliveries(1)
	if len(recs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(recs))
	}
	if recs[0].Status != DeliverySucceeded || recs[0].Attempts != 3 {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestNotifyGivesUpAfterMaxAttempts(t *testing.T) {
	poster := &fakePoster{err: errors.New("connection refused")}
	m := NewManager(WithPoster(poster), WithRetryPolicy(fastPolicy()))
	if _, err := m.SetEndpoint(context.Background(), "https://hooks.example.com/gov"); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}

	m.Notify(context.Background(), notify.NewEvent(notify.EventPolicyViolation, nil))
	m.Wait()

	if got := poster.callCount(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	recs := m.Deliveries(1)
	if recs[0].Status != DeliveryFailed {
		t.Fatalf("record = %+v", recs[0])
	}
	stats := m.DeliveryStats()
	if stats.Failed != 1 || stats.Total != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestNotifySignsPayloadWhenSecretSet(t *testing.T) {
	poster := &fakePoster{}
	m := NewManager(WithPoster(poster), WithRetryPolicy(fastPolicy()), WithSigningSecret("s3cret"))
	if _, err := m.SetEndpoint(context.Background(), "https://hooks.example.com/gov"); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}

	m.Notify(context.Background(), notify.NewEvent(notify.EventUserInvited, nil))
	m.Wait()

	poster.mu.Lock()
	defer poster.mu.Unlock()
	if poster.headers["X-Sparrowvision-Signature"] == "" {
		t.Fatalf("signature header missing")
	}
}

func TestRetryPolicyDelaysAreCapped(t *testing.T) {
	p := DefaultRetryPolicy()
	if d := p.Delay(1); d != 0 {
		t.Fatalf("first attempt delay = %v, want 0", d)
	}
	if d := p.Delay(2); d != time.Second {
		t.Fatalf("second attempt delay = %v, want 1s", d)
	}
	if d := p.Delay(3); d != 2*time.Second {
		t.Fatalf("third attempt delay = %v, want 2s", d)
	}
	if d := p.Delay(100); d != 5*time.Minute {
		t.Fatalf("late attempt delay = %v, want cap", d)
	}
}

func TestDeliveryLogEvictsOldest(t *testing.T) {
	l := newDeliveryLog(2)
	for _, id := range []string{"a", "b", "c"} {
		l.add(DeliveryRecord{EventID: id, Status: DeliveryPending, FirstTried: time.Now()})
	}
	recs := l.recent(10)
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].EventID != "c" || recs[1].EventID != "b" {
		t.Fatalf("order = %s,%s", recs[0].EventID, recs[1].EventID)
	}
	// Updates to evicted records are dropped, surviving ones still apply.
	l.update("a", func(r *DeliveryRecord) { r.Status = DeliverySucceeded })
	l.update("c", func(r *DeliveryRecord) { r.Status = DeliverySucceeded })
	if l.stats().Succeeded != 1 {
		t.Fatalf("stats = %+v", l.stats())
	}
}
