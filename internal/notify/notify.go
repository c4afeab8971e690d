// Package notify fans governance events out to delivery channels. Delivery
// is best effort: a failing channel is reported, never fatal to the caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names a governance event a consumer can subscribe to.
type EventKind string

const (
	EventAccessReviewComplete EventKind = "access_review.complete"
	EventToolSynced           EventKind = "tool.synced"
	EventUserInvited          EventKind = "user.invited"
	EventPolicyViolation      EventKind = "policy.violation"
)

// Kinds lists every event kind in a stable order.
func Kinds() []EventKind {
	return []EventKind{
		EventAccessReviewComplete,
		EventToolSynced,
		EventUserInvited,
		EventPolicyViolation,
	}
}

// ValidKind reports whether k names a known event kind.
func ValidKind(k EventKind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event is a single governance occurrence.
type Event struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind EventKind, data map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Channel delivers events somewhere: email, a log, a test recorder.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// DeliveryError records one channel's failure for one event.
type DeliveryError struct {
	Channel string
	Kind    EventKind
	Reason  string
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("notify: channel %s failed for %s: %s", e.Channel, e.Kind, e.Reason)
}

type subscription struct {
	ch    Channel
	kinds map[EventKind]bool
}

// Dispatcher routes events to subscribed channels concurrently.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    []subscription
	timeout time.Duration
}

type DispatcherOption func(*Dispatcher)

// WithDeliveryTimeout bounds how long a single channel may take per event.
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.timeout = d }
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a channel for the given kinds. With no kinds the
// channel receives everything.
func (d *Dispatcher) Subscribe(ch Channel, kinds ...EventKind) {
	sub := subscription{ch: ch}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
}

// Dispatch delivers the event to every matching channel in parallel and
// returns the failures. An empty slice means every channel accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) []DeliveryError {
	d.mu.RLock()
	targets := make([]Channel, 0, len(d.subs))
	for _, sub := range d.subs {
		if sub.kinds == nil || sub.kinds[ev.Kind] {
			targets = append(targets, sub.ch)
		}
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []DeliveryError
	)
	for _, ch := range targets {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := ch.Deliver(dctx, ev); err != nil {
				mu.Lock()
				failed = append(failed, DeliveryError{Channel: ch.Name(), Kind: ev.Kind, Reason: err.Error()})
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()
	return failed
}
