package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyChannel struct {
	name string
	err  error
}

func (c *flakyChannel) Name() string                         { return c.name }
func (c *flakyChannel) Deliver(context.Context, Event) error { return c.err }

type slowChannel struct{ delay time.Duration }

func (c *slowChannel) Name() string { return "slow" }

func (c *slowChannel) Deliver(ctx context.Context, _ Event) error {
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatchFansOutToSubscribers(t *testing.T) {
	d := NewDispatcher()
	all := &NullChannel{}
	invitesOnly := &NullChannel{}
	d.Subscribe(all)
	d.Subscribe(invitesOnly, EventUserInvited)

	ev := NewEvent(EventToolSynced, map[string]string{"tool": "github"})
	if errs := d.Dispatch(context.Background(), ev); len(errs) != 0 {
		t.Fatalf("dispatch errors: %v", errs)
	}

	if got := len(all.Events()); got != 1 {
		t.Fatalf("catch-all received %d events, want 1", got)
	}
	if got := len(invitesOnly.Events()); got != 0 {
		t.Fatalf("filtered channel received %d events, want 0", got)
	}

	if errs := d.Dispatch(context.Background(), NewEvent(EventUserInvited, nil)); len(errs) != 0 {
		t.Fatalf("dispatch errors: %v", errs)
	}
	if got := len(invitesOnly.Events()); got != 1 {
		t.Fatalf("filtered channel received %d events, want 1", got)
	}
}

func TestDispatchCollectsFailuresWithoutAborting(t *testing.T) {
	d := NewDispatcher()
	ok := &NullChannel{}
	d.Subscribe(&flakyChannel{name: "smtp", err: errors.New("connection refused")})
	d.Subscribe(ok)

	errs := d.Dispatch(context.Background(), NewEvent(EventPolicyViolation, nil))
	if len(errs) != 1 {
		t.Fatalf("failures = %d, want 1", len(errs))
	}
	if errs[0].Channel != "smtp" || errs[0].Kind != EventPolicyViolation {
		t.Fatalf("unexpected failure record: %+v", errs[0])
	}
	if got := len(ok.Events()); got != 1 {
		t.Fatalf("healthy channel received %d events, want 1", got)
	}
}

func TestDispatchTimesOutSlowChannel(t *testing.T) {
	d := NewDispatcher(WithDeliveryTimeout(20 * time.Millisecond))
	d.Subscribe(&slowChannel{delay: time.Second})

	start := time.Now()
	errs := d.Dispatch(context.Background(), NewEvent(EventToolSynced, nil))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("dispatch blocked for %v", elapsed)
	}
	if len(errs) != 1 {
		t.Fatalf("failures = %d, want 1", len(errs))
	}
}

func TestEmailChannelSendsToEveryRecipient(t *testing.T) {
	var sent []string
	sender := senderFunc(func(_ context.Context, to, subject string, _ map[string]string) error {
		sent = append(sent, to+":"+subject)
		return nil
	})
	ch := NewEmailChannel(sender, "a@example.com", "b@example.com")

	if err := ch.Deliver(context.Background(), NewEvent(EventUserInvited, nil)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent = %v, want 2 messages", sent)
	}
	if sent[0] != "a@example.com:user.invited" {
		t.Fatalf("first message = %s", sent[0])
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range Kinds() {
		if !ValidKind(k) {
			t.Fatalf("%s should be valid", k)
		}
	}
	if ValidKind("user.deleted") {
		t.Fatalf("unknown kind accepted")
	}
}

type senderFunc func(ctx context.Context, to, subject string, body map[string]string) error

func (f senderFunc) Send(ctx context.Context, to, subject string, body map[string]string) error {
	return f(ctx, to, subject, body)
}
