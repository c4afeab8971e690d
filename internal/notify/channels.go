package notify

import (
	"context"
	"sync"

	"sparrowvision.org/internal/obs"
)

// Sender is the outbound mail hook. Production wires a provider client;
// tests inject fakes.
type Sender interface {
	Send(ctx context.Context, to, subject string, body map[string]string) error
}

// EmailChannel delivers events as mail to a fixed recipient list.
type EmailChannel struct {
	sender     Sender
	recipients []string
}

func NewEmailChannel(sender Sender, recipients ...string) *EmailChannel {
	return &EmailChannel{sender: sender, recipients: recipients}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, ev Event) error {
	for _, to := range c.recipients {
		if err := c.sender.Send(ctx, to, string(ev.Kind), ev.Data); err != nil {
			return err
		}
	}
	return nil
}

// LogChannel writes a "would send" line instead of delivering anywhere.
// Useful in environments without a mail provider.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Deliver(_ context.Context, ev Event) error {
	fields := map[string]any{"event_id": ev.ID, "kind": string(ev.Kind)}
	for k, v := range ev.Data {
		fields["data_"+k] = v
	}
	obs.Log("info", "notification_would_send", fields)
	return nil
}

// NullChannel records events in memory. Test double.
type NullChannel struct {
	mu     sync.Mutex
	events []Event
}

func (c *NullChannel) Name() string { return "null" }

func (c *NullChannel) Deliver(_ context.Context, ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

// Events returns a copy of everything delivered so far.
func (c *NullChannel) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
