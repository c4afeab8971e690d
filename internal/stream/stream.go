package stream

import (
	"context"
	"sync"
	"time"

	"sparrowvision.org/internal/notify"
)

// Event is a governance occurrence pushed to live dashboard clients.
type Event struct {
	Kind notify.EventKind  `json:"kind"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data,omitempty"`
}

// Stream fan-outs governance events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Name implements notify.Channel so the stream can sit on the dispatcher
// like any other delivery target.
func (s *Stream) Name() string { return "stream" }

func (s *Stream) Deliver(_ context.Context, ev notify.Event) error {
	s.Publish(Event{Kind: ev.Kind, At: ev.OccurredAt, Data: ev.Data})
	return nil
}
