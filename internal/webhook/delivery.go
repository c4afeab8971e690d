package webhook

import (
	"sync"
	"time"

	"sparrowvision.org/internal/notify"
)

// DeliveryStatus tracks one event's progress through the retry loop.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryRecord is one event's delivery history entry.
type DeliveryRecord struct {
	EventID     string           `json:"event_id"`
	Kind        notify.EventKind `json:"kind"`
	URL         string           `json:"url"`
	Status      DeliveryStatus   `json:"status"`
	Attempts    int              `json:"attempts"`
	LastCode    int              `json:"last_code,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	FirstTried  time.Time        `json:"first_tried"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// DeliveryStats aggregates the log for the settings page.
type DeliveryStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// deliveryLog is a bounded ring of recent delivery records, newest last.
type deliveryLog struct {
	mu      sync.Mutex
	max     int
	records []DeliveryRecord
	index   map[string]int
}

func newDeliveryLog(max int) *deliveryLog {
	return &deliveryLog{max: max, index: make(map[string]int)}
}

func (l *deliveryLog) add(rec DeliveryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.max {
		evicted := l.records[0]
		l.records = l.records[1:]
		delete(l.index, evicted.EventID)
		for id, i := range l.index {
			l.index[id] = i - 1
		}
	}
	l.index[rec.EventID] = len(l.records)
	l.records = append(l.records, rec)
}

func (l *deliveryLog) update(eventID string, fn func(*DeliveryRecord)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.index[eventID]; ok {
		fn(&l.records[i])
	}
}

// recent returns up to n records, newest first.
func (l *deliveryLog) recent(n int) []DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]DeliveryRecord, 0, n)
	for i := len(l.records) - 1; i >= len(l.records)-n; i-- {
		out = append(out, l.records[i])
	}
	return out
}

func (l *deliveryLog) stats() DeliveryStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := DeliveryStats{Total: len(l.records)}
	for _, rec := range l.records {
		switch rec.Status {
		case DeliverySucceeded:
			s.Succeeded++
		case DeliveryFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}
