package httpapi

import (
	"context"

	"sparrowvision.org/internal/notify"
	"sparrowvision.org/internal/stream"
)

// publishEvent pushes a governance event to the live stream and the webhook
// path. Both are best effort.
func (a *API) publishEvent(ctx context.Context, kind notify.EventKind, data map[string]string) {
	ev := notify.NewEvent(kind, data)
	if a.events != nil {
		a.events.Publish(stream.Event{Kind: ev.Kind, At: ev.OccurredAt, Data: ev.Data})
	}
	if a.hooks != nil {
		a.hooks.Notify(ctx, ev)
	}
}
