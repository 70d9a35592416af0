package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/settlrhq/settlr/internal/webhook"
)

// EventStore records emitted events for audit and manual replay.
type EventStore interface {
	InsertEvent(ctx context.Context, merchantID string, event webhook.Event) error
}

// DeliveryScheduler enqueues webhook deliveries for emitted events.
type DeliveryScheduler interface {
	Dispatch(ctx context.Context, merchantID string, event webhook.Event) error
}

// Notifier reacts to emitted events (metrics, logs, side channels).
type Notifier interface {
	Notify(ctx context.Context, merchantID string, event webhook.Event) error
}

// Bus persists payment events and fans them out to downstream handlers.
// Persistence failure aborts the emit; scheduler and notifier failures are
// joined and reported without undoing the record.
type Bus struct {
	Store     EventStore
	Scheduler DeliveryScheduler
	Notifiers []Notifier
}

// Emit records the event and dispatches it to all configured handlers.
func (b *Bus) Emit(ctx context.Context, merchantID string, eventType webhook.Type, payload any) (webhook.Event, error) {
	if b == nil {
		return webhook.Event{}, errors.New("events: bus not configured")
	}
	if merchantID == "" {
		return webhook.Event{}, errors.New("events: merchant id is required")
	}
	event, err := webhook.NewEvent(eventType, payload)
	if err != nil {
		return webhook.Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	if b.Store != nil {
		if err := b.Store.InsertEvent(ctx, merchantID, event); err != nil {
			return webhook.Event{}, fmt.Errorf("events: persist event: %w", err)
		}
	}
	var joined error
	if b.Scheduler != nil {
		if schedErr := b.Scheduler.Dispatch(ctx, merchantID, event); schedErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: schedule deliveries: %w", schedErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, merchantID, event); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return event, joined
}
