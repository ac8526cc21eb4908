// Package eventbus carries instance notifications and definition events
// between the engine host and whoever consumes them.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/concord/pkg/events"
)

var ErrUnexpectedEvent = errors.New("unexpected event")

// Event is anything the bus can carry. Every type in pkg/events satisfies it.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events keyed by instance or workflow id, so
// partitioned transports keep the events of one key in order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives a decoded event. A returned error asks the transport
// to redeliver the message.
type EventHandler func(ctx context.Context, event Event) error

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// On registers a handler for one concrete event type.
func On[T Event](sub EventSubscriber, eventType events.EventType, handler func(ctx context.Context, event T) error) error {
	return sub.Handle(eventType, func(ctx context.Context, event Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("%w: %s decoded as %T", ErrUnexpectedEvent, eventType, event)
		}

		return handler(ctx, typed)
	})
}
