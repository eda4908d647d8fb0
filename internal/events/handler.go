// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes events delivered by the bus. Handlers of one
// subscription run sequentially; a slow handler only delays its own queue.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as event handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// On adapts fn into a Handler for one concrete event type. Events of any
// other type are skipped, which makes it safe to combine with AllEvents.
func On[E Event](fn func(ctx context.Context, event E) error) Handler {
	return HandlerFunc(func(ctx context.Context, event Event) error {
		e, ok := event.(E)
		if !ok {
			return nil
		}
		return fn(ctx, e)
	})
}

// Publisher is the publishing side of the bus.
type Publisher interface {
	Publish(event Event) error
}

// Subscription represents a subscription to events.
type Subscription interface {
	// Unsubscribe removes the subscription.
	Unsubscribe()
}

type subscription struct {
	id       string
	eventBus *Bus
	typ      EventType
}

func (s *subscription) Unsubscribe() {
	s.eventBus.unsubscribe(s.id, s.typ)
}
