// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AllEvents subscribes a handler to every event type.
const AllEvents EventType = "*"

var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBufferFull = errors.New("subscriber queue full")
)

// Bus fans events out to subscribers. Every subscriber owns a bounded queue
// drained by its own goroutine, so one subscriber sees events in publish
// order and a slow one cannot stall the others. Publish never blocks: an
// event that does not fit a subscriber's queue is dropped for that
// subscriber only.
type Bus struct {
	mu        sync.RWMutex
	subs      map[EventType]map[string]*subscriber
	closed    bool
	queueSize int
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	published     atomic.Uint64
	dropped       atomic.Uint64
	handlerErrors atomic.Uint64
}

type subscriber struct {
	id      string
	typ     EventType
	handler Handler
	queue   chan Event
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	QueueSize       int
	Pending         int
	Published       uint64
	Dropped         uint64
	HandlerErrors   uint64
	HandlersPerType map[EventType]int
}

// NewBus creates a bus whose subscribers each buffer up to queueSize events.
func NewBus(logger *zap.Logger, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:      make(map[EventType]map[string]*subscriber),
		queueSize: queueSize,
		logger:    logger.Named("event_bus"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Subscribe registers a handler for one event type, or AllEvents. After
// Shutdown the returned subscription never fires.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	sub := &subscriber{
		id:      uuid.New().String(),
		typ:     eventType,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.queue)
		return &subscription{id: sub.id, eventBus: b, typ: eventType}
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[string]*subscriber)
	}
	b.subs[eventType][sub.id] = sub

	b.wg.Add(1)
	go b.deliver(sub)

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", sub.id))

	return &subscription{id: sub.id, eventBus: b, typ: eventType}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish queues event for every matching subscriber. It returns
// ErrBufferFull when at least one subscriber had to drop it.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published.Add(1)

	var full bool
	enqueue := func(subs map[string]*subscriber) {
		for _, sub := range subs {
			select {
			case sub.queue <- event:
			default:
				full = true
				b.dropped.Add(1)
				b.logger.Warn("Subscriber queue full, dropping event",
					zap.String("event_type", string(event.Type())),
					zap.String("subscription_id", sub.id))
			}
		}
	}
	enqueue(b.subs[event.Type()])
	if event.Type() != AllEvents {
		enqueue(b.subs[AllEvents])
	}

	if full {
		return ErrBufferFull
	}
	return nil
}

// PublishSync runs the matching handlers on the calling goroutine, bypassing
// the queues, and joins their errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, sub := range b.matching(event.Type()) {
		if err := sub.handler.Handle(ctx, event); err != nil {
			b.handlerFailed(sub, event, err)
			errs = append(errs, fmt.Errorf("handler %s: %w", sub.id, err))
		}
	}
	return errors.Join(errs...)
}

// matching copies the subscribers so no handler runs under the lock.
func (b *Bus) matching(t EventType) []*subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*subscriber, 0, len(b.subs[t])+len(b.subs[AllEvents]))
	for _, sub := range b.subs[t] {
		out = append(out, sub)
	}
	if t != AllEvents {
		for _, sub := range b.subs[AllEvents] {
			out = append(out, sub)
		}
	}
	return out
}

func (b *Bus) deliver(sub *subscriber) {
	defer b.wg.Done()
	for event := range sub.queue {
		if err := sub.handler.Handle(b.ctx, event); err != nil {
			b.handlerFailed(sub, event, err)
		}
	}
}

func (b *Bus) handlerFailed(sub *subscriber, event Event, err error) {
	b.handlerErrors.Add(1)
	b.logger.Error("Handler error",
		zap.String("event_type", string(event.Type())),
		zap.String("subscription_id", sub.id),
		zap.Error(err))
}

// unsubscribe closes the subscriber's queue; events already queued are
// still handled.
func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[eventType]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, eventType)
	}
	close(sub.queue)

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Shutdown stops accepting events and waits until every subscriber has
// drained its queue. When ctx expires first, the context handed to the
// handlers is cancelled and ctx.Err() is returned.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	b.subs = make(map[EventType]map[string]*subscriber)
	b.mu.Unlock()

	b.logger.Info("Shutting down event bus")
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.cancel()
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Close implements io.Closer for shutdown registration.
func (b *Bus) Close() error {
	return b.Shutdown(context.Background())
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[EventType]int, len(b.subs))
	pending := 0
	for t, subs := range b.subs {
		counts[t] = len(subs)
		for _, sub := range subs {
			pending += len(sub.queue)
		}
	}
	return Stats{
		QueueSize:       b.queueSize,
		Pending:         pending,
		Published:       b.published.Load(),
		Dropped:         b.dropped.Load(),
		HandlerErrors:   b.handlerErrors.Load(),
		HandlersPerType: counts,
	}
}
