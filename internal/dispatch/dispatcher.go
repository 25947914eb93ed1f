// Package dispatch implements the typed publish/subscribe registry that
// fans decoded envelopes out to consumers.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"social-rtc/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.Handler
}

// Dispatcher is a goroutine-safe, in-memory event registry. Delivery is
// synchronous and in registration order; each publish iterates a
// snapshot of the subscriber set, so handlers may subscribe or
// unsubscribe during dispatch without skipping or double-invoking their
// siblings. A panicking handler is recovered and logged and does not
// stop delivery to the rest.
type Dispatcher struct {
	mu     sync.RWMutex
	typed  map[domain.EventType][]subscription
	nextID atomic.Uint64
	logger *slog.Logger
}

// New creates a Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for an event type and returns its
// unsubscribe function. Each registration is independent: the same
// handler registered twice is invoked twice per publish.
func (d *Dispatcher) Subscribe(eventType domain.EventType, handler domain.Handler) func() {
	id := d.nextID.Add(1)

	d.mu.Lock()
	d.typed[eventType] = append(d.typed[eventType], subscription{id: id, handler: handler})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				subs = append(subs[:i], subs[i+1:]...)
				if len(subs) == 0 {
					// No empty-bucket leaks.
					delete(d.typed, eventType)
				} else {
					d.typed[eventType] = subs
				}
				return
			}
		}
	}
}

// Publish delivers an event to every handler currently registered for
// its type, synchronously on the calling goroutine.
func (d *Dispatcher) Publish(event domain.Event) {
	d.mu.RLock()
	snapshot := make([]subscription, len(d.typed[event.Type]))
	copy(snapshot, d.typed[event.Type])
	d.mu.RUnlock()

	for _, sub := range snapshot {
		d.deliver(event, sub)
	}
}

func (d *Dispatcher) deliver(event domain.Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"event", string(event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(event)
}

// SubscriberCount reports how many handlers are registered for a type.
func (d *Dispatcher) SubscriberCount(eventType domain.EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.typed[eventType])
}

// HasSubscribers reports whether any handler is registered for a type;
// a type whose last handler unsubscribed has no registry entry at all.
func (d *Dispatcher) HasSubscribers(eventType domain.EventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.typed[eventType]
	return ok
}

var _ domain.Dispatcher = (*Dispatcher)(nil)
