package events

import (
	"context"
	"errors"
	"sync"

	"github.com/spec-kit/auth-session/internal/domain"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType domain.AuthEventType, handler EventHandler) (unsubscribe func())
}

type subscription struct {
	id        int
	eventType domain.AuthEventType
	handler   EventHandler
}

// inMemoryDispatcher is a simple synchronous dispatcher. Publishes are
// serialised so every handler sees events in publication order; handlers must
// not publish.
type inMemoryDispatcher struct {
	publishMu sync.Mutex

	mu        sync.RWMutex
	listeners []subscription
	nextID    int
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{}
}

// Publish synchronously invokes handlers for the given event. Every handler
// runs even if an earlier one failed; the failures are joined.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()

	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.listeners))
	for _, sub := range d.listeners {
		if sub.eventType == AllEvents || sub.eventType == event.Type {
			handlers = append(handlers, sub.handler)
		}
	}
	d.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for the given event type, or for every type
// when eventType is AllEvents.
func (d *inMemoryDispatcher) Subscribe(eventType domain.AuthEventType, handler EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners = append(d.listeners, subscription{id: id, eventType: eventType, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, sub := range d.listeners {
				if sub.id == id {
					d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
