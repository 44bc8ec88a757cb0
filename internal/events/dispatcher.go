package events

import (
	"context"
	"errors"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	all       []EventHandler
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
	}
}

// Publish synchronously invokes every handler for the event. A failing handler
// does not stop the others; the joined handler errors are returned.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	handlers = append(handlers, d.all...)
	d.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// SubscribeAll registers a handler invoked for every event type.
func SubscribeAll(d Dispatcher, handler EventHandler) {
	if mem, ok := d.(*inMemoryDispatcher); ok {
		mem.mu.Lock()
		mem.all = append(mem.all, handler)
		mem.mu.Unlock()
		return
	}
	for _, eventType := range AllTypes {
		d.Subscribe(eventType, handler)
	}
}

// AllTypes lists every event type the engines publish.
var AllTypes = []EventType{
	EventRequestSubmitted,
	EventRequestDecided,
	EventRequestStatusChanged,
	EventApprovalLevelAdded,
	EventTicketCreated,
	EventTicketUpdated,
	EventTicketStatusChanged,
	EventTicketAssigned,
	EventTicketCommentAdded,
}
