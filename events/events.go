package events

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// EventHandler defines a function type where its input type is the generic type. A returned error stops the
// remaining handlers for that event and is returned to the publisher.
type EventHandler[T any] func(T) error

// globalEventHandlers describes a mapping of event types to EventHandler objects. These callbacks are called
// any time any EventEmitter publishes an event of that type.
var globalEventHandlers = make(map[reflect.Type][]any)

// globalEventHandlersLock guards globalEventHandlers.
var globalEventHandlersLock sync.Mutex

// SubscribeAny adds an EventHandler to the global handlers for a given event data type.
// Note: An EventHandler subscribed here will remain throughout program execution.
func SubscribeAny[T any](callback EventHandler[T]) {
	eventType := reflect.TypeOf((*T)(nil)).Elem()

	globalEventHandlersLock.Lock()
	defer globalEventHandlersLock.Unlock()
	globalEventHandlers[eventType] = append(globalEventHandlers[eventType], callback)
}

// EventEmitter describes a provider which can subscribe EventHandler methods for callback when the event type (generic)
// is published. Publish may be called from multiple goroutines; handlers must synchronize their own state.
type EventEmitter[T any] struct {
	// subscriptions defines the EventHandler methods which should be invoked when a new event is published to this
	// emitter.
	subscriptions []EventHandler[T]

	// subscriptionsLock guards subscriptions.
	subscriptionsLock sync.RWMutex
}

// Publish emits the provided event by calling every subscribed EventHandler, then every global handler for the
// event type. Returns the first error a handler produced.
func (e *EventEmitter[T]) Publish(event T) error {
	e.subscriptionsLock.RLock()
	subscriptions := append([]EventHandler[T](nil), e.subscriptions...)
	e.subscriptionsLock.RUnlock()

	for _, subscription := range subscriptions {
		if err := subscription(event); err != nil {
			return errors.WithStack(err)
		}
	}

	globalEventHandlersLock.Lock()
	callbacks := append([]any(nil), globalEventHandlers[reflect.TypeOf((*T)(nil)).Elem()]...)
	globalEventHandlersLock.Unlock()

	for _, callback := range callbacks {
		if err := callback.(EventHandler[T])(event); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Subscribe adds an EventHandler to the list of subscribed EventHandler objects for this emitter.
func (e *EventEmitter[T]) Subscribe(callback EventHandler[T]) {
	e.subscriptionsLock.Lock()
	defer e.subscriptionsLock.Unlock()
	e.subscriptions = append(e.subscriptions, callback)
}
