// Package events provides a typed publish/subscribe bus for engine
// notifications. Event types form a closed set so that a mistyped
// event name fails to compile instead of silently never firing.
package events

import (
	"sync"
	"time"
)

// Type identifies a kind of engine event.
type Type string

// Engine event types.
const (
	ProviderRegistered     Type = "providerRegistered"
	ProviderUnregistered   Type = "providerUnregistered"
	ProviderError          Type = "providerError"
	HealthCheckPassed      Type = "healthCheckPassed"
	HealthCheckFailed      Type = "healthCheckFailed"
	ProviderRecovered      Type = "providerRecovered"
	ProviderRecoveryFailed Type = "providerRecoveryFailed"
	ActionExecuted         Type = "actionExecuted"
	ActionRolledBack       Type = "actionRolledBack"
	ActionHistoryCleared   Type = "actionHistoryCleared"
	ContextChange          Type = "contextChange"
)

// Event is a single notification published on the bus.
type Event struct {
	Type       Type
	ProviderID string
	ActionID   string
	Err        error
	Data       map[string]any
	Time       time.Time
}

// Handler consumes published events.
type Handler func(Event)

// Bus is a synchronous in-process event bus. Publish invokes handlers
// on the caller's goroutine; handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers the event to all matching handlers. The handler
// list is copied under the lock so a handler may subscribe without
// deadlocking.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.handlers[ev.Type])+len(b.all))
	matched = append(matched, b.handlers[ev.Type]...)
	matched = append(matched, b.all...)
	b.mu.RUnlock()
	for _, h := range matched {
		h(ev)
	}
}
