// Package events provides the typed publish/subscribe bus and the ordered
// stream controller that relays engine activity to external consumers.
package events

import (
	"sync"

	"cortexos/internal/logging"
)

// Handler receives a published payload for an event name.
type Handler func(payload any)

// Bus is a named-channel pub/sub. Delivery is synchronous fan-out in
// publication order from the publisher's goroutine; a panicking subscriber
// is recovered and logged so it cannot break the others.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]map[int]Handler)}
}

// Subscribe registers fn for the event name and returns an unsubscribe
// function. Unsubscribe is idempotent.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[int]Handler)
	}
	b.handlers[name][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[name], id)
		})
	}
}

// Publish delivers payload to every subscriber of name, in subscription
// order. Handlers run outside the bus lock so they may subscribe or publish
// re-entrantly.
func (b *Bus) Publish(name string, payload any) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.handlers[name]))
	for id := range b.handlers[name] {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in registration order.
	sortInts(ids)
	fns := make([]Handler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.handlers[name][id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		b.invoke(name, fn, payload)
	}
}

func (b *Bus) invoke(name string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logging.StreamWarn("subscriber for %q panicked: %v", name, r)
		}
	}()
	fn(payload)
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}
