package event

import (
	"sync"
	"sync/atomic"
)

// Handler processes a published notice.
type Handler func(Notice)

// Bus distributes notices to subscribed handlers. Safe for concurrent
// use; delivery is synchronous and in subscription order per type.
type Bus struct {
	mu        sync.RWMutex
	byType    map[string]map[int64]Handler
	wildcards map[int64]Handler

	nextID atomic.Int64
	closed atomic.Bool
}

// Subscription identifies an active subscription for later removal.
type Subscription struct {
	id    int64
	types []string
	bus   *Bus
}

// NewBus creates an empty notification bus.
func NewBus() *Bus {
	return &Bus{
		byType:    make(map[string]map[int64]Handler),
		wildcards: make(map[int64]Handler),
	}
}

// Publish delivers a notice to every matching subscriber. Publishing on
// a closed bus is a no-op.
func (b *Bus) Publish(n Notice) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, 4)
	if typed, ok := b.byType[n.Type]; ok {
		for _, h := range typed {
			handlers = append(handlers, h)
		}
	}
	for _, h := range b.wildcards {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
}

// Subscribe registers a handler for specific notice types.
func (b *Bus) Subscribe(types []string, handler Handler) *Subscription {
	if b.closed.Load() || handler == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	for _, t := range types {
		if b.byType[t] == nil {
			b.byType[t] = make(map[int64]Handler)
		}
		b.byType[t][id] = handler
	}
	return &Subscription{id: id, types: types, bus: b}
}

// SubscribeAll registers a handler for all notices.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	if b.closed.Load() || handler == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.wildcards[id] = handler
	return &Subscription{id: id, bus: b}
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.wildcards, s.id)
	for _, t := range s.types {
		if typed, ok := s.bus.byType[t]; ok {
			delete(typed, s.id)
		}
	}
}

// Close stops delivery. Subsequent publishes are dropped.
func (b *Bus) Close() {
	b.closed.Store(true)
}
