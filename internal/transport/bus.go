package transport

import (
	"sort"
	"sync"
)

// Bus fans inbound messages out to every listener, in registration order.
type Bus struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]func(Message)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[uint64]func(Message))}
}

// Listen registers fn and returns a function that removes it.
func (b *Bus) Listen(fn func(Message)) (cancel func()) {
	b.mu.Lock()
	key := b.next
	b.next++
	b.listeners[key] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, key)
			b.mu.Unlock()
		})
	}
}

// Deliver hands msg to every listener. Listeners run without the bus lock
// held, so they may register or cancel listeners.
func (b *Bus) Deliver(msg Message) {
	for _, fn := range b.snapshot() {
		fn(msg)
	}
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Bus) snapshot() []func(Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]uint64, 0, len(b.listeners))
	for k := range b.listeners {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	fns := make([]func(Message), len(keys))
	for i, k := range keys {
		fns[i] = b.listeners[k]
	}
	return fns
}
