// Package callbacks keeps the queues of pending calls and event listeners for
// every endpoint identity.
//
// Call keys hold *Call handlers, consumed exactly once in FIFO order. Event
// keys (event:<name>) hold *Listener handlers, which persist until removed.
package callbacks

import (
	"sync"

	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/future"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
)

// Handler is an entry in a queue. Handlers compare by identity.
type Handler interface {
	handler()
}

// Call is a pending remote call awaiting its reply.
type Call struct {
	*future.Future[any]
	Method string
}

// NewCall creates a pending call for method.
func NewCall(method string) *Call {
	return &Call{Future: future.New[any](), Method: method}
}

func (*Call) handler() {}

// Listener receives the data of one event.
type Listener struct {
	Event string
	fn    func(data any)
}

// NewListener wraps fn as a listener for event.
func NewListener(event string, fn func(data any)) *Listener {
	return &Listener{Event: event, fn: fn}
}

// Invoke calls the listener with data.
func (l *Listener) Invoke(data any) {
	l.fn(data)
}

func (*Listener) handler() {}

// EventKey returns the registry key for an event's listeners.
func EventKey(event string) string {
	return protocol.EventKeyPrefix + event
}

// Registry maps endpoint identity and key to an ordered handler queue.
type Registry struct {
	mu     sync.Mutex
	queues map[id.EndpointID]map[string][]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[id.EndpointID]map[string][]Handler)}
}

// Store appends h to the queue and returns the new queue length.
func (r *Registry) Store(ep id.EndpointID, key string, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.queues[ep]
	if !ok {
		keys = make(map[string][]Handler)
		r.queues[ep] = keys
	}
	keys[key] = append(keys[key], h)
	return len(keys[key])
}

// List returns a snapshot of the queue. It is empty, never nil, when there is none.
func (r *Registry) List(ep id.EndpointID, key string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.queues[ep][key]
	out := make([]Handler, len(queue))
	copy(out, queue)
	return out
}

// Len returns the queue length.
func (r *Registry) Len(ep id.EndpointID, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queues[ep][key])
}

// Remove drops the first entry matching h, or the whole queue when h is nil.
// It reports whether the queue is empty afterwards, which includes the case
// where there was no queue at all.
func (r *Registry) Remove(ep id.EndpointID, key string, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.queues[ep]
	queue, ok := keys[key]
	if !ok {
		return true
	}

	if h == nil {
		r.drop(ep, key)
		return true
	}

	for i, entry := range queue {
		if entry == h {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}

	if len(queue) == 0 {
		r.drop(ep, key)
		return true
	}
	keys[key] = queue
	return false
}

// TakeFirst pops the head of the queue. ok is false when the queue is empty.
func (r *Registry) TakeFirst(ep id.EndpointID, key string) (h Handler, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.queues[ep][key]
	if len(queue) == 0 {
		return nil, false
	}

	h = queue[0]
	queue[0] = nil
	if len(queue) == 1 {
		r.drop(ep, key)
	} else {
		r.queues[ep][key] = queue[1:]
	}
	return h, true
}

// TransferAll moves every queue of from to to and forgets from. Entries
// already held by to stay ahead of the moved ones.
func (r *Registry) TransferAll(from, to id.EndpointID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.queues[from]
	if !ok || from == to {
		return
	}
	delete(r.queues, from)

	dst, ok := r.queues[to]
	if !ok {
		r.queues[to] = src
		return
	}
	for key, queue := range src {
		dst[key] = append(dst[key], queue...)
	}
}

// Clear forgets every queue of an identity.
func (r *Registry) Clear(ep id.EndpointID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.queues, ep)
}

// Keys returns the non-empty keys held for an identity.
func (r *Registry) Keys(ep id.EndpointID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.queues[ep]))
	for key := range r.queues[ep] {
		keys = append(keys, key)
	}
	return keys
}

// drop removes a key and, when it was the last one, the identity. Callers hold mu.
func (r *Registry) drop(ep id.EndpointID, key string) {
	delete(r.queues[ep], key)
	if len(r.queues[ep]) == 0 {
		delete(r.queues, ep)
	}
}
