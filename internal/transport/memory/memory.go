// Package memory provides an in-process channel pair. The Host side is a
// transport.Channel; the Remote side plays the display frame.
package memory

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

const inboxSize = 64

// Host is the host-side end of a pair.
type Host struct {
	id     id.EndpointID
	origin string
	remote *Remote

	// deliverMu serialises delivery so messages reach the sink in send order.
	deliverMu sync.Mutex
	mu        sync.Mutex
	sink      transport.Sink
	pending   []transport.Message
	closed    bool
	done      chan struct{}
}

// Remote is the frame-side end of a pair.
type Remote struct {
	host  *Host
	inbox chan any
}

// Pair creates a connected pair whose remote end reports origin.
func Pair(origin string) (*Host, *Remote) {
	h := &Host{
		id:     id.NewEndpointID(),
		origin: origin,
		done:   make(chan struct{}),
	}
	h.remote = &Remote{host: h, inbox: make(chan any, inboxSize)}
	return h, h.remote
}

func (h *Host) ID() id.EndpointID { return h.id }
func (h *Host) Origin() string    { return h.origin }

// Start flushes held messages to sink and delivers later ones directly.
func (h *Host) Start(sink transport.Sink) error {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.sink != nil || h.closed {
		h.mu.Unlock()
		return nil
	}
	h.sink = sink
	held := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, msg := range held {
		sink.Deliver(msg)
	}
	return nil
}

// Post hands data to the remote inbox.
func (h *Host) Post(ctx context.Context, data any, targetOrigin string) error {
	if err := transport.CheckTarget(targetOrigin, h.origin); err != nil {
		return err
	}
	select {
	case <-h.done:
		return transport.ErrClosed
	default:
	}
	select {
	case h.remote.inbox <- data:
		return nil
	case <-h.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery in both directions.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.pending = nil
	close(h.done)
	return nil
}

// Closed reports whether the host side was closed.
func (h *Host) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Host) deliver(data any) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	msg := transport.Message{Source: h.id, Origin: h.origin, Data: data}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	sink := h.sink
	if sink == nil {
		h.pending = append(h.pending, msg)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	sink.Deliver(msg)
}

// Send delivers data to the host as if the frame had posted it.
func (r *Remote) Send(data any) {
	r.host.deliver(data)
}

// Emit sends an event notification.
func (r *Remote) Emit(event string, data any) {
	r.Send(protocol.Envelope{Event: event, Data: data}.Object())
}

// Reply sends a method reply.
func (r *Remote) Reply(method string, value any) {
	r.Send(protocol.Envelope{Method: method, Value: value, HasValue: true}.Object())
}

// Fail sends an error notification for method.
func (r *Remote) Fail(method, name, message string) {
	r.Emit(protocol.EventError, map[string]any{
		"method":  method,
		"name":    name,
		"message": message,
	})
}

// Inbox yields what the host posted, in order.
func (r *Remote) Inbox() <-chan any {
	return r.inbox
}

// Next waits for the next posted message and parses it.
func (r *Remote) Next(ctx context.Context) (protocol.Envelope, error) {
	select {
	case data := <-r.inbox:
		return protocol.Parse(data), nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// Handler answers one posted envelope. Each returned payload is sent back in order.
type Handler func(env protocol.Envelope) []any

// Serve answers posted messages with handler until ctx is done or the host closes.
func (r *Remote) Serve(ctx context.Context, handler Handler) {
	for {
		select {
		case data := <-r.inbox:
			for _, reply := range handler(protocol.Parse(data)) {
				r.Send(reply)
			}
		case <-r.host.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
