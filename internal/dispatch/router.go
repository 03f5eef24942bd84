// Package dispatch routes parsed inbound envelopes to the pending calls and
// event listeners held in the callback registry.
//
// Routing order, first match wins:
//  1. an error event naming a method with a pending call rejects that call
//  2. any other event fans out to its listeners, which stay registered
//  3. a method reply resolves the oldest pending call for that method
//  4. anything else is dropped
//
// Replies are matched FIFO per method, so a remote frame must answer calls to
// the same method in the order they were sent.
package dispatch

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/framelink/internal/callbacks"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
)

// Outcome describes what Route did with an envelope.
type Outcome int

const (
	Dropped Outcome = iota
	Rejected
	FannedOut
	Resolved
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case FannedOut:
		return "fanned_out"
	case Resolved:
		return "resolved"
	default:
		return "dropped"
	}
}

// Router settles registry entries from inbound envelopes.
type Router struct {
	registry *callbacks.Registry
	logger   *logging.Logger
}

// NewRouter creates a router over registry.
func NewRouter(registry *callbacks.Registry, logger *logging.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger.OrNop().Named("dispatch"),
	}
}

// Route handles one envelope addressed to ep.
func (r *Router) Route(ep id.EndpointID, env protocol.Envelope) Outcome {
	if info, ok := env.ErrorInfo(); ok && info.Method != "" {
		if call, ok := r.takeCall(ep, info.Method); ok {
			call.Reject(&protocol.ProtocolError{
				Method:  info.Method,
				Name:    info.Name,
				Message: info.Message,
			})
			return Rejected
		}
	}

	if env.IsEvent() {
		r.fanOut(ep, env)
		return FannedOut
	}

	if env.Method != "" {
		call, ok := r.takeCall(ep, env.Method)
		if !ok {
			r.logger.Debug("Dropped unsolicited reply",
				zap.String("endpoint", ep.String()),
				zap.String("method", env.Method))
			return Dropped
		}
		call.Resolve(env.Value)
		return Resolved
	}

	return Dropped
}

// takeCall pops the head of a call queue. Listener keys are never popped.
func (r *Router) takeCall(ep id.EndpointID, method string) (*callbacks.Call, bool) {
	if strings.HasPrefix(method, protocol.EventKeyPrefix) {
		return nil, false
	}
	h, ok := r.registry.TakeFirst(ep, method)
	if !ok {
		return nil, false
	}
	call, ok := h.(*callbacks.Call)
	return call, ok
}

func (r *Router) fanOut(ep id.EndpointID, env protocol.Envelope) {
	for _, h := range r.registry.List(ep, callbacks.EventKey(env.Event)) {
		l, ok := h.(*callbacks.Listener)
		if !ok {
			continue
		}
		r.invoke(l, env.Data)
	}
}

func (r *Router) invoke(l *callbacks.Listener, data any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("Event listener panicked",
				zap.String("event", l.Event),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	l.Invoke(data)
}
