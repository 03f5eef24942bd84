package protocol

import (
	"errors"
	"fmt"
)

// Prefix starts every framelink error message.
const Prefix = "[framelink]"

var (
	// ErrNotFound matches TransportErrors for targets the resolver could not find.
	ErrNotFound = errors.New("display not found")
	// ErrNotEmbeddable matches TransportErrors for targets that refuse embedding.
	ErrNotEmbeddable = errors.New("display not embeddable")
)

// ValidationError reports an invalid argument. It is returned before any
// message is sent.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", Prefix, e.Message)
}

// Name mirrors the error name a display would report for the same fault.
func (e *ValidationError) Name() string { return "TypeError" }

// Validation builds a ValidationError for op.
func Validation(op, format string, args ...any) error {
	return &ValidationError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// ProtocolError is a failure reported by the remote frame, either for a call
// or for the handshake.
type ProtocolError struct {
	Method  string
	Name    string
	Message string
}

func (e *ProtocolError) Error() string {
	name := e.Name
	if name == "" {
		name = "Error"
	}
	return fmt.Sprintf("%s %s: %s", Prefix, name, e.Message)
}

// TransportKind classifies descriptor and channel failures.
type TransportKind int

const (
	NotFound TransportKind = iota
	NotEmbeddable
	Network
	Channel
)

func (k TransportKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case NotEmbeddable:
		return "not_embeddable"
	case Network:
		return "network"
	case Channel:
		return "channel"
	default:
		return "unknown"
	}
}

// TransportError reports a failure to resolve a display or open its channel.
type TransportError struct {
	Kind   TransportKind
	Target string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case NotFound:
		return fmt.Sprintf("%s %q was not found.", Prefix, e.Target)
	case NotEmbeddable:
		return fmt.Sprintf("%s %q is not embeddable.", Prefix, e.Target)
	case Channel:
		return fmt.Sprintf("%s could not open a channel to %q: %v", Prefix, e.Target, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s there was an error fetching the embed code for %q (status %d)", Prefix, e.Target, e.Status)
	}
	return fmt.Sprintf("%s there was an error fetching the embed code for %q: %v", Prefix, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == NotFound
	case ErrNotEmbeddable:
		return e.Kind == NotEmbeddable
	}
	return false
}

// UnknownSessionError is returned for operations on a destroyed or unknown session.
type UnknownSessionError struct {
	ID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("%s Unknown display. Probably unloaded.", Prefix)
}
