package transport

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/framelink/internal/shared/id"
)

// AnyOrigin addresses a post to whatever origin the channel has.
const AnyOrigin = "*"

var (
	// ErrOriginMismatch is returned when a post is addressed to an origin the
	// channel does not have.
	ErrOriginMismatch = errors.New("target origin does not match channel origin")
	// ErrClosed is returned when posting on a closed channel.
	ErrClosed = errors.New("channel closed")
)

// Message is one inbound payload as received by the host.
type Message struct {
	Source id.EndpointID
	Origin string
	Data   any
}

// Sink receives inbound messages.
type Sink interface {
	Deliver(msg Message)
}

// Channel is a link to one remote frame.
type Channel interface {
	// ID is the endpoint identity messages from this channel carry as Source.
	ID() id.EndpointID
	// Origin is the remote frame's origin, e.g. "https://display.nfinite.app".
	Origin() string
	// Start begins delivering inbound messages to sink. Calling it again is a no-op.
	Start(sink Sink) error
	// Post sends data to the frame if targetOrigin is AnyOrigin or matches Origin.
	Post(ctx context.Context, data any, targetOrigin string) error
	// Close releases the channel.
	Close() error
}

// CheckTarget validates a post's target origin against the channel's origin.
func CheckTarget(targetOrigin, channelOrigin string) error {
	if targetOrigin == AnyOrigin || targetOrigin == channelOrigin {
		return nil
	}
	return ErrOriginMismatch
}
