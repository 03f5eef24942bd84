// Package wschan binds a transport.Channel to a websocket connection.
// Text frames carry one JSON envelope each.
package wschan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

// Options tunes a websocket channel.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Header           http.Header
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// Channel is a websocket-backed transport.Channel.
type Channel struct {
	id     id.EndpointID
	origin string
	conn   *websocket.Conn
	opts   Options
	logger *logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	sink    transport.Sink
	pending []transport.Message
	closed  bool
	done    chan struct{}

	// deliverMu keeps held messages ahead of live ones when Start flushes.
	deliverMu sync.Mutex
}

// Dial connects to a frame's websocket endpoint. The channel origin is derived
// from rawURL.
func Dial(ctx context.Context, rawURL string, opts Options, logger *logging.Logger) (*Channel, error) {
	origin, err := transport.OriginOf(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	return New(conn, origin, opts, logger), nil
}

// New wraps an established connection. Reading starts immediately; messages
// are held until Start.
func New(conn *websocket.Conn, origin string, opts Options, logger *logging.Logger) *Channel {
	c := &Channel{
		id:     id.NewEndpointID(),
		origin: origin,
		conn:   conn,
		opts:   opts,
		done:   make(chan struct{}),
	}
	c.logger = logger.OrNop().Named("transport.wschan").With(
		zap.String("endpoint", c.id.String()),
		zap.String("origin", origin),
	)
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	go c.readLoop()
	return c
}

func (c *Channel) ID() id.EndpointID { return c.id }
func (c *Channel) Origin() string    { return c.origin }

// Done is closed when the connection ends.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Start flushes held messages to sink and delivers later ones directly.
func (c *Channel) Start(sink transport.Sink) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.sink != nil {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.sink = sink
	held := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, msg := range held {
		sink.Deliver(msg)
	}
	return nil
}

// Post writes data as one text frame.
func (c *Channel) Post(ctx context.Context, data any, targetOrigin string) error {
	if err := transport.CheckTarget(targetOrigin, c.origin); err != nil {
		return err
	}

	payload, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return transport.ErrClosed
	}

	var deadline time.Time
	if c.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(c.opts.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a close frame and releases the connection.
func (c *Channel) Close() error {
	if !c.markClosed() {
		return nil
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *Channel) readLoop() {
	defer func() {
		if c.markClosed() {
			c.conn.Close()
		}
	}()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() || errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("Channel closed")
			} else {
				c.logger.Warn("Channel read failed", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame", zap.Int("type", kind))
			continue
		}
		c.deliver(data)
	}
}

func (c *Channel) deliver(data []byte) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	msg := transport.Message{Source: c.id, Origin: c.origin, Data: data}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	sink := c.sink
	if sink == nil {
		c.pending = append(c.pending, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sink.Deliver(msg)
}

// markClosed flips the closed flag once and reports whether this call did it.
func (c *Channel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.pending = nil
	close(c.done)
	return true
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func encode(data any) ([]byte, error) {
	switch v := data.(type) {
	case protocol.Envelope:
		return protocol.Marshal(v)
	case *protocol.Envelope:
		return protocol.Marshal(*v)
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return sonic.ConfigStd.Marshal(v)
	}
}
