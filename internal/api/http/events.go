package http

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

// EventFrame is one websocket message of an event stream.
type EventFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StreamEvents upgrades to a websocket and forwards the session's events
// until either side goes away. The listener is removed on exit.
func (h *Handlers) StreamEvents(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	event := c.Param("event")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("Event stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("session", s.ID().String()), zap.String("event", event))

	events := make(chan any, eventBuffer)
	l, err := s.On(event, func(data any) {
		select {
		case events <- data:
		default:
			log.Warn("Event stream is behind, dropping event")
		}
	})
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}
	defer func() {
		// Off fails only when the session is already gone.
		_ = s.Off(event, l)
	}()

	h.metrics.IncEventStreams()
	defer h.metrics.DecEventStreams()
	log.Debug("Event stream opened")

	// The reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-events:
			payload, err := sonic.Marshal(EventFrame{Event: event, Data: data})
			if err != nil {
				log.Warn("Event not encodable", zap.Error(err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug("Event stream write failed", zap.Error(err))
				return
			}
		case <-s.Done():
			closeWith(conn, websocket.CloseGoingAway, "session destroyed")
			return
		case <-gone:
			log.Debug("Event stream closed by client")
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second),
	)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
