package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framelink/internal/embed"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/session"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

// FrameFactory starts a fresh in-process display frame.
type FrameFactory func() (transport.Channel, error)

// Options configures Handlers.
type Options struct {
	Sessions *session.Manager
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
	Tracer   *tracing.Tracer

	// Sandbox opens sandbox sessions; nil disables them.
	Sandbox FrameFactory
	// Defaults are merged under the params of every embed session.
	Defaults embed.Params

	CallTimeout  time.Duration
	ReadyTimeout time.Duration
	// WSOrigins lists browser origins allowed to open event streams; "*" allows any.
	WSOrigins []string
}

// Handlers serves the session control API.
type Handlers struct {
	sessions     *session.Manager
	metrics      *monitoring.Metrics
	gatherer     prometheus.Gatherer
	logger       *logging.Logger
	tracer       *tracing.Tracer
	sandbox      FrameFactory
	defaults     embed.Params
	callTimeout  time.Duration
	readyTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewHandlers creates the handler set.
func NewHandlers(opts Options) *Handlers {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 15 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		sessions:     opts.Sessions,
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		logger:       opts.Logger.OrNop().Named("api"),
		tracer:       opts.Tracer,
		sandbox:      opts.Sandbox,
		defaults:     opts.Defaults,
		callTimeout:  opts.CallTimeout,
		readyTimeout: opts.ReadyTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(opts.WSOrigins),
		},
	}
}

// Health reports liveness and headline counters.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Len(),
		"metrics":  h.metrics.Snapshot(),
	})
}

type openRequest struct {
	URL     string            `json:"url"`
	ID      string            `json:"id"`
	Params  map[string]string `json:"params"`
	Sandbox bool              `json:"sandbox"`
	Wait    bool              `json:"wait"`
}

// OpenSession opens a session on a hosted display or a sandbox frame.
func (h *Handlers) OpenSession(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	target, err := h.target(req)
	if err != nil {
		h.fail(c, err)
		return
	}

	s, err := h.sessions.Open(target)
	if err != nil {
		if ch, ok := target.(transport.Channel); ok {
			ch.Close()
		}
		h.fail(c, err)
		return
	}

	if req.Wait {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
		defer cancel()
		if err := s.Ready(ctx); err != nil {
			h.fail(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": s.Info(),
	})
}

func (h *Handlers) target(req openRequest) (session.Target, error) {
	if req.Sandbox {
		if h.sandbox == nil {
			return nil, protocol.Validation("open", "Sandbox sessions are disabled.")
		}
		ch, err := h.sandbox()
		if err != nil {
			return nil, &protocol.TransportError{Kind: protocol.Channel, Target: "sandbox", Err: err}
		}
		return ch, nil
	}

	params := make(embed.Params, len(h.defaults)+len(req.Params)+2)
	for k, v := range h.defaults {
		params[k] = v
	}
	for k, v := range req.Params {
		params[k] = v
	}
	if req.ID != "" {
		params["id"] = req.ID
	}
	if req.URL != "" {
		params["url"] = req.URL
	}
	if params.ID() == "" && params.URL() == "" {
		return nil, protocol.Validation("open", "An id or url must be passed in the request.")
	}
	return embed.NewPlaceholder(params), nil
}

// ListSessions lists live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": infos,
		"count":    len(infos),
	})
}

// GetSession describes one session.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.Info()})
}

// AwaitReady blocks until the session's handshake settles.
func (h *Handlers) AwaitReady(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
	defer cancel()
	if err := s.Ready(ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.Info()})
}

// Call invokes a remote method. A request without a "value" key sends no
// value; "value": null sends an explicit null.
func (h *Handlers) Call(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	var method string
	if raw, ok := body["method"]; !ok || sonic.Unmarshal(raw, &method) != nil || method == "" {
		badRequest(c, "Invalid request: method is required")
		return
	}

	var args []any
	if raw, ok := body["value"]; ok {
		value, err := decodeValue(raw)
		if err != nil {
			badRequest(c, "Invalid request: "+err.Error())
			return
		}
		args = append(args, value)
	}

	ctx, done := h.callContext(c, s, "session.call", method)
	value, err := s.Call(ctx, method, args...)
	done(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "value": value})
}

// GetProperty reads a property through its getter.
func (h *Handlers) GetProperty(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx, done := h.callContext(c, s, "session.get", c.Param("name"))
	value, err := s.Get(ctx, c.Param("name"))
	done(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "value": value})
}

// SetProperty writes a property through its setter.
func (h *Handlers) SetProperty(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	raw, present := body["value"]
	if !present {
		badRequest(c, "There must be a value to set.")
		return
	}
	value, err := decodeValue(raw)
	if err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	if value == nil {
		value = session.Null
	}

	ctx, done := h.callContext(c, s, "session.set", c.Param("name"))
	err = s.Set(ctx, c.Param("name"), value)
	done(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DestroySession destroys a session and closes its frame.
func (h *Handlers) DestroySession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	s.Destroy()
	c.Status(http.StatusNoContent)
}

func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Lookup(id.SessionID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

// callContext bounds one remote operation by the call timeout and traces it.
// done must be called with the operation's error.
func (h *Handlers) callContext(c *gin.Context, s *session.Session, op, name string) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.callTimeout)
	if h.tracer == nil {
		return ctx, func(error) { cancel() }
	}

	span, ctx := h.tracer.StartSpan(ctx, op)
	span.SetTag("session", s.ID().String())
	span.SetTag("name", name)
	return ctx, func(err error) {
		if err != nil {
			span.SetError(err)
		}
		h.tracer.End(span)
		cancel()
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	var v any
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}

func (h *Handlers) logFailure(c *gin.Context, status int, err error) {
	if status < http.StatusInternalServerError {
		return
	}
	h.logger.Warn("Session operation failed",
		zap.String("path", c.FullPath()),
		zap.String("session", c.Param("id")),
		zap.Int("status", status),
		zap.Error(err),
	)
}
