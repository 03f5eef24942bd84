package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/framelink/internal/callbacks"
	"github.com/GriffinCanCode/framelink/internal/embed"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/future"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

// State is a session's lifecycle position.
type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateFailed    State = "failed"
	StateDestroyed State = "destroyed"
)

// Info describes a session for listings.
type Info struct {
	ID        id.SessionID  `json:"id"`
	Endpoint  id.EndpointID `json:"endpoint"`
	Target    string        `json:"target"`
	Origin    string        `json:"origin"`
	State     State         `json:"state"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Session is a handle on one remote frame.
type Session struct {
	id        id.SessionID
	manager   *Manager
	target    string
	createdAt time.Time
	logger    *logging.Logger
	ready     *future.Future[struct{}]

	// ctx bounds background work and is cancelled by Destroy.
	ctx    context.Context
	cancel context.CancelFunc

	// sendMu makes registry order equal transmit order.
	sendMu sync.Mutex

	mu           sync.Mutex
	endpointID   id.EndpointID
	endpoint     transport.Channel
	placeholder  *embed.Placeholder
	origin       string
	cancelListen func()
	destroyed    bool

	// subs holds subscription changes in call order for one drain worker.
	subs     []subscription
	draining bool
}

type subscription struct {
	method string
	event  string
}

func newSession(m *Manager, ep id.EndpointID, target string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	sid := id.NewSessionID()
	return &Session{
		id:         sid,
		manager:    m,
		target:     target,
		createdAt:  time.Now(),
		logger:     m.logger.With(zap.String("session", sid.String())),
		ready:      future.New[struct{}](),
		ctx:        ctx,
		cancel:     cancel,
		endpointID: ep,
		origin:     transport.AnyOrigin,
	}
}

func (s *Session) ID() id.SessionID { return s.id }

// Endpoint returns the current endpoint identity.
func (s *Session) Endpoint() id.EndpointID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpointID
}

// Origin returns the pinned target origin, or "*" before the first
// accepted message.
func (s *Session) Origin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

// State returns the lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()

	switch {
	case destroyed:
		return StateDestroyed
	case !s.ready.Settled():
		return StatePending
	}
	if _, err := s.ready.Result(); err != nil {
		return StateFailed
	}
	return StateReady
}

// Done is closed once the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	info := Info{
		ID:        s.id,
		Endpoint:  s.Endpoint(),
		Target:    s.target,
		Origin:    s.Origin(),
		State:     s.State(),
		CreatedAt: s.createdAt,
	}
	if info.State == StateFailed {
		if _, err := s.ready.Result(); err != nil {
			info.Error = err.Error()
		}
	}
	return info
}

// Ready waits for the handshake. It fails with the handshake error, with
// ctx's error, or with UnknownSessionError once the session is destroyed.
func (s *Session) Ready(ctx context.Context) error {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return s.unknown()
	}

	select {
	case <-s.ready.Done():
		_, err := s.ready.Result()
		return err
	case <-s.ctx.Done():
		return s.unknown()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitReady waits for the handshake outcome or ctx. Destroy does not end
// the wait, so operations queued behind readiness are abandoned with it.
func (s *Session) awaitReady(ctx context.Context) error {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return s.unknown()
	}

	_, err := s.ready.Wait(ctx)
	return err
}

// Call invokes a remote method and waits for its reply. Passing no argument
// omits the value; passing nil sends an explicit null.
func (s *Session) Call(ctx context.Context, name string, arg ...any) (any, error) {
	if name == "" {
		return nil, protocol.Validation("call", "A method name is required.")
	}
	if strings.HasPrefix(name, protocol.EventKeyPrefix) {
		return nil, protocol.Validation("call", "“%s” is not a method name.", name)
	}
	if len(arg) > 1 {
		return nil, protocol.Validation("call", "“%s” takes at most one argument, got %d.", name, len(arg))
	}
	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(s.manager.metrics, name)
	call, err := s.send(ctx, name, arg...)
	if err != nil {
		timer.Stop(monitoring.CallOutcome(err, errorKind))
		return nil, err
	}

	// An abandoned call stays queued so later replies keep their alignment.
	select {
	case <-call.Done():
		v, err := call.Result()
		timer.Stop(monitoring.CallOutcome(err, errorKind))
		return v, err
	case <-ctx.Done():
		timer.Stop(monitoring.CallOutcome(ctx.Err(), errorKind))
		return nil, ctx.Err()
	}
}

// send registers a pending call and transmits it.
func (s *Session) send(ctx context.Context, name string, arg ...any) (*callbacks.Call, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, s.unknown()
	}
	ch, ep, origin := s.endpoint, s.endpointID, s.origin
	call := callbacks.NewCall(name)
	s.manager.registry.Store(ep, name, call)
	s.mu.Unlock()

	if err := s.post(ctx, ch, protocol.Encode(name, arg...), origin); err != nil {
		s.manager.registry.Remove(ep, name, call)
		return nil, err
	}
	return call, nil
}

func (s *Session) post(ctx context.Context, ch transport.Channel, env protocol.Envelope, origin string) error {
	if err := ch.Post(ctx, env, origin); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &protocol.TransportError{Kind: protocol.Channel, Target: ch.Origin(), Err: err}
	}
	return nil
}

// Get reads a property through its getter.
func (s *Session) Get(ctx context.Context, prop string) (any, error) {
	if prop == "" {
		return nil, protocol.Validation("get", "A property name is required.")
	}
	return s.Call(ctx, protocol.MethodName(prop, protocol.KindGet))
}

// Set writes a property through its setter. nil is rejected; send an
// explicit null as json.RawMessage("null").
func (s *Session) Set(ctx context.Context, prop string, value any) error {
	if prop == "" {
		return protocol.Validation("set", "A property name is required.")
	}
	if value == nil {
		return protocol.Validation("set", "There must be a value to set.")
	}
	_, err := s.Call(ctx, protocol.MethodName(prop, protocol.KindSet), value)
	return err
}

// On registers fn for event. The first listener for an event subscribes the
// frame to it. Listeners run on the channel's reader goroutine, so a listener
// must not wait on a Call of the same session; start a goroutine instead.
func (s *Session) On(event string, fn func(data any)) (*callbacks.Listener, error) {
	if event == "" {
		return nil, protocol.Validation("on", "You must pass an event name.")
	}
	if fn == nil {
		return nil, protocol.Validation("on", "The callback must be a function.")
	}

	l := callbacks.NewListener(event, fn)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, s.unknown()
	}
	if s.manager.registry.Store(s.endpointID, callbacks.EventKey(event), l) == 1 {
		s.notifyLocked(protocol.MethodAddEventListener, event)
	}
	s.mu.Unlock()
	return l, nil
}

// Off removes l, or every listener for event when l is nil. The frame is
// unsubscribed once no listener remains.
func (s *Session) Off(event string, l *callbacks.Listener) error {
	if event == "" {
		return protocol.Validation("off", "You must pass an event name.")
	}

	var h callbacks.Handler
	if l != nil {
		h = l
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return s.unknown()
	}
	if s.manager.registry.Remove(s.endpointID, callbacks.EventKey(event), h) {
		s.notifyLocked(protocol.MethodRemoveEventListener, event)
	}
	s.mu.Unlock()
	return nil
}

// notifyLocked queues a subscription change. Changes are posted in queue
// order once the frame is ready; failures are logged and dropped. Callers
// hold s.mu.
func (s *Session) notifyLocked(method, event string) {
	s.subs = append(s.subs, subscription{method: method, event: event})
	if s.draining {
		return
	}
	s.draining = true
	go s.drainSubscriptions()
}

func (s *Session) drainSubscriptions() {
	if err := s.awaitReady(s.ctx); err != nil {
		s.mu.Lock()
		s.subs = nil
		s.draining = false
		s.mu.Unlock()
		return
	}

	for {
		s.mu.Lock()
		if s.destroyed || len(s.subs) == 0 {
			s.subs = nil
			s.draining = false
			s.mu.Unlock()
			return
		}
		sub := s.subs[0]
		s.subs = s.subs[1:]
		s.mu.Unlock()

		s.postSubscription(sub)
	}
}

func (s *Session) postSubscription(sub subscription) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	ch, origin := s.endpoint, s.origin
	s.mu.Unlock()

	if err := s.post(s.ctx, ch, protocol.Encode(sub.method, sub.event), origin); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Subscription update failed",
			zap.String("method", sub.method),
			zap.String("event", sub.event),
			zap.Error(err))
	}
}

// Destroy detaches the session from its frame. Pending calls are abandoned,
// not rejected. Calling it again does nothing.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	cancelListen, ch, p, ep := s.cancelListen, s.endpoint, s.placeholder, s.endpointID
	s.mu.Unlock()

	if cancelListen != nil {
		cancelListen()
	}
	s.cancel()
	s.manager.forget(s)

	s.manager.registry.Clear(ep)
	if p != nil {
		s.manager.registry.Clear(p.ID())
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			s.logger.Debug("Channel close failed", zap.Error(err))
		}
	}
	if p != nil {
		p.Reset()
	}

	s.logger.Info("Session destroyed")
}

// onMessage handles one message from the host bus.
func (s *Session) onMessage(msg transport.Message) {
	s.mu.Lock()
	if s.destroyed || msg.Source != s.endpointID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.manager.policy.Allow(msg.Origin) {
		s.logger.Debug("Ignored message from untrusted origin", zap.String("origin", msg.Origin))
		return
	}

	s.mu.Lock()
	if s.origin == transport.AnyOrigin {
		s.origin = msg.Origin
	}
	ep := s.endpointID
	s.mu.Unlock()

	env := protocol.Parse(msg.Data)

	if info, ok := env.ErrorInfo(); ok && info.Method == protocol.EventReady {
		s.fail(&protocol.ProtocolError{Method: info.Method, Name: info.Name, Message: info.Message})
		return
	}
	if env.Event == protocol.EventReady || (env.Method == protocol.MethodPing && !env.IsEvent()) {
		s.markReady()
		return
	}

	outcome := s.manager.router.Route(ep, env)
	s.manager.metrics.RecordInbound(outcome.String())
}

func (s *Session) markReady() {
	if s.ready.Resolve(struct{}{}) {
		s.manager.metrics.RecordReadiness("ready")
		s.logger.Info("Session ready", zap.String("origin", s.Origin()))
	}
}

func (s *Session) fail(err error) {
	if s.ready.Reject(err) {
		s.manager.metrics.RecordReadiness("failed")
		s.logger.Warn("Session readiness failed", zap.Error(err))
	}
}

// probe sends the ping that a frame already past its own ready
// announcement answers.
func (s *Session) probe() {
	s.mu.Lock()
	ch, origin := s.endpoint, s.origin
	s.mu.Unlock()

	if err := s.post(s.ctx, ch, protocol.Encode(protocol.MethodPing), origin); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.fail(err)
	}
}

// upgrade resolves a placeholder into a live channel and adopts it.
func (s *Session) upgrade(p *embed.Placeholder) {
	m := s.manager

	desc, err := m.resolver.Resolve(s.ctx, p)
	if err != nil {
		s.fail(err)
		return
	}
	ch, err := m.builder.Build(s.ctx, p, desc)
	if err != nil {
		s.fail(err)
		return
	}

	if !m.adopt(s, p, ch) {
		_ = ch.Close()
		p.Reset()
		return
	}
	s.logger.Info("Placeholder upgraded",
		zap.String("placeholder", p.ID().String()),
		zap.String("endpoint", ch.ID().String()),
		zap.String("origin", ch.Origin()))

	if err := ch.Start(m.bus); err != nil {
		s.fail(&protocol.TransportError{Kind: protocol.Channel, Target: ch.Origin(), Err: err})
		return
	}
	s.probe()
}

func (s *Session) unknown() error {
	return &protocol.UnknownSessionError{ID: s.id.String()}
}

// errorKind labels a failed call for metrics.
func errorKind(err error) string {
	var (
		perr *protocol.ProtocolError
		terr *protocol.TransportError
		uerr *protocol.UnknownSessionError
	)
	switch {
	case errors.As(err, &perr):
		return "protocol"
	case errors.As(err, &terr):
		return "transport"
	case errors.As(err, &uerr):
		return "unknown_session"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
