package session

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/framelink/internal/callbacks"
	"github.com/GriffinCanCode/framelink/internal/dispatch"
	"github.com/GriffinCanCode/framelink/internal/embed"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

// Resolver fetches the descriptor of a placeholder's display.
type Resolver interface {
	Resolve(ctx context.Context, p *embed.Placeholder) (*embed.Descriptor, error)
}

// Builder opens the channel a descriptor embeds and attaches it to p.
type Builder interface {
	Build(ctx context.Context, p *embed.Placeholder, desc *embed.Descriptor) (transport.Channel, error)
}

// Target is what a session can be opened on: a transport.Channel or an
// *embed.Placeholder.
type Target interface {
	ID() id.EndpointID
}

// Options configures a Manager. Bus is required; a nil Policy trusts the
// default display origins.
type Options struct {
	Bus      *transport.Bus
	Policy   *transport.OriginPolicy
	Resolver Resolver
	Builder  Builder
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
}

// Manager creates sessions and keeps the lookup table.
type Manager struct {
	bus      *transport.Bus
	policy   *transport.OriginPolicy
	resolver Resolver
	builder  Builder
	registry *callbacks.Registry
	router   *dispatch.Router
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu         sync.Mutex
	byEndpoint map[id.EndpointID]*Session
	byID       map[id.SessionID]*Session
}

// NewManager creates a manager.
func NewManager(opts Options) *Manager {
	if opts.Bus == nil {
		opts.Bus = transport.NewBus()
	}
	if opts.Policy == nil {
		opts.Policy = transport.DefaultOriginPolicy()
	}
	logger := opts.Logger.OrNop()
	registry := callbacks.NewRegistry()

	return &Manager{
		bus:        opts.Bus,
		policy:     opts.Policy,
		resolver:   opts.Resolver,
		builder:    opts.Builder,
		registry:   registry,
		router:     dispatch.NewRouter(registry, logger),
		logger:     logger.Named("session"),
		metrics:    opts.Metrics,
		byEndpoint: make(map[id.EndpointID]*Session),
		byID:       make(map[id.SessionID]*Session),
	}
}

// Bus returns the host bus sessions listen on.
func (m *Manager) Bus() *transport.Bus { return m.bus }

// Registry returns the shared callback registry.
func (m *Manager) Registry() *callbacks.Registry { return m.registry }

// Open returns the session for target, creating it on first use. Opening
// the same target again returns the same session.
func (m *Manager) Open(target Target) (*Session, error) {
	switch t := target.(type) {
	case *embed.Placeholder:
		if t == nil {
			break
		}
		if ch, ok := t.Channel(); ok {
			return m.openChannel(ch, t)
		}
		return m.openPlaceholder(t)
	case transport.Channel:
		if t == nil {
			break
		}
		return m.openChannel(t, nil)
	}
	return nil, protocol.Validation("open", "You must pass either a valid channel or a valid placeholder.")
}

func (m *Manager) openChannel(ch transport.Channel, p *embed.Placeholder) (*Session, error) {
	if !m.policy.Allow(ch.Origin()) {
		return nil, protocol.Validation("open", "“%s” isn't a display embed.", ch.Origin())
	}

	m.mu.Lock()
	if s, ok := m.cached(ch.ID(), p); ok {
		m.mu.Unlock()
		return s, nil
	}
	s := newSession(m, ch.ID(), "channel")
	s.endpoint = ch
	s.placeholder = p
	s.cancelListen = m.bus.Listen(s.onMessage)
	m.index(s, ch.ID())
	if p != nil {
		m.byEndpoint[p.ID()] = s
	}
	m.mu.Unlock()

	m.metrics.SessionOpened("channel")
	s.logger.Info("Session opened", zap.String("origin", ch.Origin()))

	if err := ch.Start(m.bus); err != nil {
		s.fail(&protocol.TransportError{Kind: protocol.Channel, Target: ch.Origin(), Err: err})
		return s, nil
	}
	go s.probe()
	return s, nil
}

func (m *Manager) openPlaceholder(p *embed.Placeholder) (*Session, error) {
	if m.resolver == nil || m.builder == nil {
		return nil, protocol.Validation("open", "Placeholders cannot be opened without a resolver and a builder.")
	}

	m.mu.Lock()
	if s, ok := m.cached(p.ID(), nil); ok {
		m.mu.Unlock()
		return s, nil
	}
	s := newSession(m, p.ID(), "placeholder")
	s.placeholder = p
	s.cancelListen = m.bus.Listen(s.onMessage)
	m.index(s, p.ID())
	m.mu.Unlock()

	m.metrics.SessionOpened("placeholder")
	s.logger.Info("Session opened on placeholder")

	go s.upgrade(p)
	return s, nil
}

// cached finds a live session by endpoint or placeholder identity. Callers hold mu.
func (m *Manager) cached(ep id.EndpointID, p *embed.Placeholder) (*Session, bool) {
	if s, ok := m.byEndpoint[ep]; ok {
		return s, true
	}
	if p != nil {
		if s, ok := m.byEndpoint[p.ID()]; ok {
			return s, true
		}
	}
	return nil, false
}

// index records s under ep and its session ID. Callers hold mu.
func (m *Manager) index(s *Session, ep id.EndpointID) {
	m.byEndpoint[ep] = s
	m.byID[s.id] = s
	m.metrics.SetSessionsActive(len(m.byID))
}

// adopt moves s from its placeholder identity to ch. It reports false when s
// was destroyed while the channel was being built.
func (m *Manager) adopt(s *Session, p *embed.Placeholder, ch transport.Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return false
	}
	m.registry.TransferAll(p.ID(), ch.ID())
	s.endpoint = ch
	s.endpointID = ch.ID()
	m.byEndpoint[ch.ID()] = s
	return true
}

// forget drops every index entry pointing at s.
func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ep, cur := range m.byEndpoint {
		if cur == s {
			delete(m.byEndpoint, ep)
		}
	}
	delete(m.byID, s.id)
	m.metrics.SetSessionsActive(len(m.byID))
}

// Lookup returns the live session with sessionID.
func (m *Manager) Lookup(sessionID id.SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok {
		return nil, &protocol.UnknownSessionError{ID: sessionID.String()}
	}
	return s, nil
}

// LookupEndpoint returns the live session indexed under ep.
func (m *Manager) LookupEndpoint(ep id.EndpointID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byEndpoint[ep]
	return s, ok
}

// List returns live sessions ordered by ID, which follows creation time.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Close destroys every session.
func (m *Manager) Close() {
	for _, s := range m.List() {
		s.Destroy()
	}
}
