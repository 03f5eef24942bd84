package session

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/framelink/internal/callbacks"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/testutil"
	"github.com/GriffinCanCode/framelink/internal/transport"
	"github.com/GriffinCanCode/framelink/internal/transport/memory"
)

const quiet = 50 * time.Millisecond

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Options{Bus: transport.NewBus()})
	t.Cleanup(m.Close)
	return m
}

// open starts a session on a memory pair and consumes the ping probe.
func open(t *testing.T, m *Manager) (*Session, *memory.Host, *memory.Remote) {
	t.Helper()
	host, remote := memory.Pair(testutil.DisplayOrigin)
	s, err := m.Open(host)
	require.NoError(t, err)

	probe := testutil.NextMessage(t, remote)
	require.Equal(t, protocol.MethodPing, probe.Method)
	require.False(t, probe.HasValue)
	return s, host, remote
}

func openReady(t *testing.T, m *Manager) (*Session, *memory.Host, *memory.Remote) {
	t.Helper()
	s, host, remote := open(t, m)
	remote.Emit(protocol.EventReady, nil)
	require.NoError(t, s.Ready(testContext(t)))
	return s, host, remote
}

type callResult struct {
	value any
	err   error
}

func callAsync(ctx context.Context, s *Session, name string, arg ...any) <-chan callResult {
	out := make(chan callResult, 1)
	go func() {
		v, err := s.Call(ctx, name, arg...)
		out <- callResult{v, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("call did not settle")
		return callResult{}
	}
}

func TestReadyOnReadyEvent(t *testing.T) {
	m := newManager(t)
	s, _, remote := open(t, m)

	assert.Equal(t, StatePending, s.State())
	assert.Equal(t, transport.AnyOrigin, s.Origin())

	remote.Emit(protocol.EventReady, nil)

	require.NoError(t, s.Ready(testContext(t)))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, testutil.DisplayOrigin, s.Origin())
}

func TestReadyOnPingReply(t *testing.T) {
	m := newManager(t)
	s, _, remote := open(t, m)

	remote.Send(map[string]any{"method": protocol.MethodPing})

	require.NoError(t, s.Ready(testContext(t)))

	// A late ping reply is consumed, not dispatched.
	remote.Send(map[string]any{"method": protocol.MethodPing})
	assert.Equal(t, StateReady, s.State())
}

func TestReadyIsReawaitable(t *testing.T) {
	m := newManager(t)
	s, _, _ := openReady(t, m)

	for i := 0; i < 3; i++ {
		assert.NoError(t, s.Ready(testContext(t)))
	}
}

func TestReadyFailure(t *testing.T) {
	m := newManager(t)
	s, _, remote := open(t, m)

	remote.Fail(protocol.EventReady, "TypeError", "The display is not available.")

	err := s.Ready(testContext(t))
	var perr *protocol.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "TypeError", perr.Name)
	assert.Equal(t, "The display is not available.", perr.Message)
	assert.Equal(t, StateFailed, s.State())
	assert.Contains(t, s.Info().Error, "The display is not available.")

	// Later signals cannot change the outcome.
	remote.Emit(protocol.EventReady, nil)
	assert.Equal(t, StateFailed, s.State())

	_, err = s.Call(testContext(t), "getColor")
	assert.True(t, errors.As(err, &perr))
	testutil.AssertNoMessage(t, remote, quiet)
}

func TestReadyHonoursContext(t *testing.T) {
	m := newManager(t)
	s, _, _ := open(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, s.Ready(ctx), context.DeadlineExceeded)
}

func TestCallBeforeReady(t *testing.T) {
	m := newManager(t)
	s, _, remote := open(t, m)

	result := callAsync(testContext(t), s, "getColor")
	testutil.AssertNoMessage(t, remote, quiet)

	remote.Emit(protocol.EventReady, nil)

	call := testutil.NextMessage(t, remote)
	assert.Equal(t, "getColor", call.Method)
	assert.False(t, call.HasValue)

	remote.Reply("getColor", "#00adef")

	r := await(t, result)
	require.NoError(t, r.err)
	assert.Equal(t, "#00adef", r.value)
}

func TestCallRepliesSettleInOrder(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)
	ctx := testContext(t)

	first := callAsync(ctx, s, "nextScene", map[string]any{"cursor": 1})
	assert.Equal(t, "nextScene", testutil.NextMessage(t, remote).Method)
	second := callAsync(ctx, s, "nextScene", map[string]any{"cursor": 2})
	assert.Equal(t, "nextScene", testutil.NextMessage(t, remote).Method)

	remote.Reply("nextScene", "kitchen")
	remote.Reply("nextScene", "bedroom")

	assert.Equal(t, "kitchen", await(t, first).value)
	assert.Equal(t, "bedroom", await(t, second).value)
}

func TestAbandonedCallKeepsAlignment(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Call(short, "getScene")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	testutil.NextMessage(t, remote)

	later := callAsync(testContext(t), s, "getScene")
	testutil.NextMessage(t, remote)

	remote.Reply("getScene", "stale")
	remote.Reply("getScene", "fresh")

	r := await(t, later)
	require.NoError(t, r.err)
	assert.Equal(t, "fresh", r.value)
}

func TestCallArguments(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)
	ctx := testContext(t)
	go remote.Serve(ctx, testutil.Responder(nil))

	_, err := s.Call(ctx, "play")
	require.NoError(t, err)

	_, err = s.Call(ctx, "seek", nil)
	require.NoError(t, err)

	var verr *protocol.ValidationError
	_, err = s.Call(ctx, "seek", 1, 2)
	assert.True(t, errors.As(err, &verr))

	_, err = s.Call(ctx, "")
	assert.True(t, errors.As(err, &verr))
}

func TestCallTransmitsValue(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	omitted := callAsync(testContext(t), s, "play")
	env := testutil.NextMessage(t, remote)
	assert.False(t, env.HasValue)
	remote.Reply("play", nil)
	require.NoError(t, await(t, omitted).err)

	null := callAsync(testContext(t), s, "seek", nil)
	env = testutil.NextMessage(t, remote)
	assert.True(t, env.HasValue)
	assert.Nil(t, env.Value)
	remote.Reply("seek", nil)
	require.NoError(t, await(t, null).err)
}

func TestGetAndSet(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)
	ctx := testContext(t)

	value := make(chan callResult, 1)
	go func() {
		v, err := s.Get(ctx, "color")
		value <- callResult{v, err}
	}()
	env := testutil.NextMessage(t, remote)
	assert.Equal(t, "getColor", env.Method)
	remote.Reply("getColor", "#ff0000")
	assert.Equal(t, "#ff0000", await(t, value).value)

	done := make(chan error, 1)
	go func() { done <- s.SetLanguage(ctx, "fr") }()
	env = testutil.NextMessage(t, remote)
	assert.Equal(t, "setLanguage", env.Method)
	assert.Equal(t, "fr", env.Value)
	remote.Reply("setLanguage", "fr")
	require.NoError(t, <-done)

	go func() { done <- s.SetFilter(ctx, Null) }()
	env = testutil.NextMessage(t, remote)
	assert.Equal(t, "setFilter", env.Method)
	assert.Equal(t, json.RawMessage("null"), env.Value)
	remote.Reply("setFilter", nil)
	require.NoError(t, <-done)
}

func TestSetRejectsNil(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	err := s.Set(testContext(t), "color", nil)

	var verr *protocol.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "TypeError", verr.Name())
	testutil.AssertNoMessage(t, remote, quiet)
}

func TestErrorRejectsPendingCall(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	var errorEvents int
	_, err := s.On(protocol.EventError, func(any) { errorEvents++ })
	require.NoError(t, err)
	testutil.NextMessage(t, remote) // addEventListener

	result := callAsync(testContext(t), s, "setColor", "nope")
	testutil.NextMessage(t, remote)

	remote.Fail("setColor", "TypeError", "The color should be 3- or 6-digit hex value.")

	r := await(t, result)
	var perr *protocol.ProtocolError
	require.True(t, errors.As(r.err, &perr))
	assert.Equal(t, "setColor", perr.Method)
	assert.Equal(t, "TypeError", perr.Name)
	assert.Contains(t, r.err.Error(), protocol.Prefix)
	assert.Zero(t, errorEvents)

	// Without a pending call the error reaches listeners.
	remote.Fail("setColor", "TypeError", "again")
	assert.Equal(t, 1, errorEvents)
}

func TestEventSubscription(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	var (
		mu       sync.Mutex
		received []any
	)
	record := func(data any) {
		mu.Lock()
		received = append(received, data)
		mu.Unlock()
	}

	first, err := s.On("colorchange", record)
	require.NoError(t, err)
	env := testutil.NextMessage(t, remote)
	assert.Equal(t, protocol.MethodAddEventListener, env.Method)
	assert.Equal(t, "colorchange", env.Value)

	second, err := s.On("colorchange", record)
	require.NoError(t, err)
	testutil.AssertNoMessage(t, remote, quiet)

	remote.Emit("colorchange", map[string]any{"color": "#00ff00"})

	mu.Lock()
	assert.Len(t, received, 2)
	mu.Unlock()

	require.NoError(t, s.Off("colorchange", first))
	testutil.AssertNoMessage(t, remote, quiet)

	require.NoError(t, s.Off("colorchange", second))
	env = testutil.NextMessage(t, remote)
	assert.Equal(t, protocol.MethodRemoveEventListener, env.Method)
	assert.Equal(t, "colorchange", env.Value)

	remote.Emit("colorchange", map[string]any{"color": "#0000ff"})
	mu.Lock()
	assert.Len(t, received, 2)
	mu.Unlock()
}

func TestOffWithoutListenersUnsubscribes(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	require.NoError(t, s.Off("scenechange", nil))

	env := testutil.NextMessage(t, remote)
	assert.Equal(t, protocol.MethodRemoveEventListener, env.Method)
}

func TestOffNilRemovesAll(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	calls := 0
	for i := 0; i < 3; i++ {
		_, err := s.On("scenechange", func(any) { calls++ })
		require.NoError(t, err)
	}
	testutil.NextMessage(t, remote)

	require.NoError(t, s.Off("scenechange", nil))
	testutil.NextMessage(t, remote)

	remote.Emit("scenechange", nil)
	assert.Zero(t, calls)
}

func TestOnValidation(t *testing.T) {
	m := newManager(t)
	s, _, _ := openReady(t, m)

	var verr *protocol.ValidationError
	_, err := s.On("", func(any) {})
	assert.True(t, errors.As(err, &verr))
	_, err = s.On("colorchange", nil)
	assert.True(t, errors.As(err, &verr))
	assert.True(t, errors.As(s.Off("", nil), &verr))
}

func TestListenerPanicIsContained(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	reached := false
	_, err := s.On("scenechange", func(any) { panic("listener bug") })
	require.NoError(t, err)
	_, err = s.On("scenechange", func(any) { reached = true })
	require.NoError(t, err)

	assert.NotPanics(t, func() { remote.Emit("scenechange", nil) })
	assert.True(t, reached)
}

func TestUnsolicitedReplyIsDropped(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	remote.Reply("getColor", "#123456")

	result := callAsync(testContext(t), s, "getColor")
	testutil.NextMessage(t, remote)
	remote.Reply("getColor", "#654321")

	assert.Equal(t, "#654321", await(t, result).value)
}

func TestMessageFiltering(t *testing.T) {
	m := newManager(t)
	s, host, _ := open(t, m)

	m.Bus().Deliver(transport.Message{Source: id.NewEndpointID(), Origin: testutil.DisplayOrigin, Data: `{"event":"ready"}`})
	assert.Equal(t, StatePending, s.State())

	m.Bus().Deliver(transport.Message{Source: host.ID(), Origin: "https://evil.example.com", Data: `{"event":"ready"}`})
	assert.Equal(t, StatePending, s.State())
	assert.Equal(t, transport.AnyOrigin, s.Origin())

	m.Bus().Deliver(transport.Message{Source: host.ID(), Origin: "https://display.hubstairs.io", Data: `{"event":"ready"}`})
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "https://display.hubstairs.io", s.Origin())
}

func TestPinnedOriginAddressesPosts(t *testing.T) {
	m := newManager(t)
	s, host, _ := open(t, m)

	// The first accepted message pins an origin the channel does not have,
	// so the channel refuses every later post.
	m.Bus().Deliver(transport.Message{Source: host.ID(), Origin: "https://display.hubstairs.io", Data: `{"event":"ready"}`})
	require.NoError(t, s.Ready(testContext(t)))

	_, err := s.Call(testContext(t), "getColor")

	var terr *protocol.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, protocol.Channel, terr.Kind)
	assert.ErrorIs(t, err, transport.ErrOriginMismatch)
	assert.Zero(t, m.Registry().Len(host.ID(), "getColor"))
}

func TestOpenIsCached(t *testing.T) {
	m := newManager(t)
	s, host, _ := open(t, m)

	again, err := m.Open(host)
	require.NoError(t, err)
	assert.Same(t, s, again)

	found, err := m.Lookup(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, found)

	byEndpoint, ok := m.LookupEndpoint(host.ID())
	require.True(t, ok)
	assert.Same(t, s, byEndpoint)
	assert.Equal(t, []*Session{s}, m.List())
}

func TestOpenRejectsUntrustedChannel(t *testing.T) {
	m := newManager(t)
	host, _ := memory.Pair("https://evil.example.com")

	_, err := m.Open(host)

	var verr *protocol.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, err.Error(), "isn't a display embed")
	assert.Zero(t, m.Len())
}

func TestOpenRejectsUnknownTarget(t *testing.T) {
	m := newManager(t)

	_, err := m.Open(nil)

	var verr *protocol.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLookupUnknown(t *testing.T) {
	m := newManager(t)

	_, err := m.Lookup(id.NewSessionID())

	var uerr *protocol.UnknownSessionError
	require.True(t, errors.As(err, &uerr))
	assert.Contains(t, err.Error(), "Unknown display. Probably unloaded.")
}

func TestDestroyAbandonsOutstandingCalls(t *testing.T) {
	m := newManager(t)

	// Two calls on the wire: one issued before readiness, one after.
	s, _, remote := open(t, m)
	early := callAsync(context.Background(), s, "getColor")
	testutil.AssertNoMessage(t, remote, quiet)
	remote.Emit(protocol.EventReady, nil)
	require.Equal(t, "getColor", testutil.NextMessage(t, remote).Method)

	later := callAsync(context.Background(), s, "getProducts")
	require.Equal(t, "getProducts", testutil.NextMessage(t, remote).Method)

	// A call still waiting for a handshake that never comes.
	waiting, _, waitingRemote := open(t, m)
	blocked := callAsync(context.Background(), waiting, "getColor")
	testutil.AssertNoMessage(t, waitingRemote, quiet)

	s.Destroy()
	waiting.Destroy()

	for name, ch := range map[string]<-chan callResult{"early": early, "later": later, "blocked": blocked} {
		select {
		case r := <-ch:
			t.Fatalf("%s call settled after Destroy: value=%v err=%v", name, r.value, r.err)
		case <-time.After(quiet):
		}
	}
	testutil.AssertNoMessage(t, waitingRemote, quiet)
}

func TestCallBeforeReadyFailure(t *testing.T) {
	m := newManager(t)
	s, _, remote := open(t, m)

	result := callAsync(testContext(t), s, "getColor")
	testutil.AssertNoMessage(t, remote, quiet)

	remote.Fail(protocol.EventReady, "TypeError", "The display is not available.")

	r := await(t, result)
	var perr *protocol.ProtocolError
	require.True(t, errors.As(r.err, &perr))
	assert.Equal(t, protocol.EventReady, perr.Method)
	assert.Equal(t, "The display is not available.", perr.Message)
	testutil.AssertNoMessage(t, remote, quiet)
}

func TestSubscriptionChangesKeepCallOrder(t *testing.T) {
	m := newManager(t)

	for i := 0; i < 50; i++ {
		s, _, remote := open(t, m)

		l, err := s.On("play", func(any) {})
		require.NoError(t, err)
		require.NoError(t, s.Off("play", l))
		_, err = s.On("pause", func(any) {})
		require.NoError(t, err)

		remote.Emit(protocol.EventReady, nil)

		var got []string
		for j := 0; j < 3; j++ {
			env := testutil.NextMessage(t, remote)
			got = append(got, env.Method+":"+env.Value.(string))
		}
		require.Equal(t, []string{
			protocol.MethodAddEventListener + ":play",
			protocol.MethodRemoveEventListener + ":play",
			protocol.MethodAddEventListener + ":pause",
		}, got)

		s.Destroy()
	}
}

func TestCallRejectsListenerKeys(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	_, err := s.Call(testContext(t), callbacks.EventKey("play"))
	var verr *protocol.ValidationError
	assert.True(t, errors.As(err, &verr))
	testutil.AssertNoMessage(t, remote, quiet)
}

func TestInboundNoiseKeepsListeners(t *testing.T) {
	m := newManager(t)
	s, _, remote := openReady(t, m)

	var (
		mu   sync.Mutex
		hits int
	)
	_, err := s.On("play", func(any) {
		mu.Lock()
		hits++
		mu.Unlock()
	})
	require.NoError(t, err)
	testutil.NextMessage(t, remote)

	remote.Send(map[string]any{"method": callbacks.EventKey("play")})
	remote.Fail(callbacks.EventKey("play"), "TypeError", "nope")
	remote.Emit("play", nil)

	assert.Equal(t, 1, m.Registry().Len(s.Endpoint(), callbacks.EventKey("play")))
	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestDestroy(t *testing.T) {
	m := newManager(t)
	s, host, remote := openReady(t, m)
	ctx := testContext(t)

	_, err := s.On("colorchange", func(any) {})
	require.NoError(t, err)
	testutil.NextMessage(t, remote)

	window, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pending := callAsync(window, s, "getColor")
	testutil.NextMessage(t, remote)

	s.Destroy()
	s.Destroy()

	// The pending call is abandoned, so only its own deadline ends the wait.
	r := await(t, pending)
	assert.ErrorIs(t, r.err, context.DeadlineExceeded)

	assert.True(t, host.Closed())
	assert.Equal(t, StateDestroyed, s.State())
	assert.Zero(t, m.Bus().Len())
	assert.Empty(t, m.Registry().Keys(host.ID()))
	assert.Zero(t, m.Len())

	var uerr *protocol.UnknownSessionError
	assert.True(t, errors.As(s.Ready(ctx), &uerr))
	_, err = s.Call(ctx, "getColor")
	assert.True(t, errors.As(err, &uerr))
	_, err = s.On("colorchange", func(any) {})
	assert.True(t, errors.As(err, &uerr))
	_, err = m.Lookup(s.ID())
	assert.True(t, errors.As(err, &uerr))

	// A new session can be opened on a fresh channel afterwards.
	fresh, _, _ := open(t, m)
	assert.NotEqual(t, s.ID(), fresh.ID())
}

func TestDestroyReleasesReadyWaiters(t *testing.T) {
	m := newManager(t)
	s, _, _ := open(t, m)

	errs := make(chan error, 1)
	go func() { errs <- s.Ready(context.Background()) }()

	time.Sleep(quiet)
	s.Destroy()

	select {
	case err := <-errs:
		var uerr *protocol.UnknownSessionError
		assert.True(t, errors.As(err, &uerr))
	case <-time.After(2 * time.Second):
		t.Fatal("ready waiter not released")
	}
}

func TestManagerClose(t *testing.T) {
	baseline := runtime.NumGoroutine()

	m := NewManager(Options{Bus: transport.NewBus()})
	for i := 0; i < 3; i++ {
		s, _, remote := openReady(t, m)
		_, err := s.On("colorchange", func(any) {})
		require.NoError(t, err)
		testutil.NextMessage(t, remote)
	}
	require.Equal(t, 3, m.Len())

	m.Close()

	assert.Zero(t, m.Len())
	assert.Zero(t, m.Bus().Len())
	testutil.AssertNoGoroutineLeaks(t, baseline, 2)
}

func TestMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	m := NewManager(Options{Bus: transport.NewBus(), Metrics: metrics})
	defer m.Close()

	s, _, remote := openReady(t, m)
	go remote.Serve(testContext(t), testutil.Responder(map[string]any{"getColor": "#fff"}))

	_, err := s.Get(testContext(t), "color")
	require.NoError(t, err)

	assert.Equal(t, 1.0, prom.ToFloat64(metrics.SessionsActive))
	assert.Equal(t, 1.0, prom.ToFloat64(metrics.Readiness.WithLabelValues("ready")))
	assert.Equal(t, 1.0, prom.ToFloat64(metrics.Calls.WithLabelValues("getColor", "ok")))
	assert.Equal(t, 1.0, prom.ToFloat64(metrics.Inbound.WithLabelValues("resolved")))
}

func TestListenerRegistryKey(t *testing.T) {
	m := newManager(t)
	s, host, remote := openReady(t, m)

	l, err := s.On("colorchange", func(any) {})
	require.NoError(t, err)
	testutil.NextMessage(t, remote)

	handlers := m.Registry().List(host.ID(), callbacks.EventKey("colorchange"))
	require.Len(t, handlers, 1)
	assert.Same(t, l, handlers[0])
}
