package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

type recorder struct {
	messages chan transport.Message
}

func newRecorder() *recorder {
	return &recorder{messages: make(chan transport.Message, 32)}
}

func (r *recorder) Deliver(msg transport.Message) {
	r.messages <- msg
}

func (r *recorder) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case msg := <-r.messages:
		return protocol.Parse(msg.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("no message from frame")
		return protocol.Envelope{}
	}
}

func startDisplay(t *testing.T) (*Frame, *recorder) {
	t.Helper()
	f, err := New(DisplayScript, DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	rec := newRecorder()
	require.NoError(t, f.Start(rec))

	ready := rec.next(t)
	require.Equal(t, protocol.EventReady, ready.Event)
	return f, rec
}

func TestNewRejectsInvalidScript(t *testing.T) {
	_, err := New("function (", DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestDisplayAnnouncesReady(t *testing.T) {
	f, err := New(DisplayScript, DefaultConfig(), nil)
	require.NoError(t, err)
	defer f.Close()

	rec := newRecorder()
	require.NoError(t, f.Start(rec))

	select {
	case msg := <-rec.messages:
		assert.Equal(t, f.ID(), msg.Source)
		assert.Equal(t, "sandbox://display", msg.Origin)
		assert.Equal(t, protocol.EventReady, protocol.Parse(msg.Data).Event)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never announced ready")
	}
}

func TestDisplayAnswersGetter(t *testing.T) {
	f, rec := startDisplay(t)

	require.NoError(t, f.Post(context.Background(), protocol.Encode("getColor"), transport.AnyOrigin))

	reply := rec.next(t)
	assert.Equal(t, "getColor", reply.Method)
	assert.True(t, reply.HasValue)
	assert.Equal(t, "#00adef", reply.Value)
}

func TestDisplayPingReplyHasNoValue(t *testing.T) {
	f, rec := startDisplay(t)

	require.NoError(t, f.Post(context.Background(), protocol.Encode(protocol.MethodPing), transport.AnyOrigin))

	reply := rec.next(t)
	assert.Equal(t, protocol.MethodPing, reply.Method)
	assert.False(t, reply.HasValue)
}

func TestDisplayReportsErrors(t *testing.T) {
	f, rec := startDisplay(t)
	ctx := context.Background()

	require.NoError(t, f.Post(ctx, protocol.Encode("setColor", "nope"), transport.AnyOrigin))
	env := rec.next(t)
	require.Equal(t, protocol.EventError, env.Event)
	info, ok := env.ErrorInfo()
	require.True(t, ok)
	assert.Equal(t, "setColor", info.Method)
	assert.Equal(t, "TypeError", info.Name)

	require.NoError(t, f.Post(ctx, protocol.Encode("launchRocket"), transport.AnyOrigin))
	env = rec.next(t)
	info, ok = env.ErrorInfo()
	require.True(t, ok)
	assert.Equal(t, "launchRocket", info.Method)
	assert.Contains(t, info.Message, "does not exist")
}

func TestDisplayEmitsToSubscribers(t *testing.T) {
	f, rec := startDisplay(t)
	ctx := context.Background()

	require.NoError(t, f.Post(ctx, protocol.Encode("setColor", "ff0000"), transport.AnyOrigin))
	assert.Equal(t, "setColor", rec.next(t).Method)

	require.NoError(t, f.Post(ctx, protocol.Encode(protocol.MethodAddEventListener, "colorchange"), transport.AnyOrigin))
	assert.Equal(t, protocol.MethodAddEventListener, rec.next(t).Method)

	require.NoError(t, f.Post(ctx, protocol.Encode("setColor", "#00ff00"), transport.AnyOrigin))
	event := rec.next(t)
	assert.Equal(t, "colorchange", event.Event)
	assert.Equal(t, map[string]any{"color": "#00ff00"}, event.Data)

	reply := rec.next(t)
	assert.Equal(t, "setColor", reply.Method)
	assert.Equal(t, "#00ff00", reply.Value)
}

func TestDisplayNextSceneRunsOut(t *testing.T) {
	f, rec := startDisplay(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.NoError(t, f.Post(ctx, protocol.Encode("nextScene", map[string]any{"cursor": "c"}), transport.AnyOrigin))
		reply := rec.next(t)
		require.Equal(t, "nextScene", reply.Method)
		scene, ok := reply.Value.(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, i, scene["index"])
	}

	require.NoError(t, f.Post(ctx, protocol.Encode("nextScene"), transport.AnyOrigin))
	info, ok := rec.next(t).ErrorInfo()
	require.True(t, ok)
	assert.Equal(t, "RangeError", info.Name)
}

func TestPostChecksTargetOrigin(t *testing.T) {
	f, _ := startDisplay(t)

	err := f.Post(context.Background(), protocol.Encode("getColor"), "https://elsewhere.example")
	assert.ErrorIs(t, err, transport.ErrOriginMismatch)

	assert.NoError(t, f.Post(context.Background(), protocol.Encode("getColor"), f.Origin()))
}

func TestPostAfterClose(t *testing.T) {
	f, _ := startDisplay(t)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	select {
	case <-f.Done():
	default:
		t.Fatal("done not closed")
	}

	err := f.Post(context.Background(), protocol.Encode("getColor"), transport.AnyOrigin)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestJobTimeoutInterruptsScript(t *testing.T) {
	script := `
		window.addEventListener('message', function (event) {
			if (event.data.method === 'spin') { for (;;) {} }
			parent.postMessage({ method: event.data.method }, '*');
		});
	`
	config := DefaultConfig()
	config.JobTimeout = 50 * time.Millisecond

	f, err := New(script, config, nil)
	require.NoError(t, err)
	defer f.Close()

	rec := newRecorder()
	require.NoError(t, f.Start(rec))

	ctx := context.Background()
	require.NoError(t, f.Post(ctx, protocol.Encode("spin"), transport.AnyOrigin))
	require.NoError(t, f.Post(ctx, protocol.Encode("after"), transport.AnyOrigin))

	assert.Equal(t, "after", rec.next(t).Method)
}

func TestFramePostsRespectTargetOrigin(t *testing.T) {
	script := `
		parent.postMessage({ event: 'hidden' }, 'https://elsewhere.example');
		parent.postMessage({ event: 'shown' }, 'sandbox://host');
	`
	f, err := New(script, DefaultConfig(), nil)
	require.NoError(t, err)
	defer f.Close()

	rec := newRecorder()
	require.NoError(t, f.Start(rec))

	assert.Equal(t, "shown", rec.next(t).Event)
}
