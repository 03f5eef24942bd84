package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

const origin = "https://display.nfinite.app"

type recorder struct{ msgs []transport.Message }

func (r *recorder) Deliver(msg transport.Message) { r.msgs = append(r.msgs, msg) }

func TestHeldUntilStart(t *testing.T) {
	host, remote := Pair(origin)
	remote.Emit("ready", nil)
	remote.Reply("ping", nil)

	rec := &recorder{}
	require.NoError(t, host.Start(rec))
	remote.Emit("play", map[string]any{"seconds": 1})

	require.Len(t, rec.msgs, 3)
	assert.Equal(t, "ready", protocol.Parse(rec.msgs[0].Data).Event)
	assert.Equal(t, "ping", protocol.Parse(rec.msgs[1].Data).Method)
	assert.Equal(t, "play", protocol.Parse(rec.msgs[2].Data).Event)
	assert.Equal(t, host.ID(), rec.msgs[0].Source)
	assert.Equal(t, origin, rec.msgs[0].Origin)
}

func TestPostChecksTargetOrigin(t *testing.T) {
	host, remote := Pair(origin)
	ctx := context.Background()

	require.NoError(t, host.Post(ctx, protocol.Encode("ping"), transport.AnyOrigin))
	require.NoError(t, host.Post(ctx, protocol.Encode("getColor"), origin))
	assert.ErrorIs(t, host.Post(ctx, protocol.Encode("getColor"), "https://evil.example"), transport.ErrOriginMismatch)

	env, err := remote.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Method)
	env, err = remote.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "getColor", env.Method)
}

func TestClose(t *testing.T) {
	host, remote := Pair(origin)
	rec := &recorder{}
	require.NoError(t, host.Start(rec))

	require.NoError(t, host.Close())
	require.NoError(t, host.Close())
	assert.True(t, host.Closed())

	remote.Emit("play", nil)
	assert.Empty(t, rec.msgs)
	assert.ErrorIs(t, host.Post(context.Background(), protocol.Encode("ping"), transport.AnyOrigin), transport.ErrClosed)
}

func TestServe(t *testing.T) {
	host, remote := Pair(origin)
	rec := &recorder{}
	require.NoError(t, host.Start(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go remote.Serve(ctx, func(env protocol.Envelope) []any {
		return []any{protocol.Envelope{Method: env.Method, Value: "ok", HasValue: true}.Object()}
	})

	require.NoError(t, host.Post(ctx, protocol.Encode("getColor"), transport.AnyOrigin))
	require.Eventually(t, func() bool {
		host.deliverMu.Lock()
		defer host.deliverMu.Unlock()
		return len(rec.msgs) == 1
	}, time.Second, 5*time.Millisecond)
}
