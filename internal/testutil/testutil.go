// Package testutil provides mocks and helpers shared by framelink tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/framelink/internal/embed"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/transport"
	"github.com/GriffinCanCode/framelink/internal/transport/memory"
)

// DisplayOrigin is the origin test channels report.
const DisplayOrigin = "https://display.nfinite.app"

// MockResolver is a mock descriptor resolver.
type MockResolver struct {
	mock.Mock
}

// Resolve mocks the Resolve method.
func (m *MockResolver) Resolve(ctx context.Context, p *embed.Placeholder) (*embed.Descriptor, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*embed.Descriptor), args.Error(1)
}

// MockBuilder is a mock frame builder.
type MockBuilder struct {
	mock.Mock
}

// Build mocks the Build method.
func (m *MockBuilder) Build(ctx context.Context, p *embed.Placeholder, desc *embed.Descriptor) (transport.Channel, error) {
	args := m.Called(ctx, p, desc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(transport.Channel), args.Error(1)
}

// NextMessage waits for the next message the host posted to remote.
func NextMessage(t *testing.T, remote *memory.Remote) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	env, err := remote.Next(ctx)
	if err != nil {
		t.Fatalf("no message posted to the frame: %v", err)
	}
	return env
}

// AssertNoMessage fails if the host posts anything to remote within wait.
func AssertNoMessage(t *testing.T, remote *memory.Remote, wait time.Duration) {
	t.Helper()
	select {
	case data := <-remote.Inbox():
		t.Errorf("unexpected message posted to the frame: %v", protocol.Parse(data).Object())
	case <-time.After(wait):
	}
}

// Responder answers ping and replies to every other method with value.
func Responder(values map[string]any) memory.Handler {
	return func(env protocol.Envelope) []any {
		if env.Method == "" {
			return nil
		}
		if v, ok := values[env.Method]; ok {
			return []any{protocol.Envelope{Method: env.Method, Value: v, HasValue: true}.Object()}
		}
		return []any{protocol.Envelope{Method: env.Method}.Object()}
	}
}
