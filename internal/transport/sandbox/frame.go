package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

// ErrTimeout is reported when a job exceeds its execution budget.
var ErrTimeout = errors.New("execution timeout exceeded")

// Frame is a JavaScript display running on its own event loop.
type Frame struct {
	id      id.EndpointID
	config  Config
	program *goja.Program
	logger  *logging.Logger

	vm        *goja.Runtime
	stringify goja.Callable
	parse     goja.Callable
	handlers  []goja.Callable

	timersMu  sync.Mutex
	timers    map[int64]*time.Timer
	nextTimer int64

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sink    transport.Sink
	started bool
}

// New compiles script and prepares a frame. The script runs on Start.
func New(script string, config Config, logger *logging.Logger) (*Frame, error) {
	program, err := goja.Compile("display.js", script, false)
	if err != nil {
		return nil, fmt.Errorf("compile frame script: %w", err)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	f := &Frame{
		id:      id.NewEndpointID(),
		config:  config,
		program: program,
		vm:      goja.New(),
		timers:  make(map[int64]*time.Timer),
		jobs:    make(chan func(), config.QueueSize),
		done:    make(chan struct{}),
	}
	f.logger = logger.OrNop().Named("transport.sandbox").With(zap.String("endpoint", f.id.String()))

	if config.MaxCallStackSize > 0 {
		f.vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}
	if err := f.setupGlobals(); err != nil {
		return nil, err
	}

	go f.loop()
	return f, nil
}

func (f *Frame) ID() id.EndpointID { return f.id }
func (f *Frame) Origin() string    { return f.config.Origin }

// Start runs the frame script. Everything it posts goes to sink.
func (f *Frame) Start(sink transport.Sink) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.sink = sink
	f.mu.Unlock()

	return f.enqueue(context.Background(), func() {
		if _, err := f.vm.RunProgram(f.program); err != nil {
			f.logger.Warn("Frame script failed", zap.Error(err))
		}
	})
}

// Post dispatches a message event to the frame's listeners.
func (f *Frame) Post(ctx context.Context, data any, targetOrigin string) error {
	if err := transport.CheckTarget(targetOrigin, f.config.Origin); err != nil {
		return err
	}

	payload, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	return f.enqueue(ctx, func() {
		value, err := f.parse(goja.Undefined(), f.vm.ToValue(payload))
		if err != nil {
			f.logger.Debug("Frame could not read host message", zap.Error(err))
			return
		}

		event := f.vm.NewObject()
		_ = event.Set("data", value)
		_ = event.Set("origin", f.config.HostOrigin)

		for _, handler := range append([]goja.Callable(nil), f.handlers...) {
			if _, err := handler(goja.Undefined(), event); err != nil {
				f.logger.Warn("Frame message handler failed", zap.Error(err))
			}
		}
	})
}

// Close stops the event loop and pending timers.
func (f *Frame) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.vm.Interrupt("frame closed")

		f.timersMu.Lock()
		for key, t := range f.timers {
			t.Stop()
			delete(f.timers, key)
		}
		f.timersMu.Unlock()
	})
	return nil
}

// Done is closed once the frame is closed.
func (f *Frame) Done() <-chan struct{} { return f.done }

func (f *Frame) enqueue(ctx context.Context, job func()) error {
	select {
	case <-f.done:
		return transport.ErrClosed
	default:
	}

	select {
	case f.jobs <- job:
		return nil
	case <-f.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Frame) loop() {
	for {
		select {
		case job := <-f.jobs:
			select {
			case <-f.done:
				return
			default:
			}
			f.run(job)
		case <-f.done:
			return
		}
	}
}

// run executes one job under the execution budget.
func (f *Frame) run(job func()) {
	if f.config.JobTimeout > 0 {
		timer := time.AfterFunc(f.config.JobTimeout, func() {
			f.vm.Interrupt(ErrTimeout)
		})
		defer func() {
			timer.Stop()
			f.vm.ClearInterrupt()
		}()
	}

	defer func() {
		if rec := recover(); rec != nil {
			f.logger.Error("Frame job panicked", zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	job()
}

// send delivers a frame post to the host. It runs on the loop goroutine.
func (f *Frame) send(data goja.Value, targetOrigin string) {
	if targetOrigin != transport.AnyOrigin && targetOrigin != f.config.HostOrigin {
		f.logger.Debug("Frame post dropped: target origin mismatch", zap.String("target", targetOrigin))
		return
	}

	text, err := f.stringify(goja.Undefined(), data)
	if err != nil || goja.IsUndefined(text) {
		f.logger.Debug("Frame post dropped: not serializable")
		return
	}

	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		return
	}

	select {
	case <-f.done:
		return
	default:
	}

	sink.Deliver(transport.Message{Source: f.id, Origin: f.config.Origin, Data: text.String()})
}

func encode(data any) (string, error) {
	switch v := data.(type) {
	case protocol.Envelope:
		b, err := protocol.Marshal(v)
		return string(b), err
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := protocol.Marshal(protocol.Parse(v))
		return string(b), err
	}
}
