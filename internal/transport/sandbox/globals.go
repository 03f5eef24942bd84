package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framelink/internal/transport"
)

// setupGlobals installs the frame's browser-side surface.
func (f *Frame) setupGlobals() error {
	vm := f.vm

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	jsonObj := vm.Get("JSON").ToObject(vm)
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return fmt.Errorf("JSON.stringify unavailable")
	}
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return fmt.Errorf("JSON.parse unavailable")
	}
	f.stringify, f.parse = stringify, parse

	parent := vm.NewObject()
	if err := parent.Set("postMessage", f.postMessage); err != nil {
		return err
	}

	window := vm.GlobalObject()
	if err := window.Set("window", window); err != nil {
		return err
	}
	if err := window.Set("parent", parent); err != nil {
		return err
	}
	if err := window.Set("addEventListener", f.addEventListener); err != nil {
		return err
	}
	if err := window.Set("removeEventListener", f.removeEventListener); err != nil {
		return err
	}
	if err := window.Set("setTimeout", f.setTimeout); err != nil {
		return err
	}
	if err := window.Set("clearTimeout", f.clearTimeout); err != nil {
		return err
	}

	if f.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, f.consoleFunc(level)); err != nil {
				return err
			}
		}
		if err := window.Set("console", console); err != nil {
			return err
		}
	}

	return nil
}

func (f *Frame) postMessage(call goja.FunctionCall) goja.Value {
	target := transport.AnyOrigin
	if len(call.Arguments) > 1 {
		target = call.Argument(1).String()
	}
	f.send(call.Argument(0), target)
	return goja.Undefined()
}

func (f *Frame) addEventListener(call goja.FunctionCall) goja.Value {
	if call.Argument(0).String() != "message" {
		return goja.Undefined()
	}
	if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
		f.handlers = append(f.handlers, fn)
	}
	return goja.Undefined()
}

// removeEventListener drops every message handler. goja callables are not
// comparable, so a specific handler cannot be singled out.
func (f *Frame) removeEventListener(call goja.FunctionCall) goja.Value {
	if call.Argument(0).String() == "message" {
		f.handlers = nil
	}
	return goja.Undefined()
}

func (f *Frame) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return goja.Undefined()
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	f.timersMu.Lock()
	f.nextTimer++
	key := f.nextTimer
	f.timers[key] = time.AfterFunc(delay, func() {
		f.timersMu.Lock()
		_, live := f.timers[key]
		delete(f.timers, key)
		f.timersMu.Unlock()
		if !live {
			return
		}
		_ = f.enqueue(context.Background(), func() {
			if _, err := fn(goja.Undefined()); err != nil {
				f.logger.Warn("Frame timer callback failed", zap.Error(err))
			}
		})
	})
	f.timersMu.Unlock()

	return f.vm.ToValue(key)
}

func (f *Frame) clearTimeout(call goja.FunctionCall) goja.Value {
	key := call.Argument(0).ToInteger()

	f.timersMu.Lock()
	if t, ok := f.timers[key]; ok {
		t.Stop()
		delete(f.timers, key)
	}
	f.timersMu.Unlock()

	return goja.Undefined()
}

func (f *Frame) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "error":
			f.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			f.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			f.logger.Debug(msg, zap.String("source", "console"))
		default:
			f.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}
