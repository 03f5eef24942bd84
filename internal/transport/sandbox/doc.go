/*
Package sandbox hosts a display frame inside a goja JavaScript VM and exposes
it as a transport.Channel.

# Overview

The frame script runs in an isolated runtime with the browser-side surface a
display needs and nothing more:

  - parent.postMessage(data, targetOrigin) sends to the host
  - window.addEventListener("message", fn) receives host posts as {data, origin}
  - setTimeout / clearTimeout schedule work on the frame's event loop
  - console.* is routed to the host logger

require, process, module and exports are removed.

# Event loop

Each Frame owns one goroutine that runs every piece of JavaScript: the script
itself, message handlers and timer callbacks. Jobs run one at a time and each
one is interrupted if it exceeds the configured budget. The host never touches
the VM from another goroutine.

# Demo display

DisplayScript is a small display implementation used by the service's demo
sessions and by tests. It answers ping, announces ready, serves getters and
setters for color, language, config, filter, products and scene, emits change
events to subscribed listeners and reports failures as error events.

	frame, err := sandbox.New(sandbox.DisplayScript, sandbox.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	sess, err := manager.Open(frame)
*/
package sandbox
