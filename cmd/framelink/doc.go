// Package main is the entry point for the framelink server.
//
// framelink hosts sessions with remote display frames and exposes them over
// an HTTP control API:
//
//	Client (HTTP / websocket) → framelink → display frame (websocket or sandbox)
//
// The server provides:
//   - Session lifecycle: open, await readiness, destroy
//   - Remote calls and property access
//   - Event streams over websocket
//   - Prometheus metrics and a health endpoint
//
// Configuration:
//   - Defaults for development
//   - A YAML or TOML file (-config)
//   - Environment variables (12-factor), over the file
//   - CLI flags, over everything
//
// Usage:
//
//	# Production mode
//	./framelink -config framelink.yaml
//
//	# Development mode (colored logs, debug level)
//	./framelink -dev -port 8080
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
