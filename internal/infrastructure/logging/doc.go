// Package logging provides structured logging using uber/zap.
//
// Two output modes are supported:
//   - Production: JSON lines for log shippers
//   - Development: colored console output
//
// Components take a *Logger and name themselves with Named, so a session's
// lines read "session" and a channel's read "transport.wschan":
//
//	logger := logging.NewDefault().Named("session")
//	logger.Debug("dropped message", zap.String("origin", origin))
//
// Filtered or unroutable traffic logs at Debug, best-effort failures at Warn,
// and lifecycle transitions at Info.
package logging
