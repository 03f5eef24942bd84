// Package session drives remote display frames.
//
// A Session is a handle on one frame. It performs the readiness handshake,
// issues calls, reads and writes properties and manages event listeners. The
// Manager creates sessions and keeps the lookup table from endpoint identity
// and session ID to session.
//
// Readiness:
//   - pending until the frame posts {event:"ready"} or answers the ping probe
//   - failed by {event:"error", data:{method:"ready"}} or an upgrade failure
//   - decided once; later signals are ignored
//
// Inbound messages are accepted only when their source is the session's
// current endpoint and their origin matches the trusted-origin policy. The
// first accepted message pins the origin used for every later post.
//
// Targets:
//   - a live transport.Channel is validated against the policy and probed
//   - an *embed.Placeholder is resolved, built and attached in the
//     background; listeners registered meanwhile move to the new channel
//
// Example Usage:
//
//	manager := session.NewManager(session.Options{Bus: bus, Policy: policy})
//	sess, err := manager.Open(channel)
//	color, err := sess.Get(ctx, "color")
//	listener, err := sess.On("colorchange", func(data any) { ... })
package session
