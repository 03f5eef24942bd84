/*
Package transport defines how envelopes travel between the host and a
display frame.

A Channel is one bidirectional link to one remote frame. Inbound traffic from
every channel lands on the host's Bus, the way every frame's postMessage lands
on the same window. Listeners on the bus decide for themselves whether a
message is theirs by checking its Source and Origin.

Bindings:
  - memory: an in-process pair for tests and embedding
  - wschan: a websocket client (gorilla/websocket)
  - sandbox: a JavaScript frame hosted in a goja VM

A channel delivers nothing before Start. Messages that arrive earlier are held
and flushed in order once Start is called, so a session can finish wiring its
registry before the first message is routed.
*/
package transport
