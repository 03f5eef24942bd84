/*
Package protocol defines the wire envelope exchanged with a display frame and
the typed errors the rest of framelink reports.

# Envelope

Every message in either direction is a small JSON object:

	{"method": "getColor"}                         outbound call, no argument
	{"method": "setColor", "value": "#00adef"}     outbound call with argument
	{"method": "getColor", "value": "#00adef"}     inbound reply
	{"event": "play", "data": {"seconds": 0}}      inbound event
	{"event": "error", "data": {"method": "getColor", "name": "TypeError", "message": "bad"}}

An absent value and an explicit null are different on the wire. Envelope keeps
that distinction in HasValue.

# Parsing

Parse accepts whatever a channel hands over: an Envelope, a decoded JSON
object, or JSON text. It never fails. Input it cannot read becomes the empty
envelope, which the dispatcher drops.
*/
package protocol
