package protocol

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Reserved method and event names.
const (
	MethodPing                = "ping"
	MethodAddEventListener    = "addEventListener"
	MethodRemoveEventListener = "removeEventListener"

	EventReady = "ready"
	EventError = "error"

	// EventKeyPrefix marks registry keys that hold event listeners.
	EventKeyPrefix = "event:"
)

// Accessor kinds for MethodName.
const (
	KindGet = "get"
	KindSet = "set"
)

// MethodName returns the remote method behind a getter or setter.
// "color" becomes "getColor"; a name already starting with kind is kept.
func MethodName(prop, kind string) string {
	kind = strings.ToLower(kind)
	if strings.HasPrefix(prop, kind) {
		return prop
	}
	r, size := utf8.DecodeRuneInString(prop)
	if size == 0 {
		return kind
	}
	return kind + string(unicode.ToUpper(r)) + prop[size:]
}
