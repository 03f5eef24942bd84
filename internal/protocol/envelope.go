package protocol

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Envelope is the message shape used in both directions.
type Envelope struct {
	Method   string
	Value    any
	HasValue bool
	Event    string
	Data     any
}

// ErrorPayload is the data carried by an error event.
type ErrorPayload struct {
	Method  string
	Name    string
	Message string
}

var codec = sonic.ConfigStd

// Encode builds an outbound call. Passing no value omits it from the wire;
// passing nil sends an explicit null.
func Encode(method string, value ...any) Envelope {
	env := Envelope{Method: method}
	if len(value) > 0 {
		env.Value = value[0]
		env.HasValue = true
	}
	return env
}

// IsEmpty reports whether the envelope carries nothing routable.
func (e Envelope) IsEmpty() bool {
	return e.Method == "" && e.Event == ""
}

// IsEvent reports whether the envelope is an event notification.
func (e Envelope) IsEvent() bool {
	return e.Event != ""
}

// ErrorInfo extracts the payload of an error event.
func (e Envelope) ErrorInfo() (ErrorPayload, bool) {
	if e.Event != EventError {
		return ErrorPayload{}, false
	}
	data, ok := e.Data.(map[string]any)
	if !ok {
		return ErrorPayload{}, false
	}
	return ErrorPayload{
		Method:  stringField(data, "method"),
		Name:    stringField(data, "name"),
		Message: stringField(data, "message"),
	}, true
}

// Object returns the envelope as a plain JSON object.
func (e Envelope) Object() map[string]any {
	obj := make(map[string]any, 2)
	if e.Method != "" {
		obj["method"] = e.Method
	}
	if e.HasValue {
		obj["value"] = e.Value
	}
	if e.Event != "" {
		obj["event"] = e.Event
	}
	if e.Data != nil {
		obj["data"] = e.Data
	}
	return obj
}

// MarshalJSON encodes the envelope, honouring HasValue.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return codec.Marshal(e.Object())
}

// UnmarshalJSON decodes an envelope. Unknown or mistyped fields are ignored.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := codec.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = fromObject(obj)
	return nil
}

// Marshal produces the wire text for an envelope.
func Marshal(e Envelope) ([]byte, error) {
	return e.MarshalJSON()
}

// Parse converts a raw inbound payload into an envelope. It never fails:
// unreadable input yields the empty envelope.
func Parse(raw any) Envelope {
	switch v := raw.(type) {
	case Envelope:
		return v
	case *Envelope:
		if v == nil {
			return Envelope{}
		}
		return *v
	case map[string]any:
		return fromObject(v)
	case string:
		return parseText([]byte(v))
	case []byte:
		return parseText(v)
	case json.RawMessage:
		return parseText(v)
	default:
		return Envelope{}
	}
}

func parseText(data []byte) Envelope {
	var obj map[string]any
	if err := codec.Unmarshal(data, &obj); err != nil || obj == nil {
		return Envelope{}
	}
	return fromObject(obj)
}

func fromObject(obj map[string]any) Envelope {
	var env Envelope
	env.Method = stringField(obj, "method")
	env.Event = stringField(obj, "event")
	if v, ok := obj["value"]; ok {
		env.Value = v
		env.HasValue = true
	}
	env.Data = obj["data"]
	return env
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
