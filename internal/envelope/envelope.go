package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Reserved field and channel names.
const (
	ChannelField  = "channel"
	TypeField     = "type"
	GlobalChannel = "global"

	PingType = "ping"
	PongType = "pong"
)

// Errors
var (
	ErrEmptyChannel = errors.New("empty channel name")
	ErrNotObject    = errors.New("not a json object")
)

// Frame is a decoded inbound message. Field values are kept raw so that
// payloads reach subscribers exactly as the far end encoded them.
type Frame map[string]json.RawMessage

// Decode parses a raw text frame. Anything other than a JSON object is
// rejected.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("decode frame: %w", ErrNotObject)
	}
	return f, nil
}

// Channel returns the frame's channel tag. Frames without a string
// channel report ok=false and are treated as global.
func (f Frame) Channel() (string, bool) {
	return f.stringField(ChannelField)
}

// Route returns the channel a frame is dispatched on.
func (f Frame) Route() string {
	if ch, ok := f.Channel(); ok {
		return ch
	}
	return GlobalChannel
}

// Type returns the frame's "type" field, or "" if absent.
func (f Frame) Type() string {
	t, _ := f.stringField(TypeField)
	return t
}

// IsPing reports whether the frame is a liveness probe.
func (f Frame) IsPing() bool {
	if _, tagged := f[ChannelField]; tagged {
		return false
	}
	return f.Type() == PingType
}

// IsPong reports whether the frame is a liveness probe reply.
func (f Frame) IsPong() bool {
	if _, tagged := f[ChannelField]; tagged {
		return false
	}
	return f.Type() == PongType
}

// Payload returns the frame with the channel tag stripped.
func (f Frame) Payload() (json.RawMessage, error) {
	stripped := make(map[string]json.RawMessage, len(f))
	for k, v := range f {
		if k == ChannelField {
			continue
		}
		stripped[k] = v
	}
	data, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func (f Frame) stringField(name string) (string, bool) {
	raw, ok := f[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// Encode wraps payload into a flat envelope tagged with channel. The
// payload must encode to a JSON object (or be nil); a "channel" field in
// the payload is overwritten.
func Encode(channel string, payload any) ([]byte, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}

	fields, err := objectFields(payload)
	if err != nil {
		return nil, err
	}

	tag, err := json.Marshal(channel)
	if err != nil {
		return nil, fmt.Errorf("encode channel: %w", err)
	}
	fields[ChannelField] = tag

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func objectFields(payload any) (map[string]json.RawMessage, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return make(map[string]json.RawMessage), nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		var err error
		raw, err = json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("encode payload: %w", ErrNotObject)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

// Ping returns a fresh liveness probe frame.
func Ping() []byte {
	return []byte(`{"type":"ping"}`)
}

// Pong returns a fresh liveness probe reply frame.
func Pong() []byte {
	return []byte(`{"type":"pong"}`)
}
