package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode builds an envelope of the given type from fields. The type is
// applied after the fields, so a "type" entry inside fields is overwritten.
func Encode(typ string, fields map[string]any) (Envelope, error) {
	if typ == "" {
		return Envelope{}, fmt.Errorf("encode envelope: %w", errMissingType)
	}
	raw := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		if name == typeKey {
			continue
		}
		data, err := marshal(value)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode envelope %q: field %q: %w", typ, name, err)
		}
		raw[name] = data
	}
	return Envelope{typ: typ, fields: raw}, nil
}

// MustEncode is Encode for envelopes built from values known to marshal.
// It panics on error.
func MustEncode(typ string, fields map[string]any) Envelope {
	env, err := Encode(typ, fields)
	if err != nil {
		panic(err)
	}
	return env
}

// marshal is json.Marshal without HTML escaping, so text such as "a<b>&c"
// goes out as written.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Serialize returns the compact JSON form of env.
func Serialize(env Envelope) ([]byte, error) {
	return env.MarshalJSON()
}

// Parse decodes a JSON object into an Envelope. It fails with a *ParseError
// when data is not a JSON object or lacks a non-empty string type; on
// failure the returned Envelope is always the zero value.
func Parse(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Envelope{}, &ParseError{Reason: "empty payload"}
	}
	if trimmed[0] != '{' {
		return Envelope{}, &ParseError{Reason: "payload is not a JSON object", Payload: clip(trimmed)}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Envelope{}, &ParseError{Reason: "malformed JSON", Payload: clip(trimmed), Err: err}
	}

	typRaw, ok := raw[typeKey]
	if !ok {
		return Envelope{}, &ParseError{Reason: "missing type", Payload: clip(trimmed)}
	}
	var typ string
	if err := json.Unmarshal(typRaw, &typ); err != nil {
		return Envelope{}, &ParseError{Reason: "type is not a string", Payload: clip(trimmed), Err: err}
	}
	if typ == "" {
		return Envelope{}, &ParseError{Reason: "empty type", Payload: clip(trimmed)}
	}

	delete(raw, typeKey)
	fields := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return Envelope{}, &ParseError{Reason: "malformed field " + k, Payload: clip(trimmed), Err: err}
		}
		fields[k] = buf.Bytes()
	}
	return Envelope{typ: typ, fields: fields}, nil
}

// maxPayloadEcho bounds how much of a rejected payload is kept for diagnostics.
const maxPayloadEcho = 128

func clip(b []byte) string {
	if len(b) > maxPayloadEcho {
		return string(b[:maxPayloadEcho]) + "…"
	}
	return string(b)
}
