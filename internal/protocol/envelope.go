// Package protocol defines the envelope format exchanged between wavelength
// peers and relays, and the frequency type that names a chat channel.
package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Envelope type constants used by the relay and its clients. Envelopes with
// other types are legal and relayed untouched.
const (
	TypeJoin       = "join"
	TypeJoined     = "joined"
	TypeLeave      = "leave"
	TypeMessage    = "message"
	TypeAttachment = "attachment"
	TypePresence   = "presence"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeError      = "error"
)

// typeKey is the only mandatory key of every envelope.
const typeKey = "type"

// Envelope is a typed message unit: a mandatory non-empty type plus an
// arbitrary set of named fields. Field values are kept as raw JSON so that
// fields unknown to this process survive a relay hop unchanged apart from
// insignificant whitespace.
//
// An Envelope is immutable; every accessor returns copies.
type Envelope struct {
	typ    string
	fields map[string]json.RawMessage
}

// Type returns the envelope type.
func (e Envelope) Type() string { return e.typ }

// IsZero reports whether e is the zero Envelope (never produced by Encode or Parse).
func (e Envelope) IsZero() bool { return e.typ == "" }

// Has reports whether the envelope carries the named field.
func (e Envelope) Has(name string) bool {
	if name == typeKey {
		return e.typ != ""
	}
	_, ok := e.fields[name]
	return ok
}

// Raw returns a copy of the raw JSON value of the named field.
func (e Envelope) Raw(name string) (json.RawMessage, bool) {
	if name == typeKey {
		raw, _ := marshal(e.typ)
		return raw, e.typ != ""
	}
	v, ok := e.fields[name]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

// Decode unmarshals the named field into v.
func (e Envelope) Decode(name string, v any) error {
	raw, ok := e.Raw(name)
	if !ok {
		return fmt.Errorf("envelope %q: missing field %q", e.typ, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("envelope %q: field %q: %w", e.typ, name, err)
	}
	return nil
}

// Text returns the named field as a string, or "" when it is absent or
// not a JSON string.
func (e Envelope) Text(name string) string {
	var s string
	if err := e.Decode(name, &s); err != nil {
		return ""
	}
	return s
}

// Names returns the sorted field names, excluding type.
func (e Envelope) Names() []string {
	names := make([]string, 0, len(e.fields))
	for k := range e.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Fields returns a copy of all fields, excluding type.
func (e Envelope) Fields() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(e.fields))
	for k, v := range e.fields {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// With returns a new envelope with the named field set to value. Setting
// type through With is rejected; build a new envelope instead.
func (e Envelope) With(name string, value any) (Envelope, error) {
	if name == typeKey {
		return Envelope{}, fmt.Errorf("envelope %q: type cannot be replaced", e.typ)
	}
	raw, err := marshal(value)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %q: field %q: %w", e.typ, name, err)
	}
	fields := e.Fields()
	fields[name] = raw
	return Envelope{typ: e.typ, fields: fields}, nil
}

// MarshalJSON renders the envelope as a compact JSON object.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.typ == "" {
		return nil, fmt.Errorf("marshal envelope: %w", errMissingType)
	}
	all := make(map[string]json.RawMessage, len(e.fields)+1)
	for k, v := range e.fields {
		all[k] = v
	}
	typ, err := marshal(e.typ)
	if err != nil {
		return nil, err
	}
	all[typeKey] = typ

	// encoding/json sorts map keys and compacts raw values.
	return marshal(all)
}

// UnmarshalJSON parses data with the same rules as Parse.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	env, err := Parse(data)
	if err != nil {
		return err
	}
	*e = env
	return nil
}
