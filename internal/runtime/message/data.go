package message

import (
	"sync"

	"github.com/drblury/flowplan/internal/runtime/jsoncodec"
)

// Data is a payload. It holds raw bytes, a typed value, or both; the byte form
// of a value is computed once on first use.
type Data struct {
	state *dataState
}

type dataState struct {
	once  sync.Once
	bytes []byte
	value any
	err   error
}

// FromBytes wraps an already serialized payload.
func FromBytes(b []byte) Data {
	s := &dataState{bytes: b}
	s.once.Do(func() {})
	return Data{state: s}
}

// FromValue wraps a value that is serialized with jsoncodec when its bytes are needed.
func FromValue(v any) Data {
	return Data{state: &dataState{value: v}}
}

// IsEmpty reports whether the payload was never set.
func (d Data) IsEmpty() bool { return d.state == nil }

// Value returns the typed value, or nil when the payload only exists as bytes.
func (d Data) Value() any {
	if d.state == nil {
		return nil
	}
	return d.state.value
}

// Bytes returns the serialized payload.
func (d Data) Bytes() ([]byte, error) {
	if d.state == nil {
		return nil, nil
	}
	s := d.state
	s.once.Do(func() {
		s.bytes, s.err = jsoncodec.Marshal(s.value)
	})
	return s.bytes, s.err
}

// Decode unmarshals the payload into v.
func (d Data) Decode(v any) error {
	b, err := d.Bytes()
	if err != nil {
		return err
	}
	return jsoncodec.Unmarshal(b, v)
}
