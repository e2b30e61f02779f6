// Package wire encodes data messages for the trip between a sender connector
// and its receivers.
package wire

import (
	"fmt"

	"github.com/drblury/flowplan/internal/runtime/message"
)

// Codec turns a data message into transport bytes and back. Implementations
// must keep the payload, the timestamp and both deadline lists intact.
type Codec interface {
	Name() string
	ContentType() string
	Encode(msg *message.DataMessage) ([]byte, error)
	Decode(data []byte) (*message.DataMessage, error)
}

const (
	NameJSON  = "json"
	NameProto = "proto"
)

// ForName returns the codec registered under name. The empty name selects JSON.
func ForName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSON{}, nil
	case NameProto:
		return Proto{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec %q", name)
	}
}
