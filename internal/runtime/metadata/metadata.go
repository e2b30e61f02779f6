// Package metadata names the headers connectors attach to transport messages
// and converts them to and from Watermill metadata.
package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Header keys set by sender connectors.
const (
	KeyCodec         = "flowplan_codec"
	KeyContentType   = "content_type"
	KeyFlow          = "flowplan_flow"
	KeyInstance      = "flowplan_instance"
	KeyResource      = "flowplan_resource"
	KeySender        = "flowplan_sender"
	KeyCorrelationID = "correlation_id"
)

// Metadata represents the headers carried alongside a connector message.
type Metadata map[string]string

// Clone returns a shallow copy. The result is never nil.
func (m Metadata) Clone() Metadata {
	if len(m) == 0 {
		return Metadata{}
	}
	return maps.Clone(m)
}

// With returns a copy containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// Connector builds the headers a sender stamps on every message it publishes.
func Connector(flow, instance, resource, sender, codec, contentType string) Metadata {
	return Metadata{
		KeyFlow:        flow,
		KeyInstance:    instance,
		KeyResource:    resource,
		KeySender:      sender,
		KeyCodec:       codec,
		KeyContentType: contentType,
	}
}

// Codec returns the codec name a message was encoded with, if any.
func (m Metadata) Codec() string { return m[KeyCodec] }

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// Apply writes every header onto msg.
func (m Metadata) Apply(msg *message.Message) {
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}
