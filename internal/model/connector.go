package model

import "fmt"

// ConnectorKind tells the two halves of a cross-runtime link apart.
type ConnectorKind string

const (
	ConnectorSender   ConnectorKind = "sender"
	ConnectorReceiver ConnectorKind = "receiver"
)

// ConnectorRecord is one end of a cross-runtime link, bound to a shared transport resource.
type ConnectorRecord struct {
	Kind     ConnectorKind  `json:"kind" yaml:"kind"`
	ID       NodeID         `json:"id" yaml:"id"`
	Resource string         `json:"resource" yaml:"resource"`
	Link     PortDescriptor `json:"link_id" yaml:"link_id"`
	Runtime  RuntimeID      `json:"runtime" yaml:"runtime"`
}

func (c ConnectorRecord) String() string {
	return fmt.Sprintf("%s(%s) %s on %s", c.Kind, c.ID, c.Resource, c.Runtime)
}

// InputType returns the port type when the connector consumes port (senders only).
func (c ConnectorRecord) InputType(port PortID) (PortType, bool) {
	if c.Kind != ConnectorSender || c.Link.ID != port {
		return "", false
	}
	return c.Link.Type, true
}

// OutputType returns the port type when the connector produces on port (receivers only).
func (c ConnectorRecord) OutputType(port PortID) (PortType, bool) {
	if c.Kind != ConnectorReceiver || c.Link.ID != port {
		return "", false
	}
	return c.Link.Type, true
}
