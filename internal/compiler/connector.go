package compiler

import (
	"fmt"

	"github.com/drblury/flowplan/internal/model"
)

// ResourceName is the transport resource shared by the connectors of a cross-runtime link.
func ResourceName(flow, instance string, node model.NodeID, output model.PortID) string {
	return fmt.Sprintf("/zf/data/%s/%s/%s/%s", flow, instance, node, output)
}

// SenderID is the identifier of the sender connector publishing node's output.
func SenderID(flow, instance string, node model.NodeID, output model.PortID) model.NodeID {
	return model.NodeID(fmt.Sprintf("sender-%s-%s-%s-%s", flow, instance, node, output))
}

// ReceiverID is the identifier of the receiver connector feeding node's input.
func ReceiverID(flow, instance string, node model.NodeID, input model.PortID) model.NodeID {
	return model.NodeID(fmt.Sprintf("receiver-%s-%s-%s-%s", flow, instance, node, input))
}

// synthesizer splits cross-runtime links into sender/receiver pairs.
type synthesizer struct {
	flow     string
	instance string
	senders  map[string]model.NodeID
}

func newSynthesizer(flow, instance string) *synthesizer {
	return &synthesizer{flow: flow, instance: instance, senders: make(map[string]model.NodeID)}
}

// crossing describes a validated link whose endpoints live on different runtimes.
type crossing struct {
	link        model.LinkDescriptor
	fromType    model.PortType
	toType      model.PortType
	fromRuntime model.RuntimeID
	toRuntime   model.RuntimeID
}

// connect returns the connectors and links replacing c. The sender and the
// link feeding it are only returned the first time a resource is seen.
func (s *synthesizer) connect(c crossing) ([]model.ConnectorRecord, []model.LinkDescriptor) {
	l := c.link
	resource := ResourceName(s.flow, s.instance, l.From.Node, l.From.Output)

	var connectors []model.ConnectorRecord
	var links []model.LinkDescriptor

	if _, ok := s.senders[resource]; !ok {
		senderID := SenderID(s.flow, s.instance, l.From.Node, l.From.Output)
		s.senders[resource] = senderID
		connectors = append(connectors, model.ConnectorRecord{
			Kind:     model.ConnectorSender,
			ID:       senderID,
			Resource: resource,
			Link:     model.PortDescriptor{ID: l.From.Output, Type: c.fromType},
			Runtime:  c.fromRuntime,
		})
		links = append(links, model.LinkDescriptor{
			From: l.From,
			To:   model.InputDescriptor{Node: senderID, Input: l.From.Output},
		})
	}

	receiverID := ReceiverID(s.flow, s.instance, l.To.Node, l.To.Input)
	connectors = append(connectors, model.ConnectorRecord{
		Kind:     model.ConnectorReceiver,
		ID:       receiverID,
		Resource: resource,
		Link:     model.PortDescriptor{ID: l.To.Input, Type: c.toType},
		Runtime:  c.toRuntime,
	})
	links = append(links, model.LinkDescriptor{
		From: model.OutputDescriptor{Node: receiverID, Output: l.To.Input},
		To:   l.To,
	})

	return connectors, links
}
