package model

import "fmt"

// OutputDescriptor is the source endpoint of a link.
type OutputDescriptor struct {
	Node   NodeID `json:"node" yaml:"node"`
	Output PortID `json:"output" yaml:"output"`
}

func (o OutputDescriptor) String() string { return fmt.Sprintf("%s.%s", o.Node, o.Output) }

// InputDescriptor is the destination endpoint of a link.
type InputDescriptor struct {
	Node  NodeID `json:"node" yaml:"node"`
	Input PortID `json:"input" yaml:"input"`
}

func (i InputDescriptor) String() string { return fmt.Sprintf("%s.%s", i.Node, i.Input) }

// QueueingPolicy decides what a full bounded link does with a new message.
type QueueingPolicy string

const (
	// QueueingBlock suspends the sender until room is available.
	QueueingBlock QueueingPolicy = "block"
	// QueueingDropNewest discards the message being sent.
	QueueingDropNewest QueueingPolicy = "drop_newest"
	// QueueingDropOldest evicts the oldest queued message to make room.
	QueueingDropOldest QueueingPolicy = "drop_oldest"
)

// Valid reports whether the policy is one of the known values.
func (p QueueingPolicy) Valid() bool {
	switch p {
	case QueueingBlock, QueueingDropNewest, QueueingDropOldest:
		return true
	}
	return false
}

// LinkDescriptor is a directed edge between an output and an input.
type LinkDescriptor struct {
	From           OutputDescriptor `json:"from" yaml:"from"`
	To             InputDescriptor  `json:"to" yaml:"to"`
	Size           *int             `json:"size,omitempty" yaml:"size,omitempty"`
	QueueingPolicy *QueueingPolicy  `json:"queueing_policy,omitempty" yaml:"queueing_policy,omitempty"`
	Priority       *int             `json:"priority,omitempty" yaml:"priority,omitempty"`
}

func (l LinkDescriptor) String() string { return fmt.Sprintf("%s => %s", l.From, l.To) }

// Touches reports whether either endpoint belongs to one of the given nodes.
func (l LinkDescriptor) Touches(nodes map[NodeID]struct{}) bool {
	_, from := nodes[l.From.Node]
	_, to := nodes[l.To.Node]
	return from || to
}
