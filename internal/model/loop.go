package model

// LoopDescriptor declares a feedback edge from Egress back to Ingress.
//
// It only exists before compilation: the compiler turns it into one extra input
// on the ingress, one extra output on the egress and one link between them. The
// descriptor stays on both operator records as a membership marker.
type LoopDescriptor struct {
	Ingress      NodeID   `json:"ingress" yaml:"ingress"`
	Egress       NodeID   `json:"egress" yaml:"egress"`
	FeedbackPort PortID   `json:"feedback_port" yaml:"feedback_port"`
	PortType     PortType `json:"port_type" yaml:"port_type"`
	IsInfinite   bool     `json:"is_infinite,omitempty" yaml:"is_infinite,omitempty"`
}

// Port returns the feedback port declared by the loop.
func (l LoopDescriptor) Port() PortDescriptor {
	return PortDescriptor{ID: l.FeedbackPort, Type: l.PortType}
}
