package model

import "time"

// InputPolicy decides when an operator fires.
type InputPolicy string

const (
	// InputPolicyAll fires once every input holds a message.
	InputPolicyAll InputPolicy = "all"
	// InputPolicyAny fires on every arrival.
	InputPolicyAny InputPolicy = "any"
)

// OperatorRecord is a placed operator.
type OperatorRecord struct {
	ID            NodeID           `json:"id" yaml:"id"`
	Inputs        []PortDescriptor `json:"inputs" yaml:"inputs"`
	Outputs       []PortDescriptor `json:"outputs" yaml:"outputs"`
	URI           string           `json:"uri,omitempty" yaml:"uri,omitempty"`
	Configuration Configuration    `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Runtime       RuntimeID        `json:"runtime" yaml:"runtime"`
	Deadline      *time.Duration   `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	InputPolicy   InputPolicy      `json:"input_policy,omitempty" yaml:"input_policy,omitempty"`
	Loop          *LoopDescriptor  `json:"loop,omitempty" yaml:"loop,omitempty"`
}

// InputType returns the type of the named input.
func (o OperatorRecord) InputType(port PortID) (PortType, bool) { return findPort(o.Inputs, port) }

// OutputType returns the type of the named output.
func (o OperatorRecord) OutputType(port PortID) (PortType, bool) { return findPort(o.Outputs, port) }

// SourceRecord is a placed source. Sources have a single output.
type SourceRecord struct {
	ID            NodeID         `json:"id" yaml:"id"`
	Output        PortDescriptor `json:"output" yaml:"output"`
	Period        *time.Duration `json:"period,omitempty" yaml:"period,omitempty"`
	URI           string         `json:"uri,omitempty" yaml:"uri,omitempty"`
	Configuration Configuration  `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Runtime       RuntimeID      `json:"runtime" yaml:"runtime"`
}

// OutputType returns the type of the named output.
func (s SourceRecord) OutputType(port PortID) (PortType, bool) {
	return findPort([]PortDescriptor{s.Output}, port)
}

// SinkRecord is a placed sink. Sinks have a single input.
type SinkRecord struct {
	ID            NodeID         `json:"id" yaml:"id"`
	Input         PortDescriptor `json:"input" yaml:"input"`
	URI           string         `json:"uri,omitempty" yaml:"uri,omitempty"`
	Configuration Configuration  `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Runtime       RuntimeID      `json:"runtime" yaml:"runtime"`
}

// InputType returns the type of the named input.
func (s SinkRecord) InputType(port PortID) (PortType, bool) {
	return findPort([]PortDescriptor{s.Input}, port)
}
