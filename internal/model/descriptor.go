package model

// OperatorDescriptor declares an operator before placement.
type OperatorDescriptor struct {
	ID            NodeID              `json:"id" yaml:"id"`
	Inputs        []PortDescriptor    `json:"inputs" yaml:"inputs"`
	Outputs       []PortDescriptor    `json:"outputs" yaml:"outputs"`
	URI           string              `json:"uri,omitempty" yaml:"uri,omitempty"`
	Configuration Configuration       `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Deadline      *DurationDescriptor `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	InputPolicy   InputPolicy         `json:"input_policy,omitempty" yaml:"input_policy,omitempty"`
}

// SourceDescriptor declares a source before placement.
type SourceDescriptor struct {
	ID            NodeID              `json:"id" yaml:"id"`
	Output        PortDescriptor      `json:"output" yaml:"output"`
	Period        *DurationDescriptor `json:"period,omitempty" yaml:"period,omitempty"`
	URI           string              `json:"uri,omitempty" yaml:"uri,omitempty"`
	Configuration Configuration       `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// SinkDescriptor declares a sink before placement.
type SinkDescriptor struct {
	ID            NodeID         `json:"id" yaml:"id"`
	Input         PortDescriptor `json:"input" yaml:"input"`
	URI           string         `json:"uri,omitempty" yaml:"uri,omitempty"`
	Configuration Configuration  `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// Descriptor is the user-authored, unplaced description of a flow.
type Descriptor struct {
	Flow                string                  `json:"flow" yaml:"flow"`
	Operators           []OperatorDescriptor    `json:"operators" yaml:"operators"`
	Sources             []SourceDescriptor      `json:"sources" yaml:"sources"`
	Sinks               []SinkDescriptor        `json:"sinks" yaml:"sinks"`
	Links               []LinkDescriptor        `json:"links" yaml:"links"`
	Mapping             map[NodeID]RuntimeID    `json:"mapping,omitempty" yaml:"mapping,omitempty"`
	Deadlines           []E2EDeadlineDescriptor `json:"deadlines,omitempty" yaml:"deadlines,omitempty"`
	Loops               []LoopDescriptor        `json:"loops,omitempty" yaml:"loops,omitempty"`
	GlobalConfiguration Configuration           `json:"global_configuration,omitempty" yaml:"global_configuration,omitempty"`
	Flags               []FlagDescriptor        `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// DescriptorFromYAML decodes a descriptor.
func DescriptorFromYAML(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := decodeYAML(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DescriptorFromJSON decodes a descriptor.
func DescriptorFromJSON(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := decodeJSON(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
