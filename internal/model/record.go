package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	errspkg "github.com/drblury/flowplan/internal/errors"
)

// Record is an instance of a Descriptor: every node placed, every link validated
// and cross-runtime links split through connectors.
//
// Two records are the same record when their UUID and flow name match, whatever
// their topology.
type Record struct {
	UUID              uuid.UUID                 `json:"uuid" yaml:"uuid"`
	Flow              string                    `json:"flow" yaml:"flow"`
	Operators         map[NodeID]OperatorRecord `json:"operators" yaml:"operators"`
	Sinks             map[NodeID]SinkRecord     `json:"sinks" yaml:"sinks"`
	Sources           map[NodeID]SourceRecord   `json:"sources" yaml:"sources"`
	Connectors        []ConnectorRecord         `json:"connectors" yaml:"connectors"`
	Links             []LinkDescriptor          `json:"links" yaml:"links"`
	EndToEndDeadlines []E2EDeadlineRecord       `json:"end_to_end_deadlines,omitempty" yaml:"end_to_end_deadlines,omitempty"`
}

// RecordKey is the identity of a record.
type RecordKey struct {
	UUID uuid.UUID
	Flow string
}

// Key returns the identity used for equality and hashing.
func (r *Record) Key() RecordKey { return RecordKey{UUID: r.UUID, Flow: r.Flow} }

// Equal compares identities only.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Key() == other.Key()
}

// RecordFromYAML decodes a record.
func RecordFromYAML(data []byte) (*Record, error) {
	var r Record
	if err := decodeYAML(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordFromJSON decodes a record.
func RecordFromJSON(data []byte) (*Record, error) {
	var r Record
	if err := decodeJSON(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ToYAML encodes the record.
func (r *Record) ToYAML() ([]byte, error) { return encodeYAML(r) }

// ToJSON encodes the record.
func (r *Record) ToJSON() ([]byte, error) { return encodeJSON(r) }

// FindConnector returns the connector with the given id.
func (r *Record) FindConnector(id NodeID) (ConnectorRecord, bool) {
	for _, c := range r.Connectors {
		if c.ID == id {
			return c, true
		}
	}
	return ConnectorRecord{}, false
}

// FindSender returns the sender connector bound to resource.
func (r *Record) FindSender(resource string) (ConnectorRecord, bool) {
	for _, c := range r.Connectors {
		if c.Kind == ConnectorSender && c.Resource == resource {
			return c, true
		}
	}
	return ConnectorRecord{}, false
}

// FindNodeRuntime returns the runtime of a node, looking at operators, sources,
// sinks and then connectors.
func (r *Record) FindNodeRuntime(id NodeID) (RuntimeID, bool) {
	if o, ok := r.Operators[id]; ok {
		return o.Runtime, true
	}
	if s, ok := r.Sources[id]; ok {
		return s.Runtime, true
	}
	if s, ok := r.Sinks[id]; ok {
		return s.Runtime, true
	}
	if c, ok := r.FindConnector(id); ok {
		return c.Runtime, true
	}
	return "", false
}

// FindNodeOutputType returns the type of an output, looking at operators then sources.
func (r *Record) FindNodeOutputType(id NodeID, output PortID) (PortType, bool) {
	if o, ok := r.Operators[id]; ok {
		return o.OutputType(output)
	}
	if s, ok := r.Sources[id]; ok {
		return s.OutputType(output)
	}
	if c, ok := r.FindConnector(id); ok {
		return c.OutputType(output)
	}
	return "", false
}

// FindNodeInputType returns the type of an input, looking at operators then sinks.
func (r *Record) FindNodeInputType(id NodeID, input PortID) (PortType, bool) {
	if o, ok := r.Operators[id]; ok {
		return o.InputType(input)
	}
	if s, ok := r.Sinks[id]; ok {
		return s.InputType(input)
	}
	if c, ok := r.FindConnector(id); ok {
		return c.InputType(input)
	}
	return "", false
}

// NodesOn returns the identifiers of every node and connector placed on runtime.
func (r *Record) NodesOn(runtime RuntimeID) []NodeID {
	var ids []NodeID
	for id, o := range r.Operators {
		if o.Runtime == runtime {
			ids = append(ids, id)
		}
	}
	for id, s := range r.Sources {
		if s.Runtime == runtime {
			ids = append(ids, id)
		}
	}
	for id, s := range r.Sinks {
		if s.Runtime == runtime {
			ids = append(ids, id)
		}
	}
	for _, c := range r.Connectors {
		if c.Runtime == runtime {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Runtimes returns every runtime the record places a node or connector on, sorted.
func (r *Record) Runtimes() []RuntimeID {
	set := make(map[RuntimeID]struct{})
	for _, o := range r.Operators {
		set[o.Runtime] = struct{}{}
	}
	for _, s := range r.Sources {
		set[s.Runtime] = struct{}{}
	}
	for _, s := range r.Sinks {
		set[s.Runtime] = struct{}{}
	}
	for _, c := range r.Connectors {
		set[c.Runtime] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// DeadlinesBoundTo returns the end-to-end deadlines checked at node.
func (r *Record) DeadlinesBoundTo(node NodeID) []E2EDeadlineRecord {
	var bound []E2EDeadlineRecord
	for _, d := range r.EndToEndDeadlines {
		if d.BoundTo(node) {
			bound = append(bound, d)
		}
	}
	return bound
}

// DeadlinesStartingAt returns the end-to-end deadlines whose clock starts at node.
func (r *Record) DeadlinesStartingAt(node NodeID) []E2EDeadlineRecord {
	var starting []E2EDeadlineRecord
	for _, d := range r.EndToEndDeadlines {
		if d.From.Node == node {
			starting = append(starting, d)
		}
	}
	return starting
}

// Validate checks the invariants of a compiled record: node identifiers are
// unique across operators, sources, sinks and connectors, and every link joins
// two resolvable ports of the same type.
func (r *Record) Validate() error {
	var errs []error
	seen := make(map[NodeID]string)
	claim := func(id NodeID, kind string) {
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("%w: %q used by %s and %s", errspkg.ErrDuplicateNode, id, prev, kind))
			return
		}
		seen[id] = kind
	}
	for id := range r.Operators {
		claim(id, "operator")
	}
	for id := range r.Sources {
		claim(id, "source")
	}
	for id := range r.Sinks {
		claim(id, "sink")
	}
	for _, c := range r.Connectors {
		claim(c.ID, "connector")
	}

	for _, l := range r.Links {
		from, ok := r.FindNodeOutputType(l.From.Node, l.From.Output)
		if !ok {
			errs = append(errs, errspkg.PortNotFoundError{Node: string(l.From.Node), Port: string(l.From.Output)})
			continue
		}
		to, ok := r.FindNodeInputType(l.To.Node, l.To.Input)
		if !ok {
			errs = append(errs, errspkg.PortNotFoundError{Node: string(l.To.Node), Port: string(l.To.Input)})
			continue
		}
		if from != to {
			errs = append(errs, errspkg.PortTypeMismatchError{From: string(from), To: string(to)})
		}
	}
	return errors.Join(errs...)
}
