package model

import (
	"fmt"
	"time"
)

// E2EDeadlineDescriptor bounds the causal time between a message leaving From and arriving at To.
type E2EDeadlineDescriptor struct {
	From     OutputDescriptor   `json:"from" yaml:"from"`
	To       InputDescriptor    `json:"to" yaml:"to"`
	Duration DurationDescriptor `json:"duration" yaml:"duration"`
}

// E2EDeadlineRecord is the compiled form of an end-to-end deadline.
type E2EDeadlineRecord struct {
	From     OutputDescriptor `json:"from" yaml:"from"`
	To       InputDescriptor  `json:"to" yaml:"to"`
	Duration time.Duration    `json:"duration" yaml:"duration"`
}

// ToRecord converts the descriptor, failing on an unknown duration unit.
func (d E2EDeadlineDescriptor) ToRecord() (E2EDeadlineRecord, error) {
	duration, err := d.Duration.ToDuration()
	if err != nil {
		return E2EDeadlineRecord{}, fmt.Errorf("deadline %s => %s: %w", d.From, d.To, err)
	}
	return E2EDeadlineRecord{From: d.From, To: d.To, Duration: duration}, nil
}

// BoundTo reports whether the deadline is checked when a message reaches the given node.
func (r E2EDeadlineRecord) BoundTo(node NodeID) bool {
	return r.To.Node == node
}

// StartsAt reports whether the deadline clock starts when a message leaves the given output.
func (r E2EDeadlineRecord) StartsAt(node NodeID, output PortID) bool {
	return r.From.Node == node && r.From.Output == output
}
