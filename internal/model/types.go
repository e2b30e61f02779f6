package model

import (
	"fmt"
	"maps"
	"math"
	"time"
)

type (
	// NodeID identifies a node inside a flow. Identifiers double as link endpoints.
	NodeID string
	// PortID identifies an input or an output of a node.
	PortID string
	// PortType is the type tag carried by a port. Two ports connect only when their tags are equal.
	PortType string
	// RuntimeID identifies the runtime a node is placed on.
	RuntimeID string
)

// PortDescriptor is a typed port.
type PortDescriptor struct {
	ID   PortID   `json:"id" yaml:"id"`
	Type PortType `json:"type" yaml:"type"`
}

// Configuration is the free-form configuration blob handed to a node.
type Configuration map[string]any

// MergeConfigurations overlays local on top of global. Keys present in local win;
// keys only present in global are inherited. Neither argument is modified.
func MergeConfigurations(global, local Configuration) Configuration {
	switch {
	case global == nil && local == nil:
		return nil
	case global == nil:
		return maps.Clone(local)
	case local == nil:
		return maps.Clone(global)
	}
	merged := maps.Clone(global)
	maps.Copy(merged, local)
	return merged
}

// DurationDescriptor is the textual form of a duration: a length and a unit.
type DurationDescriptor struct {
	Length uint64 `json:"length" yaml:"length"`
	Unit   string `json:"unit" yaml:"unit"`
}

// ToDuration converts the descriptor. Unknown units are rejected.
func (d DurationDescriptor) ToDuration() (time.Duration, error) {
	var unit time.Duration
	switch d.Unit {
	case "ns":
		unit = time.Nanosecond
	case "us", "µs":
		unit = time.Microsecond
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m", "min":
		unit = time.Minute
	default:
		return 0, fmt.Errorf("unknown duration unit %q", d.Unit)
	}
	if d.Length > uint64(math.MaxInt64/int64(unit)) {
		return 0, fmt.Errorf("duration %d%s is out of range", d.Length, d.Unit)
	}
	return time.Duration(d.Length) * unit, nil
}

func findPort(ports []PortDescriptor, id PortID) (PortType, bool) {
	for _, p := range ports {
		if p.ID == id {
			return p.Type, true
		}
	}
	return "", false
}
