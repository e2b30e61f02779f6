// Package message holds what travels on links: data messages carrying a
// payload, a causal timestamp and the end-to-end deadlines attached to them,
// and control messages.
package message

import (
	"github.com/drblury/flowplan/internal/runtime/hlc"
)

// Message is either a *DataMessage or a *ControlMessage.
type Message interface {
	GetTimestamp() hlc.Timestamp
	isMessage()
}

// DataMessage carries a payload produced by a source or an operator.
type DataMessage struct {
	Data                    Data
	Timestamp               hlc.Timestamp
	EndToEndDeadlines       []E2EDeadline
	MissedEndToEndDeadlines []E2EDeadlineMiss
}

// NewData wraps data in a message stamped with ts.
func NewData(data Data, ts hlc.Timestamp) *DataMessage {
	return &DataMessage{Data: data, Timestamp: ts}
}

func (m *DataMessage) GetTimestamp() hlc.Timestamp { return m.Timestamp }
func (*DataMessage) isMessage()                    {}

// Clone returns a copy that shares the payload but owns its deadline lists, so
// that each downstream hop can annotate its copy independently.
func (m *DataMessage) Clone() *DataMessage {
	out := *m
	if m.EndToEndDeadlines != nil {
		out.EndToEndDeadlines = append([]E2EDeadline(nil), m.EndToEndDeadlines...)
	}
	if m.MissedEndToEndDeadlines != nil {
		out.MissedEndToEndDeadlines = append([]E2EDeadlineMiss(nil), m.MissedEndToEndDeadlines...)
	}
	return &out
}

// ControlKind names a control signal.
type ControlKind string

const (
	ControlWatermark      ControlKind = "watermark"
	ControlRecordingStart ControlKind = "recording_start"
	ControlRecordingStop  ControlKind = "recording_stop"
)

// ControlMessage is reserved for signals that are not data.
type ControlMessage struct {
	Kind      ControlKind
	Timestamp hlc.Timestamp
}

func (m *ControlMessage) GetTimestamp() hlc.Timestamp { return m.Timestamp }
func (*ControlMessage) isMessage()                    {}
