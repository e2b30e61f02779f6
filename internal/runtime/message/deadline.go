package message

import (
	"fmt"
	"time"

	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
)

// E2EDeadline is a deadline carried by a message. Its clock started when the
// message left From.
type E2EDeadline struct {
	From     model.OutputDescriptor
	To       model.InputDescriptor
	Duration time.Duration
	Start    hlc.Timestamp
}

// Stamp starts the clock of a compiled deadline rule.
func Stamp(rule model.E2EDeadlineRecord, start hlc.Timestamp) E2EDeadline {
	return E2EDeadline{From: rule.From, To: rule.To, Duration: rule.Duration, Start: start}
}

// Check evaluates the deadline for a message arriving at node on port at now.
// It returns nil when the deadline does not apply to that input or was met.
func (d E2EDeadline) Check(node model.NodeID, port model.PortID, now hlc.Timestamp) *E2EDeadlineMiss {
	if d.To.Node != node || d.To.Input != port {
		return nil
	}
	if now.Sub(d.Start) <= d.Duration {
		return nil
	}
	return &E2EDeadlineMiss{From: d.From, To: d.To, Start: d.Start, End: now}
}

// E2EDeadlineMiss records a deadline that was exceeded.
type E2EDeadlineMiss struct {
	From  model.OutputDescriptor
	To    model.InputDescriptor
	Start hlc.Timestamp
	End   hlc.Timestamp
}

// Elapsed is the causal time that passed between Start and End.
func (m E2EDeadlineMiss) Elapsed() time.Duration { return m.End.Sub(m.Start) }

func (m E2EDeadlineMiss) String() string {
	return fmt.Sprintf("%s => %s missed by %s", m.From, m.To, m.Elapsed())
}
