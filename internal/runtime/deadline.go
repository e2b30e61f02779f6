package runtime

import (
	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// CheckDeadline evaluates d for a message that reached node on port at now.
// It returns nil when d is bound elsewhere or was met.
func CheckDeadline(d message.E2EDeadline, node model.NodeID, port model.PortID, now hlc.Timestamp) *message.E2EDeadlineMiss {
	return d.Check(node, port, now)
}

// pendingDeadlines keeps the deadlines that are not checked at node, so they
// travel further downstream.
func pendingDeadlines(deadlines []message.E2EDeadline, node model.NodeID) []message.E2EDeadline {
	var pending []message.E2EDeadline
	for _, d := range deadlines {
		if d.To.Node != node {
			pending = append(pending, d)
		}
	}
	return pending
}
