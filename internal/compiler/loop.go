package compiler

import (
	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
)

// rewriteLoops expands every loop into an input on the ingress, an output on the
// egress and a backward link, which is returned for materialization.
func rewriteLoops(operators map[model.NodeID]model.OperatorRecord, loops []model.LoopDescriptor) ([]model.LinkDescriptor, error) {
	links := make([]model.LinkDescriptor, 0, len(loops))
	for _, l := range loops {
		loop := l

		ingress, ok := operators[loop.Ingress]
		if !ok {
			return nil, errspkg.LoopNodeNotFoundError{Role: "ingress", Node: string(loop.Ingress)}
		}
		ingress.Inputs = append(ingress.Inputs, loop.Port())
		ingress.Loop = &loop
		operators[loop.Ingress] = ingress

		egress, ok := operators[loop.Egress]
		if !ok {
			return nil, errspkg.LoopNodeNotFoundError{Role: "egress", Node: string(loop.Egress)}
		}
		egress.Outputs = append(egress.Outputs, loop.Port())
		egress.Loop = &loop
		operators[loop.Egress] = egress

		links = append(links, model.LinkDescriptor{
			From: model.OutputDescriptor{Node: loop.Egress, Output: loop.FeedbackPort},
			To:   model.InputDescriptor{Node: loop.Ingress, Input: loop.FeedbackPort},
		})
	}
	return links, nil
}
