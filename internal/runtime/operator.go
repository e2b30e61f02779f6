package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// OperatorRunner collects messages from its inputs according to its input
// policy, calls the Operator and forwards what it returns.
type OperatorRunner struct {
	core

	record   model.OperatorRecord
	operator Operator
	policy   model.InputPolicy
	nctx     *NodeContext
	state    State
}

var _ Runner = (*OperatorRunner)(nil)

// NewOperatorRunner initializes op and wraps it in a runner. art, when not
// nil, is released once the runner is cleaned.
func NewOperatorRunner(ctx context.Context, ic *InstanceContext, rec model.OperatorRecord, op Operator, art *Artifact) (*OperatorRunner, error) {
	r := &OperatorRunner{
		core:     newCore(ic, rec.ID, KindOperator, portIDs(rec.Inputs), portIDs(rec.Outputs)),
		record:   rec,
		operator: op,
		policy:   inputPolicy(rec),
	}
	r.nctx = ic.nodeContext(rec.ID, r.declaredInputs, r.declaredOutputs)

	state, err := op.Initialize(ctx, r.nctx, rec.Configuration)
	if err != nil {
		return nil, fmt.Errorf("initialize operator %s: %w", rec.ID, err)
	}
	r.state = state
	r.artifact = art
	r.finalize = func(ctx context.Context) error { return op.Finalize(ctx, r.state) }
	return r, nil
}

// inputPolicy resolves the policy of an operator. A loop ingress fires on any
// input by default: waiting for the feedback port would never fire it.
func inputPolicy(rec model.OperatorRecord) model.InputPolicy {
	if rec.InputPolicy != "" {
		return rec.InputPolicy
	}
	if rec.Loop != nil && rec.Loop.Ingress == rec.ID {
		return model.InputPolicyAny
	}
	return model.InputPolicyAll
}

// Policy returns the input policy the runner applies.
func (r *OperatorRunner) Policy() model.InputPolicy { return r.policy }

func (r *OperatorRunner) Run(ctx context.Context) error {
	if err := r.begin(); err != nil {
		return err
	}
	return r.end(r.loop(ctx))
}

type arrival struct {
	port model.PortID
	msg  message.Message
	err  error
}

// loop runs one pump per input. A pump holds at most one message of its port
// and receives the next one only once the loop consumed it, so a port that
// runs ahead of the others is held back by its link and its queueing policy.
// A closed input is reported once its link is drained.
func (r *OperatorRunner) loop(ctx context.Context) error {
	for _, port := range r.declaredInputs {
		if _, err := r.inputLink(port); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	arrivals := make(chan arrival)
	resume := make(map[model.PortID]chan struct{}, len(r.declaredInputs))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, port := range r.declaredInputs {
		next := make(chan struct{}, 1)
		resume[port] = next
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.pump(ctx, port, arrivals, next)
		}()
	}

	open := len(r.declaredInputs)
	tokens := make(map[model.PortID]*message.DataMessage, open)
	for {
		var a arrival
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a = <-arrivals:
		}

		if a.err != nil {
			if !errors.Is(a.err, errspkg.ErrLinkClosed) {
				return a.err
			}
			open--
			if r.policy == model.InputPolicyAll || open == 0 {
				if len(tokens) > 0 {
					r.log.Debug("Discarding inputs that can no longer fire", loggingpkg.LogFields{"closed": a.port, "pending": len(tokens)})
				}
				return nil
			}
			continue
		}

		data, ok := a.msg.(*message.DataMessage)
		if !ok {
			return fmt.Errorf("operator %s: control messages: %w", r.id, errspkg.ErrUnimplemented)
		}
		tokens[a.port] = r.arrive(a.port, data)

		if r.policy == model.InputPolicyAll && len(tokens) < len(r.declaredInputs) {
			continue
		}
		fired := tokens
		tokens = make(map[model.PortID]*message.DataMessage, len(r.declaredInputs))
		if err := r.fire(ctx, fired); err != nil {
			return err
		}
		for port := range fired {
			resume[port] <- struct{}{}
		}
	}
}

// pump feeds port into arrivals, one message at a time. The link is looked up
// before every receive, so a link taken from the runner ends it.
func (r *OperatorRunner) pump(ctx context.Context, port model.PortID, arrivals chan<- arrival, resume <-chan struct{}) {
	for {
		rx, err := r.inputLink(port)
		var msg message.Message
		if err == nil {
			_, msg, err = rx.Recv(ctx)
		}
		select {
		case arrivals <- arrival{port: port, msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
		select {
		case <-resume:
		case <-ctx.Done():
			return
		}
	}
}

func (r *OperatorRunner) fire(ctx context.Context, inputs map[model.PortID]*message.DataMessage) error {
	var (
		misses  []message.E2EDeadlineMiss
		carried []message.E2EDeadline
		seen    = make(map[message.E2EDeadline]struct{})
	)
	for _, port := range slices.Sorted(maps.Keys(inputs)) {
		in := inputs[port]
		misses = append(misses, in.MissedEndToEndDeadlines...)
		for _, d := range pendingDeadlines(in.EndToEndDeadlines, r.id) {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			carried = append(carried, d)
		}
	}

	var outputs map[model.PortID]message.Data
	elapsed, err := r.invoke(ctx, func(ctx context.Context) error {
		var err error
		outputs, err = r.operator.Run(ctx, r.nctx, r.state, inputs)
		return err
	})
	if err != nil {
		if errors.Is(err, errFinalized) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.userError(err)
		return fmt.Errorf("operator %s: %w", r.id, err)
	}
	r.checkComputationDeadline(elapsed)

	for _, port := range slices.Sorted(maps.Keys(outputs)) {
		if !slices.Contains(r.declaredOutputs, port) {
			return errspkg.PortNotFoundError{Node: string(r.id), Port: string(port)}
		}
		data := outputs[port]
		if data.IsEmpty() {
			continue
		}
		msg := message.NewData(data, r.ic.Clock.NewTimestamp())
		msg.EndToEndDeadlines = slices.Clone(carried)
		msg.MissedEndToEndDeadlines = slices.Clone(misses)
		r.stamp(port, msg)
		if err := r.broadcast(ctx, port, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *OperatorRunner) checkComputationDeadline(elapsed time.Duration) {
	if r.record.Deadline == nil || elapsed <= *r.record.Deadline {
		return
	}
	r.log.Info("Operator exceeded its computation deadline", loggingpkg.LogFields{
		"deadline": r.record.Deadline.String(),
		"elapsed":  elapsed.String(),
	})
	r.ic.Metrics.DeadlineMissed(string(r.id), missLocal)
	info := r.info()
	info.Duration = elapsed
	r.ic.Hooks.localDeadlineMiss(info)
}
