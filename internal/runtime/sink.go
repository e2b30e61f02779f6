package runtime

import (
	"context"
	"errors"
	"fmt"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// SinkRunner hands every message of its single input to a Sink.
type SinkRunner struct {
	core

	record model.SinkRecord
	sink   Sink
	nctx   *NodeContext
	state  State
}

var _ Runner = (*SinkRunner)(nil)

// NewSinkRunner initializes snk and wraps it in a runner. art, when not nil,
// is released once the runner is cleaned.
func NewSinkRunner(ctx context.Context, ic *InstanceContext, rec model.SinkRecord, snk Sink, art *Artifact) (*SinkRunner, error) {
	r := &SinkRunner{
		core:   newCore(ic, rec.ID, KindSink, []model.PortID{rec.Input.ID}, nil),
		record: rec,
		sink:   snk,
	}
	r.nctx = ic.nodeContext(rec.ID, r.declaredInputs, nil)

	state, err := snk.Initialize(ctx, r.nctx, rec.Configuration)
	if err != nil {
		return nil, fmt.Errorf("initialize sink %s: %w", rec.ID, err)
	}
	r.state = state
	r.artifact = art
	r.finalize = func(ctx context.Context) error { return snk.Finalize(ctx, r.state) }
	return r, nil
}

func (r *SinkRunner) Run(ctx context.Context) error {
	if err := r.begin(); err != nil {
		return err
	}
	return r.end(r.loop(ctx))
}

// loop looks the link up under the link lock on every iteration but receives
// with no lock held, so Clean and link introspection never wait on traffic.
func (r *SinkRunner) loop(ctx context.Context) error {
	port := r.record.Input.ID
	for {
		rx, err := r.inputLink(port)
		if err != nil {
			return err
		}

		_, msg, err := rx.Recv(ctx)
		if errors.Is(err, errspkg.ErrLinkClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		data, ok := msg.(*message.DataMessage)
		if !ok {
			return fmt.Errorf("sink %s: control messages: %w", r.id, errspkg.ErrUnimplemented)
		}
		in := r.arrive(port, data)

		_, err = r.invoke(ctx, func(ctx context.Context) error {
			return r.sink.Run(ctx, r.nctx, r.state, in)
		})
		if err != nil {
			if errors.Is(err, errFinalized) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.userError(err)
			return fmt.Errorf("sink %s: %w", r.id, err)
		}
	}
}
