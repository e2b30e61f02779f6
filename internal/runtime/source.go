package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// SourceRunner polls a Source and sends what it produces on every link of
// its output.
type SourceRunner struct {
	core

	record model.SourceRecord
	source Source
	nctx   *NodeContext
	state  State
}

var _ Runner = (*SourceRunner)(nil)

// NewSourceRunner initializes src and wraps it in a runner. art, when not
// nil, is released once the runner is cleaned.
func NewSourceRunner(ctx context.Context, ic *InstanceContext, rec model.SourceRecord, src Source, art *Artifact) (*SourceRunner, error) {
	r := &SourceRunner{
		core:   newCore(ic, rec.ID, KindSource, nil, []model.PortID{rec.Output.ID}),
		record: rec,
		source: src,
	}
	r.nctx = ic.nodeContext(rec.ID, nil, r.declaredOutputs)

	state, err := src.Initialize(ctx, r.nctx, rec.Configuration)
	if err != nil {
		return nil, fmt.Errorf("initialize source %s: %w", rec.ID, err)
	}
	r.state = state
	r.artifact = art
	r.finalize = func(ctx context.Context) error { return src.Finalize(ctx, r.state) }
	return r, nil
}

func (r *SourceRunner) Run(ctx context.Context) error {
	if err := r.begin(); err != nil {
		return err
	}
	return r.end(r.loop(ctx))
}

func (r *SourceRunner) loop(ctx context.Context) error {
	var tick <-chan time.Time
	if r.record.Period != nil && *r.record.Period > 0 {
		ticker := time.NewTicker(*r.record.Period)
		defer ticker.Stop()
		tick = ticker.C
	}

	port := r.record.Output.ID
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		var data message.Data
		_, err := r.invoke(ctx, func(ctx context.Context) error {
			var err error
			data, err = r.source.Run(ctx, r.nctx, r.state)
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, errFinalized):
			return err
		case errors.Is(err, errspkg.ErrEndOfStream):
			r.log.Info("Source reached the end of its stream", nil)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errspkg.ErrFatal):
			r.userError(err)
			return fmt.Errorf("source %s: %w", r.id, err)
		default:
			r.userError(err)
			r.log.Error("Source failed to produce data", err, loggingpkg.LogFields{"port": port})
			continue
		}

		if data.IsEmpty() {
			continue
		}
		msg := message.NewData(data, r.ic.Clock.NewTimestamp())
		r.stamp(port, msg)
		if err := r.broadcast(ctx, port, msg); err != nil {
			return err
		}
	}
}
