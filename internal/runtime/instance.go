package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
)

// Instance is the part of a record placed on one runtime: a runner for every
// local node and connector, wired by links.
type Instance struct {
	record *model.Record
	ic     *InstanceContext
	log    loggingpkg.ServiceLogger

	runners map[model.NodeID]Runner
	fanout  *fanout

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	errs    map[model.NodeID]error
}

// NewInstance loads and initializes every node of record placed on
// rc.Runtime, creates the connector runners and attaches the local links.
// Nothing runs until Start.
func NewInstance(ctx context.Context, record *model.Record, rc RuntimeContext) (*Instance, error) {
	if record == nil {
		return nil, errors.New("record is required")
	}
	if rc.Runtime == "" {
		return nil, fmt.Errorf("%w: runtime identifier", errspkg.ErrConfigRequired)
	}

	ic := NewInstanceContext(record, rc)
	inst := &Instance{
		record:  record,
		ic:      ic,
		log:     ic.Logger.With(loggingpkg.LogFields{"flow": record.Flow, "instance": record.UUID.String(), "runtime": rc.Runtime}),
		runners: make(map[model.NodeID]Runner),
		done:    make(chan struct{}),
		errs:    make(map[model.NodeID]error),
	}
	if err := inst.build(ctx); err != nil {
		_ = inst.clean(ctx)
		return nil, err
	}
	inst.log.Debug("Instance created", loggingpkg.LogFields{"runners": len(inst.runners)})
	return inst, nil
}

func (i *Instance) local(rt model.RuntimeID) bool { return rt == i.ic.Runtime }

func (i *Instance) build(ctx context.Context) error {
	for _, id := range slices.Sorted(maps.Keys(i.record.Sources)) {
		rec := i.record.Sources[id]
		if !i.local(rec.Runtime) {
			continue
		}
		src, art, err := i.ic.Loader.LoadSource(ctx, rec.URI)
		if err != nil {
			return fmt.Errorf("source %s: %w", id, err)
		}
		r, err := NewSourceRunner(ctx, i.ic, rec, src, art)
		if err != nil {
			art.Release()
			return err
		}
		if err := i.add(ctx, r); err != nil {
			return err
		}
	}

	for _, id := range slices.Sorted(maps.Keys(i.record.Operators)) {
		rec := i.record.Operators[id]
		if !i.local(rec.Runtime) {
			continue
		}
		op, art, err := i.ic.Loader.LoadOperator(ctx, rec.URI)
		if err != nil {
			return fmt.Errorf("operator %s: %w", id, err)
		}
		r, err := NewOperatorRunner(ctx, i.ic, rec, op, art)
		if err != nil {
			art.Release()
			return err
		}
		if err := i.add(ctx, r); err != nil {
			return err
		}
	}

	for _, id := range slices.Sorted(maps.Keys(i.record.Sinks)) {
		rec := i.record.Sinks[id]
		if !i.local(rec.Runtime) {
			continue
		}
		snk, art, err := i.ic.Loader.LoadSink(ctx, rec.URI)
		if err != nil {
			return fmt.Errorf("sink %s: %w", id, err)
		}
		r, err := NewSinkRunner(ctx, i.ic, rec, snk, art)
		if err != nil {
			art.Release()
			return err
		}
		if err := i.add(ctx, r); err != nil {
			return err
		}
	}

	if err := i.buildConnectors(); err != nil {
		return err
	}
	return i.buildLinks()
}

// add registers r. A runner whose identifier is taken is cleaned and
// rejected, so it does not replace the first one nor keep its artifact.
func (i *Instance) add(ctx context.Context, r Runner) error {
	if _, dup := i.runners[r.ID()]; dup {
		_ = r.Clean(ctx)
		return fmt.Errorf("%w: %q", errspkg.ErrDuplicateNode, r.ID())
	}
	i.runners[r.ID()] = r
	return nil
}

func (i *Instance) buildConnectors() error {
	for _, rec := range i.record.Connectors {
		if !i.local(rec.Runtime) {
			continue
		}
		switch rec.Kind {
		case model.ConnectorSender:
			r, err := NewSenderRunner(i.ic, rec)
			if err != nil {
				return err
			}
			if err := i.add(context.Background(), r); err != nil {
				return err
			}
		case model.ConnectorReceiver:
			if i.fanout == nil {
				if i.ic.Transport.Subscriber == nil {
					return fmt.Errorf("%w: receiver %s needs a transport subscriber", errspkg.ErrConfigRequired, rec.ID)
				}
				i.fanout = newFanout(i.ic.Transport.Subscriber, i.log)
			}
			r, err := NewReceiverRunner(i.ic, rec, i.fanout)
			if err != nil {
				return err
			}
			if err := i.add(context.Background(), r); err != nil {
				return err
			}
			i.fanout.expect(r.Topic())
		default:
			return fmt.Errorf("connector %s: unknown kind %q", rec.ID, rec.Kind)
		}
	}
	return nil
}

func (i *Instance) buildLinks() error {
	for _, l := range i.record.Links {
		fromRT, okFrom := i.record.FindNodeRuntime(l.From.Node)
		toRT, okTo := i.record.FindNodeRuntime(l.To.Node)
		if !okFrom || !okTo {
			return errspkg.UncompletedError{Reason: fmt.Sprintf("link %s references an unknown node", l)}
		}
		fromLocal, toLocal := i.local(fromRT), i.local(toRT)
		if !fromLocal && !toLocal {
			continue
		}
		if fromLocal != toLocal {
			return errspkg.UncompletedError{Reason: fmt.Sprintf("link %s joins runtimes %s and %s without connectors", l, fromRT, toRT)}
		}

		outType, ok := i.record.FindNodeOutputType(l.From.Node, l.From.Output)
		if !ok {
			return errspkg.PortNotFoundError{Node: string(l.From.Node), Port: string(l.From.Output)}
		}
		inType, ok := i.record.FindNodeInputType(l.To.Node, l.To.Input)
		if !ok {
			return errspkg.PortNotFoundError{Node: string(l.To.Node), Port: string(l.To.Input)}
		}
		if outType != inType {
			return errspkg.PortTypeMismatchError{From: string(outType), To: string(inType)}
		}

		tx, rx := NewLink(l.To.Input, i.linkOptions(l))
		if err := i.runners[l.From.Node].AddOutput(l.From.Output, tx); err != nil {
			return fmt.Errorf("link %s: %w", l, err)
		}
		if err := i.runners[l.To.Node].AddInput(l.To.Input, rx); err != nil {
			return fmt.Errorf("link %s: %w", l, err)
		}
	}
	return nil
}

func (i *Instance) linkOptions(l model.LinkDescriptor) LinkOptions {
	opts := LinkOptions{Size: i.ic.Links.Size, Policy: i.ic.Links.Policy}
	if l.Size != nil {
		opts.Size = *l.Size
	}
	if l.QueueingPolicy != nil {
		opts.Policy = *l.QueueingPolicy
	}

	node, port := string(l.To.Node), string(l.To.Input)
	defaultDrop := i.ic.Links.OnDrop
	opts.OnDrop = func() {
		i.ic.Metrics.LinkDropped(node, port)
		if defaultDrop != nil {
			defaultDrop()
		}
	}
	return opts
}

// ID returns the instance identifier.
func (i *Instance) ID() uuid.UUID { return i.record.UUID }

// Record returns the record the instance was built from.
func (i *Instance) Record() *model.Record { return i.record }

// Runner returns the runner of a local node or connector.
func (i *Instance) Runner(id model.NodeID) (Runner, bool) {
	r, ok := i.runners[id]
	return r, ok
}

// Runners returns the identifiers of every local runner, sorted.
func (i *Instance) Runners() []model.NodeID {
	return slices.Sorted(maps.Keys(i.runners))
}

// Start subscribes the receivers, starts the transport and launches one
// goroutine per runner. Runners stop when ctx is done or Stop is called.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started || i.stopped {
		return errspkg.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if i.fanout != nil {
		if err := i.fanout.open(runCtx); err != nil {
			cancel()
			return fmt.Errorf("subscribe receivers: %w", err)
		}
	}
	if err := i.ic.Transport.Start(); err != nil {
		cancel()
		return fmt.Errorf("start transport: %w", err)
	}

	i.started = true
	i.cancel = cancel
	for _, id := range i.Runners() {
		r := i.runners[id]
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			if err := r.Run(runCtx); err != nil {
				i.mu.Lock()
				i.errs[id] = err
				i.mu.Unlock()
			}
		}()
	}
	go func() {
		i.wg.Wait()
		close(i.done)
	}()

	i.log.Info("Instance started", loggingpkg.LogFields{"runners": len(i.runners)})
	return nil
}

// Done is closed once every runner returned.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Wait blocks until every runner returned and joins their errors. It returns
// at once when the instance never started.
func (i *Instance) Wait() error {
	i.mu.Lock()
	started := i.started
	i.mu.Unlock()
	if !started {
		return nil
	}
	<-i.done
	return i.err()
}

func (i *Instance) err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	var errs []error
	for _, id := range slices.Sorted(maps.Keys(i.errs)) {
		errs = append(errs, fmt.Errorf("%s: %w", id, i.errs[id]))
	}
	return errors.Join(errs...)
}

// Stop cancels every runner, waits for them until ctx is done, then cleans
// them. It returns the runner errors joined with the cleanup errors.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return nil
	}
	i.stopped = true
	started := i.started
	cancel := i.cancel
	i.mu.Unlock()

	var errs []error
	if started {
		cancel()
		select {
		case <-i.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for runners: %w", ctx.Err()))
		}
		errs = append(errs, i.err())
	}
	errs = append(errs, i.clean(ctx))

	err := errors.Join(errs...)
	if err != nil {
		i.log.Error("Instance stopped with errors", err, nil)
	} else {
		i.log.Info("Instance stopped", nil)
	}
	return err
}

func (i *Instance) clean(ctx context.Context) error {
	var errs []error
	if i.fanout != nil {
		errs = append(errs, i.fanout.Close())
	}
	for _, id := range i.Runners() {
		errs = append(errs, i.runners[id].Clean(ctx))
	}
	return errors.Join(errs...)
}

// StartRecording starts recording on a local sender connector.
func (i *Instance) StartRecording(ctx context.Context, id model.NodeID) (string, error) {
	r, ok := i.runners[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", errspkg.ErrNodeNotFound, id)
	}
	return r.StartRecording(ctx)
}

// StopRecording stops recording on a local sender connector.
func (i *Instance) StopRecording(ctx context.Context, id model.NodeID) (string, error) {
	r, ok := i.runners[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", errspkg.ErrNodeNotFound, id)
	}
	return r.StopRecording(ctx)
}
