package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// RunnerKind names what a runner drives.
type RunnerKind string

const (
	KindSource    RunnerKind = "source"
	KindOperator  RunnerKind = "operator"
	KindSink      RunnerKind = "sink"
	KindConnector RunnerKind = "connector"
)

// RunnerState is the lifecycle position of a runner.
type RunnerState int32

const (
	StateUnattached RunnerState = iota
	StateAttached
	StateRunning
	StateFinalized
)

func (s RunnerState) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("RunnerState(%d)", int32(s))
	}
}

// Runner drives one node of an instance.
type Runner interface {
	ID() model.NodeID
	Kind() RunnerKind
	State() RunnerState

	// AddInput attaches the link feeding port. The port must be declared.
	AddInput(port model.PortID, rx *LinkReceiver) error
	// AddOutput attaches one more link fed by port. The port must be declared.
	AddOutput(port model.PortID, tx *LinkSender) error

	// Inputs returns the ports with an attached input link, sorted.
	Inputs() []model.PortID
	// Outputs returns the ports with at least one attached output link, sorted.
	Outputs() []model.PortID
	// OutputLinks returns a snapshot of the attached output links.
	OutputLinks() map[model.PortID][]*LinkSender
	// TakeInputLinks detaches and returns the input links. A second call
	// returns an empty map.
	TakeInputLinks() map[model.PortID]*LinkReceiver

	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) (string, error)
	IsRecording() bool

	// Run drives the node until its inputs close, it ends its stream, ctx is
	// done or it fails. A runner runs at most once.
	Run(ctx context.Context) error
	// Clean finalizes the node state and releases its artifact. Calling it
	// again does nothing.
	Clean(ctx context.Context) error
}

// core holds what every runner shares: link bookkeeping, the lifecycle and the
// lock serialising user code with finalization.
type core struct {
	id   model.NodeID
	kind RunnerKind
	ic   *InstanceContext
	log  loggingpkg.ServiceLogger

	declaredInputs  []model.PortID
	declaredOutputs []model.PortID

	linkMu  sync.Mutex
	inputs  map[model.PortID]*LinkReceiver
	outputs map[model.PortID][]*LinkSender

	// stateMu serialises user calls with finalization. finalized is set under
	// it once the node was finalized; no user call may start after that.
	stateMu   sync.Mutex
	finalized bool

	exited chan struct{}

	lifeMu    sync.Mutex
	state     RunnerState
	started   bool
	startedAt time.Time
	finalize  func(ctx context.Context) error
	artifact  *Artifact
}

func newCore(ic *InstanceContext, id model.NodeID, kind RunnerKind, inputs, outputs []model.PortID) core {
	return core{
		id:              id,
		kind:            kind,
		ic:              ic,
		log:             ic.logger(id, kind),
		declaredInputs:  inputs,
		declaredOutputs: outputs,
		inputs:          make(map[model.PortID]*LinkReceiver),
		outputs:         make(map[model.PortID][]*LinkSender),
		exited:          make(chan struct{}),
	}
}

// errFinalized is returned by invoke once the runner was cleaned. Runners
// treat it as a clean exit.
var errFinalized = errors.New("runner finalized")

func portIDs(ports []model.PortDescriptor) []model.PortID {
	ids := make([]model.PortID, 0, len(ports))
	for _, p := range ports {
		ids = append(ids, p.ID)
	}
	return ids
}

func (c *core) ID() model.NodeID { return c.id }
func (c *core) Kind() RunnerKind { return c.kind }

func (c *core) State() RunnerState {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.state
}

func (c *core) attached() {
	c.lifeMu.Lock()
	if c.state == StateUnattached {
		c.state = StateAttached
	}
	c.lifeMu.Unlock()
}

func (c *core) AddInput(port model.PortID, rx *LinkReceiver) error {
	if c.kind == KindSource {
		return errspkg.ErrSourceDoesNotHaveInputs
	}
	if !slices.Contains(c.declaredInputs, port) {
		return errspkg.PortNotFoundError{Node: string(c.id), Port: string(port)}
	}
	c.linkMu.Lock()
	c.inputs[port] = rx
	c.linkMu.Unlock()
	c.attached()
	return nil
}

func (c *core) AddOutput(port model.PortID, tx *LinkSender) error {
	if c.kind == KindSink {
		return errspkg.ErrSinkDoesNotHaveOutputs
	}
	if !slices.Contains(c.declaredOutputs, port) {
		return errspkg.PortNotFoundError{Node: string(c.id), Port: string(port)}
	}
	c.linkMu.Lock()
	c.outputs[port] = append(c.outputs[port], tx)
	c.linkMu.Unlock()
	c.attached()
	return nil
}

func (c *core) Inputs() []model.PortID {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	ports := make([]model.PortID, 0, len(c.inputs))
	for p := range c.inputs {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	return ports
}

func (c *core) Outputs() []model.PortID {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	ports := make([]model.PortID, 0, len(c.outputs))
	for p := range c.outputs {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	return ports
}

func (c *core) OutputLinks() map[model.PortID][]*LinkSender {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	out := make(map[model.PortID][]*LinkSender, len(c.outputs))
	for p, links := range c.outputs {
		out[p] = slices.Clone(links)
	}
	return out
}

func (c *core) TakeInputLinks() map[model.PortID]*LinkReceiver {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	taken := c.inputs
	c.inputs = make(map[model.PortID]*LinkReceiver)
	return taken
}

func (c *core) inputLink(port model.PortID) (*LinkReceiver, error) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	rx, ok := c.inputs[port]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", errspkg.ErrLinkNotAttached, c.id, port)
	}
	return rx, nil
}

func (c *core) outputLinks(port model.PortID) []*LinkSender {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	return slices.Clone(c.outputs[port])
}

func (c *core) StartRecording(context.Context) (string, error) { return "", errspkg.ErrUnsupported }
func (c *core) StopRecording(context.Context) (string, error)  { return "", errspkg.ErrUnsupported }
func (c *core) IsRecording() bool                              { return false }

// begin moves the runner to Running. It fails when the runner already ran or
// was cleaned.
func (c *core) begin() error {
	c.lifeMu.Lock()
	if c.started || c.state == StateFinalized {
		c.lifeMu.Unlock()
		return errspkg.ErrAlreadyRunning
	}
	c.started = true
	c.state = StateRunning
	c.startedAt = time.Now()
	c.lifeMu.Unlock()

	c.log.Debug("Runner started", nil)
	c.ic.Hooks.start(c.info())
	return nil
}

// end closes every link of the runner so neighbours observe the exit, then
// reports it. Cancellation is a clean exit.
func (c *core) end(err error) error {
	defer close(c.exited)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errFinalized) {
		err = nil
	}
	c.closeLinks()

	info := c.info()
	info.Duration = time.Since(info.StartedAt)
	if err != nil {
		c.ic.Metrics.RunnerError(string(c.id), reasonFatal)
		c.log.Error("Runner stopped with an error", err, nil)
	} else {
		c.log.Debug("Runner stopped", nil)
	}
	c.ic.Hooks.exit(info, err)
	return err
}

func (c *core) closeLinks() {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	for _, rx := range c.inputs {
		rx.Close()
	}
	for _, links := range c.outputs {
		for _, tx := range links {
			tx.Close()
		}
	}
}

func (c *core) info() RunnerInfo {
	return RunnerInfo{
		Node:      c.id,
		Kind:      c.kind,
		Runtime:   c.ic.Runtime,
		Flow:      c.ic.Flow,
		Instance:  c.ic.Instance.String(),
		StartedAt: c.startedAt,
	}
}

// Clean waits for a started run loop to exit, bounded by ctx, then finalizes
// the node and releases its artifact. A loop still running when ctx is done
// makes no user call after finalization.
func (c *core) Clean(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.state == StateFinalized {
		c.lifeMu.Unlock()
		return nil
	}
	c.state = StateFinalized
	started := c.started
	c.lifeMu.Unlock()

	if started {
		select {
		case <-c.exited:
		case <-ctx.Done():
			c.log.Error("Finalizing a runner that is still running", ctx.Err(), nil)
		}
	}

	var err error
	c.stateMu.Lock()
	c.finalized = true
	if c.finalize != nil {
		err = c.finalize(ctx)
	}
	c.stateMu.Unlock()

	if c.artifact != nil {
		c.artifact.Release()
	}
	if err != nil {
		return fmt.Errorf("finalize %s: %w", c.id, err)
	}
	return nil
}

// arrive applies what every data message goes through when it reaches port:
// the clock learns its timestamp and the deadlines it carries for this input
// are checked. The returned message is a copy owned by the caller.
func (c *core) arrive(port model.PortID, msg *message.DataMessage) *message.DataMessage {
	if err := c.ic.Clock.Update(msg.Timestamp); err != nil {
		c.log.Error("Failed to update the clock", err, loggingpkg.LogFields{"port": port})
	}
	now := c.ic.Clock.NewTimestamp()

	out := msg.Clone()
	for _, d := range msg.EndToEndDeadlines {
		miss := CheckDeadline(d, c.id, port, now)
		if miss == nil {
			continue
		}
		out.MissedEndToEndDeadlines = append(out.MissedEndToEndDeadlines, *miss)
		c.ic.Metrics.DeadlineMissed(string(c.id), missEndToEnd)
		c.ic.Hooks.deadlineMiss(c.info(), *miss)
	}
	c.ic.Metrics.MessageReceived(string(c.id), string(port))
	return out
}

// broadcast sends a copy of msg on every link attached to port. A link closed
// by its receiver is skipped; only cancellation is returned.
func (c *core) broadcast(ctx context.Context, port model.PortID, msg *message.DataMessage) error {
	for _, tx := range c.outputLinks(port) {
		err := tx.Send(ctx, msg.Clone())
		switch {
		case err == nil:
			c.ic.Metrics.MessageSent(string(c.id), string(port))
		case errors.Is(err, errspkg.ErrLinkClosed):
			c.log.Debug("Dropping message for a closed link", loggingpkg.LogFields{"port": port, "to": tx.ID()})
		default:
			return err
		}
	}
	return nil
}

// stamp starts the clock of every deadline leaving node on port.
func (c *core) stamp(port model.PortID, msg *message.DataMessage) {
	for _, rule := range c.ic.startingDeadlines(c.id, port) {
		msg.EndToEndDeadlines = append(msg.EndToEndDeadlines, message.Stamp(rule, msg.Timestamp))
	}
}

func (c *core) userError(err error) {
	c.ic.Metrics.RunnerError(string(c.id), reasonUser)
	c.ic.Hooks.userError(c.info(), err)
}
