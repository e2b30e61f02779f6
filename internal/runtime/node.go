package runtime

import (
	"context"

	"github.com/google/uuid"

	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// State is whatever a node keeps between invocations. The runner hands it back
// to every Run call and to Finalize, and never looks inside.
type State any

// NodeContext tells user code where it runs.
type NodeContext struct {
	Flow     string
	Instance uuid.UUID
	Runtime  model.RuntimeID
	Node     model.NodeID
	Inputs   []model.PortID
	Outputs  []model.PortID
	Logger   loggingpkg.ServiceLogger
	Clock    *hlc.Clock
}

// Node is the lifecycle shared by sources, operators and sinks.
type Node interface {
	Initialize(ctx context.Context, nctx *NodeContext, cfg model.Configuration) (State, error)
	Finalize(ctx context.Context, state State) error
}

// Source produces data without inputs. Returning an error wrapping
// ErrEndOfStream stops the source cleanly; ErrFatal stops it with an error.
// Any other error is logged and the source is polled again.
type Source interface {
	Node
	Run(ctx context.Context, nctx *NodeContext, state State) (message.Data, error)
}

// Operator computes outputs from the inputs that fired it. Only ports present
// in the returned map are forwarded.
type Operator interface {
	Node
	Run(ctx context.Context, nctx *NodeContext, state State, inputs map[model.PortID]*message.DataMessage) (map[model.PortID]message.Data, error)
}

// Sink consumes data without outputs.
type Sink interface {
	Node
	Run(ctx context.Context, nctx *NodeContext, state State, input *message.DataMessage) error
}

// Stateless provides no-op Initialize and Finalize for nodes without state.
type Stateless struct{}

func (Stateless) Initialize(context.Context, *NodeContext, model.Configuration) (State, error) {
	return nil, nil
}

func (Stateless) Finalize(context.Context, State) error { return nil }

// SourceFunc adapts a function to a stateless Source.
type SourceFunc func(ctx context.Context, nctx *NodeContext) (message.Data, error)

func (SourceFunc) Initialize(context.Context, *NodeContext, model.Configuration) (State, error) {
	return nil, nil
}

func (SourceFunc) Finalize(context.Context, State) error { return nil }

func (f SourceFunc) Run(ctx context.Context, nctx *NodeContext, _ State) (message.Data, error) {
	return f(ctx, nctx)
}

// OperatorFunc adapts a function to a stateless Operator.
type OperatorFunc func(ctx context.Context, nctx *NodeContext, inputs map[model.PortID]*message.DataMessage) (map[model.PortID]message.Data, error)

func (OperatorFunc) Initialize(context.Context, *NodeContext, model.Configuration) (State, error) {
	return nil, nil
}

func (OperatorFunc) Finalize(context.Context, State) error { return nil }

func (f OperatorFunc) Run(ctx context.Context, nctx *NodeContext, _ State, inputs map[model.PortID]*message.DataMessage) (map[model.PortID]message.Data, error) {
	return f(ctx, nctx, inputs)
}

// SinkFunc adapts a function to a stateless Sink.
type SinkFunc func(ctx context.Context, nctx *NodeContext, input *message.DataMessage) error

func (SinkFunc) Initialize(context.Context, *NodeContext, model.Configuration) (State, error) {
	return nil, nil
}

func (SinkFunc) Finalize(context.Context, State) error { return nil }

func (f SinkFunc) Run(ctx context.Context, nctx *NodeContext, _ State, input *message.DataMessage) error {
	return f(ctx, nctx, input)
}
