package runtime

import (
	"context"
	"fmt"
	"maps"
	"slices"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// Names of the nodes available in every registry built with RegisterBuiltins.
const (
	BuiltinCounter     = "counter"
	BuiltinPassthrough = "passthrough"
	BuiltinPrinter     = "printer"
)

func init() {
	RegisterBuiltins(DefaultRegistry)
}

// RegisterBuiltins adds the built-in nodes to r.
func RegisterBuiltins(r *Registry) {
	r.RegisterSource(BuiltinURI(BuiltinCounter), func() Source { return counterSource{} })
	r.RegisterOperator(BuiltinURI(BuiltinPassthrough), func() Operator { return passthroughOperator{} })
	r.RegisterSink(BuiltinURI(BuiltinPrinter), func() Sink { return printerSink{} })
}

// counterSource emits start, start+step, ... and ends its stream after limit
// values when limit is positive.
type counterSource struct{}

type counterState struct {
	next    int64
	step    int64
	limit   int64
	emitted int64
}

func (counterSource) Initialize(_ context.Context, _ *NodeContext, cfg model.Configuration) (State, error) {
	start, err := configInt(cfg, "start", 0)
	if err != nil {
		return nil, err
	}
	step, err := configInt(cfg, "step", 1)
	if err != nil {
		return nil, err
	}
	limit, err := configInt(cfg, "limit", 0)
	if err != nil {
		return nil, err
	}
	return &counterState{next: start, step: step, limit: limit}, nil
}

func (counterSource) Finalize(context.Context, State) error { return nil }

func (counterSource) Run(_ context.Context, _ *NodeContext, state State) (message.Data, error) {
	s := state.(*counterState)
	if s.limit > 0 && s.emitted >= s.limit {
		return message.Data{}, errspkg.ErrEndOfStream
	}
	v := s.next
	s.next += s.step
	s.emitted++
	return message.FromValue(v), nil
}

// passthroughOperator forwards the first input, by port order, on every output.
type passthroughOperator struct{ Stateless }

func (passthroughOperator) Run(_ context.Context, nctx *NodeContext, _ State, inputs map[model.PortID]*message.DataMessage) (map[model.PortID]message.Data, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	first := inputs[slices.Min(slices.Collect(maps.Keys(inputs)))]
	out := make(map[model.PortID]message.Data, len(nctx.Outputs))
	for _, port := range nctx.Outputs {
		out[port] = first.Data
	}
	return out, nil
}

// printerSink logs every payload it receives.
type printerSink struct{ Stateless }

func (printerSink) Run(_ context.Context, nctx *NodeContext, _ State, input *message.DataMessage) error {
	payload, err := input.Data.Bytes()
	if err != nil {
		return err
	}
	nctx.Logger.Info("Received data", loggingpkg.LogFields{
		"payload":         string(payload),
		"timestamp":       input.Timestamp.String(),
		"missed_deadline": len(input.MissedEndToEndDeadlines),
	})
	return nil
}

// configInt reads an integer from a configuration decoded from YAML or JSON,
// where numbers arrive as int, int64, uint64 or float64.
func configInt(cfg model.Configuration, key string, def int64) (int64, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("configuration %q: %v is not an integer", key, v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("configuration %q: unexpected %T", key, raw)
	}
}
