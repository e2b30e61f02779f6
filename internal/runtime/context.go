package runtime

import (
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/wire"
	"github.com/drblury/flowplan/transport"
)

const tracerName = "github.com/drblury/flowplan/runtime"

// RuntimeContext holds what every instance placed on one runtime shares.
// Zero fields get defaults when an instance is created, except Transport: a
// record that crosses runtimes cannot run without one.
type RuntimeContext struct {
	Runtime   model.RuntimeID
	Clock     *hlc.Clock
	Logger    loggingpkg.ServiceLogger
	Loader    Loader
	Transport transport.Transport
	Codec     wire.Codec
	Metrics   *Metrics
	Hooks     RunnerHooks
	Tracer    trace.Tracer
	Retry     RetryConfig

	// Links is applied to links that do not declare a size or a policy.
	Links LinkOptions
}

func (rc RuntimeContext) withDefaults() RuntimeContext {
	if rc.Clock == nil {
		rc.Clock = hlc.New(string(rc.Runtime))
	}
	if rc.Logger == nil {
		rc.Logger = loggingpkg.NewNopLogger()
	}
	if rc.Loader == nil {
		rc.Loader = DefaultRegistry
	}
	if rc.Codec == nil {
		rc.Codec = wire.JSON{}
	}
	if rc.Tracer == nil {
		rc.Tracer = otel.Tracer(tracerName)
	}
	rc.Retry = rc.Retry.withDefaults()
	return rc
}

// InstanceContext is the view of one record instance its runners share.
type InstanceContext struct {
	RuntimeContext

	Flow      string
	Instance  uuid.UUID
	Deadlines []model.E2EDeadlineRecord
}

// NewInstanceContext binds a runtime context to one record.
func NewInstanceContext(record *model.Record, rc RuntimeContext) *InstanceContext {
	return &InstanceContext{
		RuntimeContext: rc.withDefaults(),
		Flow:           record.Flow,
		Instance:       record.UUID,
		Deadlines:      record.EndToEndDeadlines,
	}
}

func (ic *InstanceContext) nodeContext(node model.NodeID, inputs, outputs []model.PortID) *NodeContext {
	return &NodeContext{
		Flow:     ic.Flow,
		Instance: ic.Instance,
		Runtime:  ic.Runtime,
		Node:     node,
		Inputs:   inputs,
		Outputs:  outputs,
		Logger:   ic.logger(node, ""),
		Clock:    ic.Clock,
	}
}

func (ic *InstanceContext) logger(node model.NodeID, kind RunnerKind) loggingpkg.ServiceLogger {
	return loggingpkg.ForNode(ic.Logger, string(node), string(kind), string(ic.Runtime), ic.Instance.String())
}

func (ic *InstanceContext) startingDeadlines(node model.NodeID, port model.PortID) []model.E2EDeadlineRecord {
	var starting []model.E2EDeadlineRecord
	for _, d := range ic.Deadlines {
		if d.StartsAt(node, port) {
			starting = append(starting, d)
		}
	}
	return starting
}
