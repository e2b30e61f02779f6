package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// invoke runs user code under the state lock inside a span and reports how
// long it took. It returns errFinalized without calling fn once the runner
// was cleaned.
func (c *core) invoke(ctx context.Context, fn func(ctx context.Context) error) (time.Duration, error) {
	ctx, span := c.ic.Tracer.Start(ctx, string(c.kind)+".run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("flowplan.flow", c.ic.Flow),
			attribute.String("flowplan.instance", c.ic.Instance.String()),
			attribute.String("flowplan.runtime", string(c.ic.Runtime)),
			attribute.String("flowplan.node", string(c.id)),
		),
	)
	defer span.End()

	c.stateMu.Lock()
	if c.finalized {
		c.stateMu.Unlock()
		return 0, errFinalized
	}
	start := time.Now()
	err := fn(ctx)
	c.stateMu.Unlock()
	elapsed := time.Since(start)

	c.ic.Metrics.ObserveUserCode(string(c.id), string(c.kind), elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return elapsed, err
}
