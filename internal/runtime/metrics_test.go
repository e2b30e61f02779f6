package runtime

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("flowplan", reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := NewMetrics("flowplan", reg)
	require.NoError(t, other.Register(), "a second set on the same registry is tolerated")
}

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics("flowplan", prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.MessageReceived("snk", "in")
	m.MessageReceived("snk", "in")
	m.MessageSent("src", "out")
	m.DeadlineMissed("snk", missEndToEnd)
	m.RunnerError("op", reasonUser)
	m.LinkDropped("snk", "in")
	m.ObserveUserCode("op", string(KindOperator), 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.received.WithLabelValues("snk", "in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("src", "out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadlineMisses.WithLabelValues("snk", missEndToEnd)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runnerErrors.WithLabelValues("op", reasonUser)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linkDrops.WithLabelValues("snk", "in")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.userDuration))

	m.Reset()
	assert.Zero(t, testutil.CollectAndCount(m.received))
}

func TestMetricsNames(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("", reg)
	require.NoError(t, m.Register())
	m.RunnerError("src", reasonFatal)

	expected := `
# HELP flowplan_runtime_runner_errors_total Errors returned by user code or stopping a runner
# TYPE flowplan_runtime_runner_errors_total counter
flowplan_runtime_runner_errors_total{node="src",reason="fatal"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "flowplan_runtime_runner_errors_total"))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		assert.NoError(t, m.Register())
		m.MessageReceived("n", "p")
		m.MessageSent("n", "p")
		m.DeadlineMissed("n", missLocal)
		m.RunnerError("n", reasonFatal)
		m.LinkDropped("n", "p")
		m.ObserveUserCode("n", "sink", time.Millisecond)
		m.Reset()
	})
}
