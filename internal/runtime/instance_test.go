package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/transport"
)

const collectURI = "test://collect"

const secondRuntime model.RuntimeID = "rt-2"

// collectRegistry is a registry holding the builtins plus a sink URI whose
// nodes all append to the same collector.
type collectRegistry struct {
	*Registry
	mu    sync.Mutex
	sinks []*collectSink
	err   error
}

func newCollectRegistry() *collectRegistry {
	r := &collectRegistry{Registry: NewRegistry()}
	RegisterBuiltins(r.Registry)
	r.RegisterSink(collectURI, func() Sink {
		r.mu.Lock()
		defer r.mu.Unlock()
		s := &collectSink{err: r.err}
		r.sinks = append(r.sinks, s)
		return s
	})
	return r
}

func (r *collectRegistry) received() []int64 {
	r.mu.Lock()
	sinks := append([]*collectSink(nil), r.sinks...)
	r.mu.Unlock()
	var out []int64
	for _, s := range sinks {
		for _, msg := range s.received() {
			var v int64
			if err := msg.Data.Decode(&v); err == nil {
				out = append(out, v)
			}
		}
	}
	return out
}

func linkDesc(from, out, to, in string) model.LinkDescriptor {
	return model.LinkDescriptor{
		From: model.OutputDescriptor{Node: model.NodeID(from), Output: model.PortID(out)},
		To:   model.InputDescriptor{Node: model.NodeID(to), Input: model.PortID(in)},
	}
}

// pipelineRecord is counter -> passthrough -> collect, all on rt-1.
func pipelineRecord(limit int) *model.Record {
	rec := testRecord()
	rec.Sources["src"] = model.SourceRecord{
		ID:            "src",
		Output:        intPort("out"),
		URI:           BuiltinURI(BuiltinCounter),
		Configuration: model.Configuration{"limit": limit},
		Runtime:       testRuntime,
	}
	rec.Operators["op"] = model.OperatorRecord{
		ID:      "op",
		Inputs:  []model.PortDescriptor{intPort("in")},
		Outputs: []model.PortDescriptor{intPort("out")},
		URI:     BuiltinURI(BuiltinPassthrough),
		Runtime: testRuntime,
	}
	rec.Sinks["snk"] = model.SinkRecord{ID: "snk", Input: intPort("in"), URI: collectURI, Runtime: testRuntime}
	rec.Links = []model.LinkDescriptor{linkDesc("src", "out", "op", "in"), linkDesc("op", "out", "snk", "in")}
	return rec
}

// splitRecord is counter on rt-1 feeding collect on rt-2 through a connector pair.
func splitRecord(limit int) *model.Record {
	const resource = "/zf/data/test-flow/split/src/out"
	rec := testRecord()
	rec.Sources["src"] = model.SourceRecord{
		ID:            "src",
		Output:        intPort("out"),
		URI:           BuiltinURI(BuiltinCounter),
		Configuration: model.Configuration{"limit": limit},
		Runtime:       testRuntime,
	}
	rec.Sinks["snk"] = model.SinkRecord{ID: "snk", Input: intPort("in"), URI: collectURI, Runtime: secondRuntime}
	rec.Connectors = []model.ConnectorRecord{
		{Kind: model.ConnectorSender, ID: "src-tx", Resource: resource, Link: intPort("in"), Runtime: testRuntime},
		{Kind: model.ConnectorReceiver, ID: "snk-rx", Resource: resource, Link: intPort("out"), Runtime: secondRuntime},
	}
	rec.Links = []model.LinkDescriptor{linkDesc("src", "out", "src-tx", "in"), linkDesc("snk-rx", "out", "snk", "in")}
	return rec
}

func runtimeContext(t *testing.T, rt model.RuntimeID, loader Loader, tr transport.Transport) RuntimeContext {
	t.Helper()
	metrics := NewMetrics("test", prometheus.NewRegistry())
	require.NoError(t, metrics.Register())
	return RuntimeContext{Runtime: rt, Loader: loader, Transport: tr, Metrics: metrics, Retry: fastRetry()}
}

func waitInstance(t *testing.T, inst *Instance) error {
	t.Helper()
	select {
	case <-inst.Done():
		return inst.Wait()
	case <-time.After(2 * time.Second):
		t.Fatal("instance did not finish")
		return nil
	}
}

func TestInstanceLocalPipeline(t *testing.T) {
	t.Parallel()

	reg := newCollectRegistry()
	inst, err := NewInstance(context.Background(), pipelineRecord(3), runtimeContext(t, testRuntime, reg, transport.Transport{}))
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"op", "snk", "src"}, inst.Runners())

	op, ok := inst.Runner("op")
	require.True(t, ok)
	assert.Equal(t, StateAttached, op.State())

	require.NoError(t, inst.Start(context.Background()))
	assert.ErrorIs(t, inst.Start(context.Background()), errspkg.ErrAlreadyRunning)
	require.NoError(t, waitInstance(t, inst))
	assert.Equal(t, []int64{0, 1, 2}, reg.received())

	assert.True(t, reg.Loaded(collectURI))
	require.NoError(t, inst.Stop(context.Background()))
	require.NoError(t, inst.Stop(context.Background()))
	assert.False(t, reg.Loaded(collectURI), "stopping releases every artifact")
	assert.False(t, reg.Loaded(BuiltinURI(BuiltinCounter)))
	assert.Equal(t, StateFinalized, op.State())
}

func TestInstanceAcrossRuntimes(t *testing.T) {
	t.Parallel()

	tr := channelTransport(t)
	reg := newCollectRegistry()
	record := splitRecord(5)

	downstream, err := NewInstance(context.Background(), record, runtimeContext(t, secondRuntime, reg, tr))
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"snk", "snk-rx"}, downstream.Runners())
	upstream, err := NewInstance(context.Background(), record, runtimeContext(t, testRuntime, reg, tr))
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"src", "src-tx"}, upstream.Runners())

	require.NoError(t, downstream.Start(context.Background()))
	rx, _ := downstream.Runner("snk-rx")
	select {
	case <-rx.(*ReceiverRunner).Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not subscribe")
	}
	require.NoError(t, upstream.Start(context.Background()))
	require.NoError(t, waitInstance(t, upstream), "the upstream half ends with its source")

	assert.Eventually(t, func() bool { return len(reg.received()) == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reg.received())

	require.NoError(t, downstream.Stop(context.Background()))
	require.NoError(t, upstream.Stop(context.Background()))
}

func TestInstanceRecording(t *testing.T) {
	t.Parallel()

	tr := channelTransport(t)
	inst, err := NewInstance(context.Background(), splitRecord(1), runtimeContext(t, testRuntime, newCollectRegistry(), tr))
	require.NoError(t, err)
	defer inst.Stop(context.Background())

	resource, err := inst.StartRecording(context.Background(), "src-tx")
	require.NoError(t, err)
	assert.Contains(t, resource, "/zf/record/test-flow/")
	stopped, err := inst.StopRecording(context.Background(), "src-tx")
	require.NoError(t, err)
	assert.Equal(t, resource, stopped)

	_, err = inst.StartRecording(context.Background(), "src")
	assert.ErrorIs(t, err, errspkg.ErrUnsupported)
	_, err = inst.StartRecording(context.Background(), "missing")
	assert.ErrorIs(t, err, errspkg.ErrNodeNotFound)
}

func TestInstanceRunnerErrorsAreJoined(t *testing.T) {
	t.Parallel()

	reg := newCollectRegistry()
	boom := errors.New("sink broke")
	reg.err = boom
	inst, err := NewInstance(context.Background(), pipelineRecord(3), runtimeContext(t, testRuntime, reg, transport.Transport{}))
	require.NoError(t, err)
	require.NoError(t, inst.Start(context.Background()))

	err = waitInstance(t, inst)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "snk: ")

	err = inst.Stop(context.Background())
	assert.ErrorIs(t, err, boom, "stop reports what the runners returned")
}

func TestInstanceStopWithoutStart(t *testing.T) {
	t.Parallel()

	reg := newCollectRegistry()
	inst, err := NewInstance(context.Background(), pipelineRecord(1), runtimeContext(t, testRuntime, reg, transport.Transport{}))
	require.NoError(t, err)

	assert.NoError(t, inst.Wait(), "an instance that never started has nothing to wait for")
	require.NoError(t, inst.Stop(context.Background()))
	assert.False(t, reg.Loaded(collectURI))
	assert.ErrorIs(t, inst.Start(context.Background()), errspkg.ErrAlreadyRunning)
}

func TestInstanceStopCancelsRunners(t *testing.T) {
	t.Parallel()

	rec := pipelineRecord(0)
	src := rec.Sources["src"]
	period := time.Millisecond
	src.Period = &period
	rec.Sources["src"] = src
	inst, err := NewInstance(context.Background(), rec, runtimeContext(t, testRuntime, newCollectRegistry(), transport.Transport{}))
	require.NoError(t, err)
	require.NoError(t, inst.Start(context.Background()))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, inst.Stop(context.Background()), "cancelled runners exit cleanly")
	select {
	case <-inst.Done():
	default:
		t.Fatal("runners still running after Stop")
	}
}

func TestNewInstanceErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("nil record", func(t *testing.T) {
		_, err := NewInstance(ctx, nil, runtimeContext(t, testRuntime, nil, transport.Transport{}))
		assert.Error(t, err)
	})

	t.Run("no runtime", func(t *testing.T) {
		_, err := NewInstance(ctx, pipelineRecord(1), RuntimeContext{})
		assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
	})

	t.Run("unknown uri", func(t *testing.T) {
		rec := pipelineRecord(1)
		snk := rec.Sinks["snk"]
		snk.URI = "test://missing"
		rec.Sinks["snk"] = snk
		reg := newCollectRegistry()

		_, err := NewInstance(ctx, rec, runtimeContext(t, testRuntime, reg, transport.Transport{}))
		assert.ErrorIs(t, err, errspkg.ErrArtifactNotFound)
		assert.False(t, reg.Loaded(BuiltinURI(BuiltinCounter)), "nodes built before the failure are released")
	})

	t.Run("type mismatch", func(t *testing.T) {
		rec := pipelineRecord(1)
		snk := rec.Sinks["snk"]
		snk.Input.Type = "string"
		rec.Sinks["snk"] = snk

		_, err := NewInstance(ctx, rec, runtimeContext(t, testRuntime, newCollectRegistry(), transport.Transport{}))
		var mismatch errspkg.PortTypeMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "int", mismatch.From)
		assert.Equal(t, "string", mismatch.To)
	})

	t.Run("link across runtimes", func(t *testing.T) {
		rec := pipelineRecord(1)
		snk := rec.Sinks["snk"]
		snk.Runtime = secondRuntime
		rec.Sinks["snk"] = snk

		_, err := NewInstance(ctx, rec, runtimeContext(t, testRuntime, newCollectRegistry(), transport.Transport{}))
		assert.ErrorIs(t, err, errspkg.ErrUncompleted)
	})

	t.Run("unknown node", func(t *testing.T) {
		rec := pipelineRecord(1)
		rec.Links = append(rec.Links, linkDesc("ghost", "out", "snk", "in"))

		_, err := NewInstance(ctx, rec, runtimeContext(t, testRuntime, newCollectRegistry(), transport.Transport{}))
		assert.ErrorIs(t, err, errspkg.ErrUncompleted)
	})

	t.Run("identifier shared by a source and a sink", func(t *testing.T) {
		rec := pipelineRecord(1)
		rec.Sinks["src"] = model.SinkRecord{ID: "src", Input: intPort("in"), URI: collectURI, Runtime: testRuntime}
		reg := newCollectRegistry()
		var unloaded []string
		reg.OnUnload(func(uri string) { unloaded = append(unloaded, uri) })

		_, err := NewInstance(ctx, rec, runtimeContext(t, testRuntime, reg, transport.Transport{}))
		assert.ErrorIs(t, err, errspkg.ErrDuplicateNode)
		assert.ElementsMatch(t, []string{BuiltinURI(BuiltinCounter), BuiltinURI(BuiltinPassthrough), collectURI}, unloaded,
			"every loaded node is released")
	})

	t.Run("receiver without transport", func(t *testing.T) {
		_, err := NewInstance(ctx, splitRecord(1), runtimeContext(t, secondRuntime, newCollectRegistry(), transport.Transport{}))
		assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
	})
}
