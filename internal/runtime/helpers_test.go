package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/message"
)

const testRuntime model.RuntimeID = "rt-1"

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type logRecorder struct {
	mu   sync.Mutex
	logs []logEntry
}

// recordingLogger keeps every entry so tests can assert on what was logged.
type recordingLogger struct {
	rec    *logRecorder
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{rec: &logRecorder{}, fields: loggingpkg.LogFields{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{rec: l.rec, fields: merged}
}

func (l *recordingLogger) log(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.rec.mu.Lock()
	l.rec.logs = append(l.rec.logs, logEntry{level: level, msg: msg, err: err, fields: merged})
	l.rec.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) { l.log("debug", msg, nil, fields) }
func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields)  { l.log("info", msg, nil, fields) }
func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) { l.log("trace", msg, nil, fields) }
func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.log("error", msg, err, fields)
}

func (l *recordingLogger) entries() []logEntry {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return append([]logEntry(nil), l.rec.logs...)
}

func (l *recordingLogger) has(level, msg string) bool {
	for _, e := range l.entries() {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

func testRecord(deadlines ...model.E2EDeadlineRecord) *model.Record {
	return &model.Record{
		UUID:              uuid.New(),
		Flow:              "test-flow",
		Operators:         map[model.NodeID]model.OperatorRecord{},
		Sources:           map[model.NodeID]model.SourceRecord{},
		Sinks:             map[model.NodeID]model.SinkRecord{},
		EndToEndDeadlines: deadlines,
	}
}

// testContext returns an instance context with fresh metrics on a private
// registry so tests never share series.
func testContext(t *testing.T, deadlines ...model.E2EDeadlineRecord) *InstanceContext {
	t.Helper()
	metrics := NewMetrics("test", prometheus.NewRegistry())
	require.NoError(t, metrics.Register())
	return NewInstanceContext(testRecord(deadlines...), RuntimeContext{
		Runtime: testRuntime,
		Metrics: metrics,
		Retry:   fastRetry(),
	})
}

func intPort(id string) model.PortDescriptor {
	return model.PortDescriptor{ID: model.PortID(id), Type: "int"}
}

func dataMsg(t *testing.T, clock *hlc.Clock, v any) *message.DataMessage {
	t.Helper()
	return message.NewData(message.FromValue(v), clock.NewTimestamp())
}

// recvData receives one data message or fails the test after a second.
func recvData(t *testing.T, rx *LinkReceiver) *message.DataMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, msg, err := rx.Recv(ctx)
	require.NoError(t, err)
	data, ok := msg.(*message.DataMessage)
	require.True(t, ok, "expected a data message, got %T", msg)
	return data
}

// runAsync starts r and returns a channel delivering its result.
func runAsync(ctx context.Context, r Runner) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not return")
		return nil
	}
}

type stubSource struct {
	Stateless
	run func(ctx context.Context) (message.Data, error)
}

func (s stubSource) Run(ctx context.Context, _ *NodeContext, _ State) (message.Data, error) {
	return s.run(ctx)
}

// sliceSource emits its values in order, then ends its stream.
func sliceSource(values ...any) Source {
	var mu sync.Mutex
	i := 0
	return stubSource{run: func(context.Context) (message.Data, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(values) {
			return message.Data{}, errspkg.ErrEndOfStream
		}
		v := values[i]
		i++
		return message.FromValue(v), nil
	}}
}

// collectSink gathers every message it receives.
type collectSink struct {
	Stateless
	mu   sync.Mutex
	msgs []*message.DataMessage
	err  error
}

func (s *collectSink) Run(_ context.Context, _ *NodeContext, _ State, input *message.DataMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, input)
	return nil
}

func (s *collectSink) received() []*message.DataMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*message.DataMessage(nil), s.msgs...)
}

func (s *collectSink) values() []any {
	var out []any
	for _, m := range s.received() {
		out = append(out, m.Data.Value())
	}
	return out
}

// lifecycleNode records Initialize and Finalize calls.
type lifecycleNode struct {
	mu          sync.Mutex
	initialized int
	finalized   int
	initErr     error
	finalErr    error
	config      model.Configuration
}

func (n *lifecycleNode) Initialize(_ context.Context, _ *NodeContext, cfg model.Configuration) (State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized++
	n.config = cfg
	return n, n.initErr
}

func (n *lifecycleNode) Finalize(context.Context, State) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalized++
	return n.finalErr
}

func (n *lifecycleNode) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.initialized, n.finalized
}

type lifecycleSink struct{ *lifecycleNode }

func (lifecycleSink) Run(context.Context, *NodeContext, State, *message.DataMessage) error { return nil }
