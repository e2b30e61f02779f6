package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Deadline miss kinds used as metric label values.
const (
	missEndToEnd = "e2e"
	missLocal    = "local"
)

// Runner error reasons used as metric label values.
const (
	reasonUser  = "user"
	reasonFatal = "fatal"
)

// Metrics counts what runners do. A nil *Metrics records nothing, so runners
// call it unconditionally.
type Metrics struct {
	mu sync.Mutex

	received       *prometheus.CounterVec
	sent           *prometheus.CounterVec
	deadlineMisses *prometheus.CounterVec
	runnerErrors   *prometheus.CounterVec
	linkDrops      *prometheus.CounterVec
	userDuration   *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newRuntimeCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newRuntimeHistogramVec(namespace, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewMetrics creates the runtime collectors under namespace. A nil registerer
// selects prometheus.DefaultRegisterer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "flowplan"
	}
	return &Metrics{
		registerer:     registerer,
		received:       newRuntimeCounterVec(namespace, "messages_received_total", "Messages received by a node on an input", []string{"node", "port"}),
		sent:           newRuntimeCounterVec(namespace, "messages_sent_total", "Messages sent by a node on an output", []string{"node", "port"}),
		deadlineMisses: newRuntimeCounterVec(namespace, "deadline_misses_total", "Deadlines missed at a node", []string{"node", "kind"}),
		runnerErrors:   newRuntimeCounterVec(namespace, "runner_errors_total", "Errors returned by user code or stopping a runner", []string{"node", "reason"}),
		linkDrops:      newRuntimeCounterVec(namespace, "link_drops_total", "Messages discarded by a full link", []string{"node", "port"}),
		userDuration:   newRuntimeHistogramVec(namespace, "user_duration_seconds", "Time spent in user code per invocation", prometheus.DefBuckets, []string{"node", "kind"}),
	}
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.received,
		m.sent,
		m.deadlineMisses,
		m.runnerErrors,
		m.linkDrops,
		m.userDuration,
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range m.Collectors() {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// MessageReceived counts a message arriving at node on port.
func (m *Metrics) MessageReceived(node, port string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(node, port).Inc()
}

// MessageSent counts a message leaving node on port, once per link.
func (m *Metrics) MessageSent(node, port string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(node, port).Inc()
}

// DeadlineMissed counts an end-to-end or local deadline miss.
func (m *Metrics) DeadlineMissed(node, kind string) {
	if m == nil {
		return
	}
	m.deadlineMisses.WithLabelValues(node, kind).Inc()
}

// RunnerError counts an error at node. reason is "user" for errors returned
// by user code and "fatal" for errors that stopped the runner.
func (m *Metrics) RunnerError(node, reason string) {
	if m == nil {
		return
	}
	m.runnerErrors.WithLabelValues(node, reason).Inc()
}

// LinkDropped counts a message discarded on the link delivering to node's port.
func (m *Metrics) LinkDropped(node, port string) {
	if m == nil {
		return
	}
	m.linkDrops.WithLabelValues(node, port).Inc()
}

// ObserveUserCode records how long one user invocation took.
func (m *Metrics) ObserveUserCode(node, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.userDuration.WithLabelValues(node, kind).Observe(d.Seconds())
}

// Reset clears every series (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.received.Reset()
	m.sent.Reset()
	m.deadlineMisses.Reset()
	m.runnerErrors.Reset()
	m.linkDrops.Reset()
	m.userDuration.Reset()
}
