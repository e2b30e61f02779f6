package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/flowplan/internal/model"
	configpkg "github.com/drblury/flowplan/internal/runtime/config"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/wire"
	"github.com/drblury/flowplan/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	// Loader resolves node URIs. Nil uses DefaultRegistry.
	Loader Loader
	// Registerer receives the runtime collectors. Nil uses prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Gatherer backs MetricsHandler. Nil uses Registerer when it is a
	// *prometheus.Registry and prometheus.DefaultGatherer otherwise.
	Gatherer prometheus.Gatherer
	// Transports builds the transport named by the config. Nil uses transport.DefaultRegistry.
	Transports *transport.Registry
	// Transport, when set, is used as is instead of building one. Services in
	// one process share a channel transport this way. It is not closed by Close.
	Transport *transport.Transport
	Hooks     RunnerHooks
	Tracer    trace.Tracer
}

// Service runs the record instances placed on one runtime. It owns the
// runtime-wide clock, transport and metrics every instance shares.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	rc            RuntimeContext
	transport     transport.Transport
	ownsTransport bool
	gatherer      prometheus.Gatherer
	usage         *usageSampler

	mu        sync.Mutex
	instances map[uuid.UUID]*Instance
	closed    bool
}

// NewService validates conf and builds the transport, clock, codec and
// metrics of the runtime it names.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = loggingpkg.NewNopLogger()
	}
	log = log.With(loggingpkg.LogFields{"runtime": conf.RuntimeID})
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating runtime service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	codec, err := wire.ForName(conf.WireCodec)
	if err != nil {
		return nil, err
	}

	var clockOpts []hlc.Option
	if conf.ClockMaxDelta > 0 {
		clockOpts = append(clockOpts, hlc.WithMaxDelta(conf.ClockMaxDelta))
	}

	s := &Service{
		Conf:      conf,
		Logger:    log,
		instances: make(map[uuid.UUID]*Instance),
		usage:     newUsageSampler(),
	}

	if deps.Transport != nil {
		s.transport = *deps.Transport
	} else {
		registry := deps.Transports
		if registry == nil {
			registry = transport.DefaultRegistry
		}
		built, err := registry.Build(ctx, conf, wmLogger)
		if err != nil {
			return nil, err
		}
		s.transport = built
		s.ownsTransport = true
	}

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	s.gatherer = deps.Gatherer
	if s.gatherer == nil {
		if reg, ok := registerer.(*prometheus.Registry); ok {
			s.gatherer = reg
		} else {
			s.gatherer = prometheus.DefaultGatherer
		}
	}

	var runtimeMetrics *Metrics
	if conf.MetricsEnabled {
		runtimeMetrics = NewMetrics(conf.Namespace(), registerer)
		if err := runtimeMetrics.Register(); err != nil {
			_ = s.closeTransport()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if err := s.decorateTransport(registerer); err != nil {
			_ = s.closeTransport()
			return nil, err
		}
	}

	size, policy := conf.LinkDefaults()
	s.rc = RuntimeContext{
		Runtime:   conf.Runtime(),
		Clock:     hlc.New(conf.RuntimeID, clockOpts...),
		Logger:    log,
		Loader:    deps.Loader,
		Transport: s.transport,
		Codec:     codec,
		Metrics:   runtimeMetrics,
		Hooks:     deps.Hooks,
		Tracer:    deps.Tracer,
		Retry: RetryConfig{
			MaxRetries:      conf.RetryMaxRetries,
			InitialInterval: conf.RetryInitialInterval,
			MaxInterval:     conf.RetryMaxInterval,
		},
		Links: LinkOptions{Size: size, Policy: policy},
	}.withDefaults()
	return s, nil
}

// decorateTransport wraps the publisher and subscriber with watermill's
// Prometheus decorators, labelled by transport name.
func (s *Service) decorateTransport(registerer prometheus.Registerer) error {
	builder := metrics.NewPrometheusMetricsBuilder(registerer, s.Conf.Namespace(), "transport")
	if s.transport.Publisher != nil {
		pub, err := builder.DecoratePublisher(s.transport.Publisher)
		if err != nil {
			return fmt.Errorf("decorate publisher: %w", err)
		}
		s.transport.Publisher = pub
	}
	if s.transport.Subscriber != nil {
		sub, err := builder.DecorateSubscriber(s.transport.Subscriber)
		if err != nil {
			return fmt.Errorf("decorate subscriber: %w", err)
		}
		s.transport.Subscriber = sub
	}
	return nil
}

// Runtime returns the identifier of the runtime the service runs.
func (s *Service) Runtime() model.RuntimeID { return s.rc.Runtime }

// Clock returns the clock shared by every instance of the service.
func (s *Service) Clock() *hlc.Clock { return s.rc.Clock }

// Metrics returns the runtime collectors, nil when metrics are disabled.
func (s *Service) Metrics() *Metrics { return s.rc.Metrics }

// Transport returns the transport connectors publish and subscribe on.
func (s *Service) Transport() transport.Transport { return s.transport }

// MetricsHandler serves the gathered metrics in the Prometheus text format.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Instantiate builds the part of record placed on this runtime and starts it.
// Its runners stop when ctx is done or the instance is stopped.
func (s *Service) Instantiate(ctx context.Context, record *model.Record) (*Instance, error) {
	if record == nil {
		return nil, errors.New("record is required")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("service is closed")
	}
	if _, ok := s.instances[record.UUID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("instance %s already exists", record.UUID)
	}
	s.mu.Unlock()

	inst, err := NewInstance(ctx, record, s.rc)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", record.UUID, err)
	}
	if err := inst.Start(ctx); err != nil {
		return nil, errors.Join(err, inst.Stop(ctx))
	}

	s.mu.Lock()
	s.instances[record.UUID] = inst
	s.mu.Unlock()
	return inst, nil
}

// Instance returns a running or finished instance.
func (s *Service) Instance(id uuid.UUID) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	return inst, ok
}

// Instances returns the identifiers of every instance, sorted.
func (s *Service) Instances() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.SortedFunc(maps.Keys(s.instances), func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
}

// Stop stops one instance and forgets it.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	delete(s.instances, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("instance %s not found", id)
	}
	return inst.Stop(ctx)
}

// Close stops every instance and closes the transport the service built.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	instances := s.instances
	s.instances = make(map[uuid.UUID]*Instance)
	s.mu.Unlock()

	var errs []error
	for _, inst := range instances {
		errs = append(errs, inst.Stop(ctx))
	}
	errs = append(errs, s.closeTransport())
	return errors.Join(errs...)
}

func (s *Service) closeTransport() error {
	if !s.ownsTransport {
		return nil
	}
	if err := s.transport.Close(); err != nil {
		s.Logger.Error("Failed to close transport", err, nil)
		return err
	}
	return nil
}
