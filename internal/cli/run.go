package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/drblury/flowplan/internal/compiler"
	"github.com/drblury/flowplan/internal/model"
	runtimepkg "github.com/drblury/flowplan/internal/runtime"
	configpkg "github.com/drblury/flowplan/internal/runtime/config"
	"github.com/drblury/flowplan/internal/runtime/ids"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/transport"
	_ "github.com/drblury/flowplan/transport/transports"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Runtimes   []string
	RecordID   string
	StatusAddr string
	Config     configpkg.Config

	// Loader overrides the node registry (for testing).
	Loader runtimepkg.Loader
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [record-or-descriptor]",
		Short: "Run a record on one or more runtimes",
		Long: `Run the part of a record placed on the selected runtimes. The argument is
a record file, or a descriptor compiled on the fly. With --id the record is
loaded from the record store instead.

Without --runtime every runtime of the record runs in this process. The
command returns once every runner finished or on SIGINT/SIGTERM.

Example:
  flowctl run flow.yaml
  flowctl run --runtime edge --transport nats --nats-url nats://localhost:4222 record.yaml
  flowctl run --store sqlite --store-dsn records.db --id 6f1c6c2e-3f4b-4c1e-9a39-2b0f3f1b9c11`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args, cmd)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.Runtimes, "runtime", nil, "runtimes to run (every runtime of the record when empty)")
	f.StringVar(&opts.RecordID, "id", "", "UUID of a stored record to run")
	f.StringVar(&opts.StatusAddr, "status-addr", "", "address serving /{runtime}/status and /{runtime}/metrics")
	f.StringVar(&opts.Config.PubSubSystem, "transport", "channel", "connector transport")
	f.StringVar(&opts.Config.NATSURL, "nats-url", "", "NATS server URL")
	f.StringSliceVar(&opts.Config.KafkaBrokers, "kafka-brokers", nil, "Kafka brokers")
	f.StringVar(&opts.Config.KafkaConsumerGroup, "kafka-consumer-group", "", "Kafka consumer group prefix")
	f.StringVar(&opts.Config.RabbitMQURL, "rabbitmq-url", "", "RabbitMQ URL")
	f.StringVar(&opts.Config.HTTPServerAddress, "http-addr", "", "address the http transport listens on")
	f.StringVar(&opts.Config.HTTPPublisherURL, "http-publisher-url", "", "base URL the http transport publishes to")
	f.StringVar(&opts.Config.IOFile, "io-file", "", "file used by the io transport")
	f.StringVar(&opts.Config.AWSRegion, "aws-region", "", "AWS region")
	f.StringVar(&opts.Config.AWSAccountID, "aws-account-id", "", "AWS account id")
	f.StringVar(&opts.Config.AWSEndpoint, "aws-endpoint", "", "custom AWS endpoint")
	f.StringVar(&opts.Config.WireCodec, "wire-codec", "json", "connector codec (json|proto)")
	f.IntVar(&opts.Config.DefaultLinkSize, "link-size", 0, "size of links that declare none (0 is unbounded)")
	f.StringVar(&opts.Config.DefaultQueueingPolicy, "queueing-policy", "", "policy of links that declare none (block|drop_newest|drop_oldest)")
	f.DurationVar(&opts.Config.ClockMaxDelta, "clock-max-delta", 0, "largest accepted drift of received timestamps")
	f.BoolVar(&opts.Config.MetricsEnabled, "metrics", true, "collect runtime metrics")
	f.StringVar(&opts.Config.MetricsNamespace, "metrics-namespace", "", "metrics namespace")

	return cmd
}

// processTransports are bound to the process: runtimes only reach each other
// through one shared instance.
var processTransports = []string{"channel", "http", "io"}

// configFor returns the configuration of one runtime.
func (o *RunOptions) configFor(rt model.RuntimeID) *configpkg.Config {
	conf := o.Config
	conf.RuntimeID = string(rt)
	conf.StoreDriver = o.StoreDriver
	conf.StoreDSN = o.StoreDSN
	conf.KafkaBrokers = slices.Clone(o.Config.KafkaBrokers)
	return &conf
}

func runRecord(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	log := opts.logger(cmd)

	rec, err := opts.resolveRecord(cmd, args)
	if err != nil {
		return formatter.Failure(GetExitCode(err), "failed to load record", err)
	}

	runtimes := rec.Runtimes()
	if len(opts.Runtimes) > 0 {
		runtimes = runtimes[:0]
		for _, rt := range opts.Runtimes {
			runtimes = append(runtimes, model.RuntimeID(rt))
		}
	}
	if len(runtimes) == 0 {
		return formatter.Failure(ExitCommandError, "nothing to run", fmt.Errorf("record %s places no node", rec.UUID))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, closeAll, err := opts.startServices(ctx, log, rec, runtimes)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := closeAll(closeCtx); cerr != nil {
			log.Error("Failed to close runtimes", cerr, nil)
		}
	}()
	if err != nil {
		return formatter.Failure(ExitFailure, "failed to start record", err)
	}

	if opts.StatusAddr != "" {
		srv, err := serveStatus(opts.StatusAddr, services, log)
		if err != nil {
			return formatter.Failure(ExitCommandError, "failed to serve status", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	formatter.Printf("Running %s (%s) on %v", rec.Flow, rec.UUID, runtimes)

	finished := make(chan struct{})
	go func() {
		for _, svc := range services {
			if inst, ok := svc.Instance(rec.UUID); ok {
				<-inst.Done()
			}
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		log.Info("Shutting down", loggingpkg.LogFields{"reason": context.Cause(ctx).Error()})
	}

	var errs []error
	for _, svc := range services {
		inst, ok := svc.Instance(rec.UUID)
		if !ok {
			continue
		}
		if err := svc.Stop(context.Background(), rec.UUID); err != nil {
			errs = append(errs, err)
		}
		if err := inst.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("runtime %s: %w", svc.Runtime(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return formatter.Failure(ExitFailure, "record failed", err)
	}
	formatter.Printf("Finished %s", rec.UUID)
	return nil
}

// resolveRecord loads the record named by --id, or decodes the file argument as
// a record and, failing that, compiles it as a descriptor.
func (o *RunOptions) resolveRecord(cmd *cobra.Command, args []string) (*model.Record, error) {
	if o.RecordID != "" {
		if len(args) > 0 {
			return nil, WrapExitError(ExitCommandError, "invalid arguments", errors.New("--id and a file are mutually exclusive"))
		}
		id, err := uuid.Parse(o.RecordID)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid record id", err)
		}
		return o.loadRecord(cmd.Context(), id)
	}
	if len(args) == 0 {
		return nil, WrapExitError(ExitCommandError, "invalid arguments", errors.New("a record file, a descriptor file or --id is required"))
	}

	rec, recErr := readRecord(args[0])
	if recErr == nil && rec.UUID != uuid.Nil {
		return rec, nil
	}
	desc, err := readDescriptor(args[0])
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "not a record nor a descriptor", errors.Join(recErr, err))
	}
	rec, err = compiler.Compile(desc, ids.NewInstanceID(), compiler.WithLogger(o.logger(cmd)))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "compilation failed", err)
	}
	return rec, nil
}

// startServices starts one service per runtime and instantiates rec on each,
// downstream runtimes first so their receivers subscribe before anything is
// published. The returned close function is always usable.
func (o *RunOptions) startServices(ctx context.Context, log loggingpkg.ServiceLogger, rec *model.Record, runtimes []model.RuntimeID) ([]*runtimepkg.Service, func(context.Context) error, error) {
	var (
		services []*runtimepkg.Service
		shared   *transport.Transport
	)
	closeAll := func(ctx context.Context) error {
		var errs []error
		for _, svc := range services {
			errs = append(errs, svc.Close(ctx))
		}
		if shared != nil {
			errs = append(errs, shared.Close())
		}
		return errors.Join(errs...)
	}

	// Brokers get one connection per runtime so that each runtime has its own
	// consumer group.
	if slices.Contains(processTransports, o.Config.PubSubSystem) {
		tr, err := transport.Build(ctx, o.configFor(runtimes[0]), loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, closeAll, err
		}
		shared = &tr
	}

	for _, rt := range startOrder(rec, runtimes) {
		svc, err := runtimepkg.NewService(ctx, o.configFor(rt), log, runtimepkg.ServiceDependencies{
			Loader:     o.Loader,
			Registerer: prometheus.NewRegistry(),
			Transport:  shared,
			Hooks:      runtimepkg.LoggingHooks(log),
		})
		if err != nil {
			return services, closeAll, fmt.Errorf("runtime %s: %w", rt, err)
		}
		services = append(services, svc)
		if _, err := svc.Instantiate(ctx, rec); err != nil {
			return services, closeAll, fmt.Errorf("runtime %s: %w", rt, err)
		}
	}
	return services, closeAll, nil
}

// startOrder sorts runtimes so that a runtime starts after every runtime its
// senders publish to. Runtimes caught in a cycle keep their relative order.
func startOrder(rec *model.Record, runtimes []model.RuntimeID) []model.RuntimeID {
	downstream := make(map[model.RuntimeID]map[model.RuntimeID]struct{})
	for _, c := range rec.Connectors {
		if c.Kind != model.ConnectorSender {
			continue
		}
		for _, r := range rec.Connectors {
			if r.Kind == model.ConnectorReceiver && r.Resource == c.Resource && r.Runtime != c.Runtime {
				if downstream[c.Runtime] == nil {
					downstream[c.Runtime] = make(map[model.RuntimeID]struct{})
				}
				downstream[c.Runtime][r.Runtime] = struct{}{}
			}
		}
	}

	selected := make(map[model.RuntimeID]bool, len(runtimes))
	for _, rt := range runtimes {
		selected[rt] = true
	}
	started := make(map[model.RuntimeID]bool, len(runtimes))
	order := make([]model.RuntimeID, 0, len(runtimes))
	for len(order) < len(runtimes) {
		progressed := false
		for _, rt := range runtimes {
			if started[rt] {
				continue
			}
			ready := true
			for next := range downstream[rt] {
				if selected[next] && !started[next] {
					ready = false
					break
				}
			}
			if ready {
				started[rt] = true
				order = append(order, rt)
				progressed = true
			}
		}
		if !progressed {
			for _, rt := range runtimes {
				if !started[rt] {
					started[rt] = true
					order = append(order, rt)
				}
			}
		}
	}
	return order
}

func serveStatus(addr string, services []*runtimepkg.Service, log loggingpkg.ServiceLogger) (*http.Server, error) {
	mux := http.NewServeMux()
	for _, svc := range services {
		prefix := "/" + string(svc.Runtime())
		mux.Handle(prefix+"/status", svc.StatusHandler())
		mux.Handle(prefix+"/metrics", svc.MetricsHandler())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Status server stopped", err, nil)
		}
	}()
	log.Info("Serving status", loggingpkg.LogFields{"addr": ln.Addr().String()})
	return srv, nil
}
