/*
Package runtime executes compiled records.

# Architecture Overview

A record produced by the compiler places every node on a runtime. The runtime
package builds, for one runtime, the runners driving the nodes placed there,
connects them with in-process links and bridges the links that leave the
runtime through connectors publishing on a Watermill transport.

# Package Structure

## Service (service.go, status.go)

Service is what a runtime process holds on to. It owns the pieces every
instance shares:
  - the hybrid logical clock of the runtime
  - the transport built from the configuration, decorated with Watermill's
    Prometheus publisher and subscriber metrics
  - the runner metrics and hooks
  - the node loader

Instantiate builds and starts the part of a record placed on the runtime.
StatusHandler and MetricsHandler expose what is running over HTTP.

## Instance (instance.go)

Instance holds the runners of one record on one runtime and the links between
them. Runners run in their own goroutine. One failing runner closes its links,
which ends its neighbours once they drained them; the rest of the instance is
left running.

## Runners (runner.go, source.go, operator.go, sink.go, connector.go)

  - SourceRunner polls a Source, optionally on a period, and broadcasts what it
    returns on its output.
  - OperatorRunner fires an Operator once every input holds a message, or on
    every arrival for the "any" input policy.
  - SinkRunner hands every message of its input to a Sink.
  - SenderRunner and ReceiverRunner carry messages over the transport. The
    receivers of an instance share one subscription per topic (fanout.go).

Every runner updates the clock with the timestamps it receives and checks the
end-to-end deadlines bound to its inputs (deadline.go).

## Links (link.go)

A link is an ordered queue between two runners, unbounded or bounded with a
queueing policy.

## Loading (loader.go, builtin.go)

Node URIs resolve through a Loader. Registry maps URIs to factories and counts
the nodes using each loaded artifact. The built-in nodes are registered under
builtin://.

# Sub-packages

  - config/: Runtime configuration with validation
  - hlc/: Hybrid logical clock
  - ids/: ULID generation for transport message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - message/: Data and control messages, deadlines carried by messages
  - metadata/: Connector message headers
  - wire/: Connector message codecs (JSON and protobuf)

# Usage Example

	conf := &config.Config{RuntimeID: "rt-1", PubSubSystem: "nats", NATSURL: "nats://localhost:4222"}
	svc, err := runtime.NewService(ctx, conf, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	inst, err := svc.Instantiate(ctx, record)
	if err != nil {
		return err
	}
	return inst.Wait()
*/
package runtime
