// Package flowplan compiles dataflow graphs and runs them across runtimes.
//
// A flow is written as a Descriptor: sources, operators and sinks joined by
// typed links, plus a mapping placing every node on a runtime. Compile turns a
// descriptor into a Record. It checks the ports, unrolls loops, binds the
// end-to-end deadlines and splits every link that crosses runtimes into a
// sender and a receiver exchanging messages over a Watermill transport.
//
// Each runtime process holds a Service built from a Config. Instantiate runs
// the part of a record placed on that runtime: one goroutine per node, links
// between them, and connectors publishing on the configured transport.
// Messages carry hybrid logical clock timestamps, so that ordering and
// deadlines hold across machines.
//
// # Transports
//
// Connectors run on any of the registered transports:
//   - channel: In-memory Go channels, for runtimes sharing a process and for tests
//   - kafka: Consumer group per runtime
//   - rabbitmq: AMQP durable queues
//   - aws: SNS/SQS with LocalStack support
//   - nats and nats-jetstream: Core NATS or JetStream streams
//   - http: Push over HTTP
//   - io: File based, for debugging
//
// # Nodes
//
// Node URIs resolve through a Loader. The default Registry holds the built-in
// nodes (builtin://counter, builtin://passthrough, builtin://printer); user
// nodes are registered with RegisterSource, RegisterOperator and RegisterSink.
//
// # Records
//
// Records can be kept in a Store (memory, SQLite or PostgreSQL) and run later,
// from the flowctl command or through OpenStore.
package flowplan
