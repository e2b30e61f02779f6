package transport

// Capabilities describes what a transport backend guarantees to connectors.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsOrdering indicates messages on one topic arrive in publish order.
	// Links between runtimes assume it; without it the receiver may observe
	// timestamps out of order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport forwards metadata headers, so
	// trace and correlation ids survive the hop.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport redelivers nacked messages.
	SupportsNack bool

	// Durable indicates published messages survive a restart of the broker.
	Durable bool

	// MaxMessageSize is the maximum payload size in bytes, 0 when unbounded.
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of the given size can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Durable:          true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Durable:          true,
		MaxMessageSize:   1048576,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: false,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Durable:          true,
		MaxMessageSize:   262144,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		Durable:          true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name,
// or a zero set carrying only the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
