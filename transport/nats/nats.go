// Package nats provides a NATS Core transport for flowplan connectors.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterTransport(TransportName, Build, transport.NATSCapabilities, transport.DottedTopic)
}

// Build creates a new NATS Core transport. Subjects are the dotted form of
// connector resources; core NATS has no persistence so JetStream is disabled.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("nats: url is required")
	}
	marshaler := &nats.NATSMarshaler{}
	options := []nc.Option{nc.Name("flowplan"), nc.RetryOnFailedConnect(true)}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: options,
			Unmarshaler: marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Topic:        transport.DottedTopic,
		Capabilities: transport.NATSCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
