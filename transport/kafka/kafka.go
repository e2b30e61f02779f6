// Package kafka provides a Kafka transport for flowplan connectors.
package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterTransport(TransportName, Build, transport.KafkaCapabilities, transport.DottedTopic)
}

// Build creates a new Kafka transport. Connector resources become dotted
// topic names and the configured client id is set on both sarama configs.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, fmt.Errorf("kafka: no brokers configured")
	}

	pubSarama := kafka.DefaultSaramaSyncPublisherConfig()
	subSarama := kafka.DefaultSaramaSubscriberConfig()
	if id := cfg.GetKafkaClientID(); id != "" {
		pubSarama.ClientID = id
		subSarama.ClientID = id
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: pubSarama,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup(cfg),
			OverwriteSaramaConfig: subSarama,
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
		Capabilities: transport.KafkaCapabilities,
	}, nil
}

// consumerGroup gives every runtime its own group unless one is configured,
// so each runtime sees every message of a resource.
func consumerGroup(cfg transport.Config) string {
	if group := cfg.GetKafkaConsumerGroup(); group != "" {
		return group
	}
	if id := cfg.GetRuntimeID(); id != "" {
		return "flowplan-" + id
	}
	return ""
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
