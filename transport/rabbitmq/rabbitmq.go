// Package rabbitmq provides a RabbitMQ/AMQP transport for flowplan connectors.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	transport.RegisterTransport(TransportName, Build, transport.RabbitMQCapabilities, transport.KeepTopic)
}

// Build creates a new RabbitMQ transport. Every resource is a fanout exchange
// and each runtime binds its own durable queue, suffixed with the runtime id.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("rabbitmq: url is required")
	}

	amqpConfig := amqp.NewDurablePubSubConfig(url, QueueName(cfg.GetRuntimeID()))

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Topic:        transport.KeepTopic,
		Capabilities: transport.RabbitMQCapabilities,
	}, nil
}

// QueueName returns the queue naming used for a runtime.
func QueueName(runtimeID string) amqp.QueueNameGenerator {
	if runtimeID == "" {
		return amqp.GenerateQueueNameTopicName
	}
	return amqp.GenerateQueueNameTopicNameWithSuffix(runtimeID)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
