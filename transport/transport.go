// Package transport defines how flowplan connectors reach a message broker.
// Each backend lives in its own sub-package and registers a Builder with the
// registry; connectors only ever see the watermill publisher and subscriber
// pair plus the topic mapping of the backend.
package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Topic maps a connector resource name onto the broker's topic syntax.
	// A nil mapper keeps resource names unchanged.
	Topic TopicMapper

	Capabilities Capabilities

	// Serve, when set, runs once connectors have subscribed. Backends that
	// route incoming requests by topic, like HTTP, start listening here.
	Serve func() error
}

// Start runs Serve if the backend has one.
func (t Transport) Start() error {
	if t.Serve == nil {
		return nil
	}
	return t.Serve()
}

// TopicMapper converts a resource name such as /zf/data/flow/uuid/node/port
// into a topic the backend accepts.
type TopicMapper func(resource string) string

// TopicFor returns the topic used for the given connector resource.
func (t Transport) TopicFor(resource string) string {
	if t.Topic == nil {
		return resource
	}
	return t.Topic(resource)
}

// Close closes the publisher and the subscriber. A pubsub serving as both is
// closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil && !sameInstance(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

func sameInstance(pub message.Publisher, sub message.Subscriber) bool {
	if pub == nil {
		return false
	}
	asSub, ok := pub.(message.Subscriber)
	if !ok {
		return false
	}
	defer func() { _ = recover() }()
	return asSub == sub
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// Transports read only what they need without depending on the runtime
// configuration package.
type Config interface {
	// GetRuntimeID names the runtime building the transport. Backends with
	// competing consumers derive their queue or group names from it so every
	// runtime receives its own copy of a resource.
	GetRuntimeID() string

	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// KeepTopic uses resource names as topics.
func KeepTopic(resource string) string { return resource }

// DottedTopic turns a slash separated resource into a dot separated subject,
// which is what NATS and Kafka expect.
func DottedTopic(resource string) string {
	return strings.ReplaceAll(strings.Trim(resource, "/"), "/", ".")
}

// maxSanitizedTopic is the SNS topic name limit.
const maxSanitizedTopic = 256

// SanitizedTopic keeps letters, digits, hyphens and underscores and replaces
// every other byte with an underscore.
func SanitizedTopic(resource string) string {
	trimmed := strings.Trim(resource, "/")
	var b strings.Builder
	b.Grow(len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxSanitizedTopic {
		out = out[:maxSanitizedTopic]
	}
	return out
}
