package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowplan/transport"
	"github.com/drblury/flowplan/transport/transporttest"
)

func withFactories(t *testing.T, pub func(kafka.PublisherConfig) (message.Publisher, error), sub func(kafka.SubscriberConfig) (message.Subscriber, error)) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) { return pub(cfg) }
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) { return sub(cfg) }
}

func TestRegisteredOnInit(t *testing.T) {
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsReliableDelivery())
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	cfg := &transporttest.Config{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaClientID:      "runtime-a",
		KafkaConsumerGroup: "flowplan",
	}

	t.Run("wires brokers, group and client id", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		withFactories(t,
			func(c kafka.PublisherConfig) (message.Publisher, error) {
				assert.Equal(t, []string{"localhost:9092"}, c.Brokers)
				require.NotNil(t, c.OverwriteSaramaConfig)
				assert.Equal(t, "runtime-a", c.OverwriteSaramaConfig.ClientID)
				return pub, nil
			},
			func(c kafka.SubscriberConfig) (message.Subscriber, error) {
				assert.Equal(t, "flowplan", c.ConsumerGroup)
				assert.Equal(t, "runtime-a", c.OverwriteSaramaConfig.ClientID)
				return sub, nil
			})

		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
		assert.Equal(t, "zf.data.f.i.n.p", tr.TopicFor("/zf/data/f/i/n/p"))
	})

	t.Run("derives consumer group from runtime", func(t *testing.T) {
		withFactories(t,
			func(kafka.PublisherConfig) (message.Publisher, error) { return &transporttest.Publisher{}, nil },
			func(c kafka.SubscriberConfig) (message.Subscriber, error) {
				assert.Equal(t, "flowplan-runtime-b", c.ConsumerGroup)
				return &transporttest.Subscriber{}, nil
			})
		_, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"k:9092"}, RuntimeID: "runtime-b"}, watermill.NopLogger{})
		require.NoError(t, err)
	})

	t.Run("requires brokers", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		require.ErrorContains(t, err, "no brokers")
	})

	t.Run("publisher error", func(t *testing.T) {
		withFactories(t,
			func(kafka.PublisherConfig) (message.Publisher, error) { return nil, errors.New("publisher error") },
			func(kafka.SubscriberConfig) (message.Subscriber, error) { return &transporttest.Subscriber{}, nil })
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber error closes publisher", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		withFactories(t,
			func(kafka.PublisherConfig) (message.Publisher, error) { return pub, nil },
			func(kafka.SubscriberConfig) (message.Subscriber, error) { return nil, errors.New("subscriber error") })
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}
