package jetstream

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowplan/transport"
	"github.com/drblury/flowplan/transport/transporttest"
)

func TestRegisteredOnInit(t *testing.T) {
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.Equal(t, transport.NATSJetStreamCapabilities, Capabilities())
}

func TestBuildRequiresURL(t *testing.T) {
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.ErrorContains(t, err, "url is required")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxDeliver: -1, AckWait: -1}.withDefaults()
	assert.Equal(t, DefaultStream, cfg.Stream)
	assert.Equal(t, DefaultMaxDeliver, cfg.MaxDeliver)
	assert.Equal(t, DefaultAckWait, cfg.AckWait)
	assert.Equal(t, DefaultMaxAge, cfg.MaxAge)
	assert.Equal(t, 1, cfg.Replicas)

	custom := Config{Stream: "CUSTOM", MaxDeliver: 5, AckWait: time.Minute, Replicas: 3}.withDefaults()
	assert.Equal(t, "CUSTOM", custom.Stream)
	assert.Equal(t, 5, custom.MaxDeliver)
	assert.Equal(t, time.Minute, custom.AckWait)
	assert.Equal(t, 3, custom.Replicas)
}

func TestNaming(t *testing.T) {
	cfg := Config{Consumer: "edge-1"}.withDefaults()
	topic := transport.DottedTopic("/zf/data/f/i/n/p")

	assert.Equal(t, "FLOWPLAN.zf.data.f.i.n.p", cfg.subject(topic))
	assert.Equal(t, "edge-1_zf_data_f_i_n_p", cfg.durable(topic))
	assert.Equal(t, "zf_data_f_i_n_p", Config{}.durable(topic))
}

func TestMessageConversion(t *testing.T) {
	msg := message.NewMessage("id-1", []byte("payload"))
	msg.Metadata.Set("flowplan_codec", "proto")

	natsMsg := toNATS("FLOWPLAN.t", msg)
	assert.Equal(t, "FLOWPLAN.t", natsMsg.Subject)
	assert.Equal(t, "id-1", natsMsg.Header.Get(HeaderUUID))

	back := fromNATS(natsMsg)
	assert.Equal(t, "id-1", back.UUID)
	assert.Equal(t, "payload", string(back.Payload))
	assert.Equal(t, "proto", back.Metadata.Get("flowplan_codec"))
	assert.Empty(t, back.Metadata.Get(HeaderUUID))

	anonymous := fromNATS(&nats.Msg{Data: []byte("x"), Header: nats.Header{}})
	assert.NotEmpty(t, anonymous.UUID)
}
