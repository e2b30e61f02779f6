// Package channel provides the in-process transport, used when every runtime
// of a flow lives in the same binary and by tests.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// DefaultBuffer is the per-subscriber output buffer.
const DefaultBuffer = 64

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterTransport(TransportName, Build, transport.ChannelCapabilities, transport.KeepTopic)
}

// Build creates a new Go channel transport. Every call returns an isolated
// pubsub; runtimes that must talk to each other share one Transport value.
// Publish waits for the subscribers to ack, which keeps a topic in send order.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer:            DefaultBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return transport.Transport{
		Publisher:    pub,
		Subscriber:   sub,
		Topic:        transport.KeepTopic,
		Capabilities: transport.ChannelCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
