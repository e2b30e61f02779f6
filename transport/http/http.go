// Package http provides an HTTP transport for flowplan connectors. Senders
// POST to the peer runtime's publisher URL and receivers expose one route per
// connector resource.
package http

import (
	"context"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterTransport(TransportName, Build, transport.HTTPCapabilities, transport.KeepTopic)
}

// Build creates a new HTTP transport. The subscriber's server is started by
// Transport.Start, after every receiver registered its route.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	publisher, err := PublisherFactory(
		http.PublisherConfig{MarshalMessageFunc: MarshalTo(cfg.GetHTTPPublisherURL())},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		cfg.GetHTTPServerAddress(),
		http.SubscriberConfig{UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Topic:        transport.KeepTopic,
		Capabilities: transport.HTTPCapabilities,
		Serve:        serveOnce(subscriber, logger),
	}, nil
}

// MarshalTo returns a marshal func posting each topic to a path under base.
func MarshalTo(base string) http.MarshalMessageFunc {
	base = strings.TrimSuffix(base, "/")
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		if !strings.HasPrefix(topic, "/") {
			topic = "/" + topic
		}
		return http.DefaultMarshalMessageFunc(base+topic, msg)
	}
}

func serveOnce(subscriber message.Subscriber, logger watermill.LoggerAdapter) func() error {
	var once sync.Once
	return func() error {
		once.Do(func() {
			s, ok := subscriber.(*http.Subscriber)
			if !ok {
				return
			}
			go func() {
				if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
					logger.Error("HTTP subscriber server stopped", err, nil)
				}
			}()
		})
		return nil
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
