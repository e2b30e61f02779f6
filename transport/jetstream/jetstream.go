// Package jetstream provides a NATS JetStream transport for flowplan
// connectors. All resources share one stream; every runtime reads a topic
// through its own durable pull consumer.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStream is the stream holding every connector subject.
	DefaultStream = "FLOWPLAN"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge bounds how long the stream keeps messages.
	DefaultMaxAge = 24 * time.Hour

	// HeaderUUID carries the watermill message uuid.
	HeaderUUID = "Flowplan-Uuid"

	fetchBatch = 16
)

// ErrClosed is returned by a closed transport.
var ErrClosed = errors.New("jetstream: transport closed")

func init() {
	transport.RegisterTransport(TransportName, Build, transport.NATSJetStreamCapabilities, transport.DottedTopic)
}

// Build connects to NATS and makes sure the stream exists.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if cfg.GetNATSURL() == "" {
		return transport.Transport{}, fmt.Errorf("jetstream: url is required")
	}
	t, err := New(Config{URL: cfg.GetNATSURL(), Consumer: cfg.GetRuntimeID()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:    t,
		Subscriber:   t,
		Topic:        transport.DottedTopic,
		Capabilities: transport.NATSJetStreamCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream settings.
type Config struct {
	URL string

	// Stream defaults to DefaultStream.
	Stream string

	// Consumer prefixes durable consumer names, normally the runtime id.
	Consumer string

	MaxDeliver int
	AckWait    time.Duration
	MaxAge     time.Duration
	Replicas   int
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// subject returns the stream subject of a topic.
func (c Config) subject(topic string) string {
	return c.Stream + "." + topic
}

// durable returns the consumer name of a topic. Durable names may not contain
// dots, so they are replaced.
func (c Config) durable(topic string) string {
	name := strings.ReplaceAll(topic, ".", "_")
	if c.Consumer != "" {
		name = transport.SanitizedTopic(c.Consumer) + "_" + name
	}
	return name
}

// Transport publishes to and pulls from one JetStream stream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	subs    []*nats.Subscription
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// New connects to NATS and provisions the stream.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("flowplan"))
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}

	t := &Transport{
		nc:      nc,
		js:      js,
		config:  cfg,
		logger:  logger,
		closing: make(chan struct{}),
	}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.Stream,
		Subjects:  []string{t.config.Stream + ".>"},
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
		Retention: nats.LimitsPolicy,
	}
	if _, err := t.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("jetstream: provision stream %s: %w", t.config.Stream, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Publish stores messages on the topic's subject.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	subject := t.config.subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("jetstream: publish %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates or updates the runtime's durable consumer for topic and
// pulls from it until ctx is done or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	subject := t.config.subject(topic)
	durable := t.config.durable(topic)
	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverNewPolicy,
	}
	if _, err := t.js.AddConsumer(t.config.Stream, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.Stream, consumerCfg); err != nil {
			return nil, fmt.Errorf("jetstream: consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable, nats.Bind(t.config.Stream, durable))
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe %s: %w", subject, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	out := make(chan *message.Message)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)
		t.pull(ctx, sub, topic, out)
	}()
	return out, nil
}

func (t *Transport) pull(ctx context.Context, sub *nats.Subscription, topic string, out chan<- *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closing:
			return
		default:
		}

		batch, err := sub.Fetch(fetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			t.logger.Error("JetStream fetch failed", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, natsMsg := range batch {
			if !t.forward(ctx, natsMsg, out) {
				return
			}
		}
	}
}

// forward hands one message out and settles it with the broker once the
// receiver acked or nacked it.
func (t *Transport) forward(ctx context.Context, natsMsg *nats.Msg, out chan<- *message.Message) bool {
	msg := fromNATS(natsMsg)
	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-t.closing:
		return false
	}

	var err error
	select {
	case <-msg.Acked():
		err = natsMsg.Ack()
	case <-msg.Nacked():
		err = natsMsg.Nak()
	case <-ctx.Done():
		return false
	case <-t.closing:
		return false
	}
	if err != nil {
		t.logger.Error("JetStream settle failed", err, watermill.LogFields{"uuid": msg.UUID})
	}
	return true
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	header := nats.Header{}
	for k, v := range msg.Metadata {
		header.Set(k, v)
	}
	header.Set(HeaderUUID, msg.UUID)
	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: header}
}

func fromNATS(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(HeaderUUID)
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == HeaderUUID || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

// Close stops every pull loop and drops the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closing)
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	t.wg.Wait()
	t.nc.Close()
	return errors.Join(errs...)
}
