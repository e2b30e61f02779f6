// Package io provides a file journal transport. Every published message is
// appended as one JSON line; subscribers tail the file and pick the lines of
// their topic. It lets runtimes on one host exchange data without a broker and
// leaves a replayable trace of every connector.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/flowplan/internal/runtime/jsoncodec"
	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the journal used when none is configured.
const DefaultFilePath = "flowplan.journal"

// PollInterval is how long a subscriber waits at the end of the journal.
var PollInterval = 50 * time.Millisecond

// ErrClosed is returned when publishing on a closed journal.
var ErrClosed = errors.New("io: journal closed")

func init() {
	transport.RegisterTransport(TransportName, Build, transport.IOCapabilities, transport.KeepTopic)
}

// Build creates a journal transport for the configured file.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	path := cfg.GetIOFile()
	if path == "" {
		path = DefaultFilePath
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return transport.Transport{
		Publisher:    NewPublisher(path),
		Subscriber:   NewSubscriber(path, logger),
		Topic:        transport.KeepTopic,
		Capabilities: transport.IOCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// entry is one journal line.
type entry struct {
	UUID        string            `json:"uuid"`
	Topic       string            `json:"topic"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Payload     []byte            `json:"payload"`
	PublishedAt time.Time         `json:"published_at"`
}

// Publisher appends messages to the journal.
type Publisher struct {
	path   string
	mu     sync.Mutex
	closed bool
}

// NewPublisher returns a publisher appending to path.
func NewPublisher(path string) *Publisher {
	return &Publisher{path: path}
}

// Publish appends messages to the journal in order.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	now := time.Now().UTC()
	for _, msg := range messages {
		line, err := jsoncodec.Marshal(entry{
			UUID:        msg.UUID,
			Topic:       topic,
			Metadata:    msg.Metadata,
			Payload:     msg.Payload,
			PublishedAt: now,
		})
		if err != nil {
			return err
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	return w.Flush()
}

// Close stops the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Subscriber tails the journal.
type Subscriber struct {
	path   string
	logger watermill.LoggerAdapter

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// NewSubscriber returns a subscriber reading path from the start.
func NewSubscriber(path string, logger watermill.LoggerAdapter) *Subscriber {
	return &Subscriber{path: path, logger: logger, closing: make(chan struct{})}
}

// Subscribe delivers the journal lines of topic, starting at the beginning of
// the file, and waits for an ack or nack before moving on.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer f.Close()
		s.tail(ctx, f, topic, out)
	}()
	return out, nil
}

func (s *Subscriber) tail(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var partial []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if errors.Is(err, io.EOF) {
			if !s.wait(ctx) {
				return
			}
			continue
		}
		if err != nil {
			s.logger.Error("Failed to read journal", err, watermill.LogFields{"path": s.path})
			return
		}

		line := partial
		partial = nil
		if !s.deliver(ctx, line, topic, out) {
			return
		}
	}
}

func (s *Subscriber) wait(ctx context.Context) bool {
	timer := time.NewTimer(PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Subscriber) deliver(ctx context.Context, line []byte, topic string, out chan<- *message.Message) bool {
	var e entry
	if err := jsoncodec.Unmarshal(line, &e); err != nil {
		s.logger.Error("Skipping malformed journal line", err, watermill.LogFields{"path": s.path})
		return true
	}
	if e.Topic != topic {
		return true
	}

	msg := message.NewMessage(e.UUID, e.Payload)
	for k, v := range e.Metadata {
		msg.Metadata.Set(k, v)
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Journal message nacked", watermill.LogFields{"uuid": msg.UUID, "topic": topic})
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
	return true
}

// Close stops every tailing goroutine and waits for them.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	s.wg.Wait()
	return nil
}
