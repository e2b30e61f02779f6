// Package transporttest provides test doubles for transport builders.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a static transport.Config.
type Config struct {
	RuntimeID          string
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	IOFile             string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetRuntimeID() string          { return c.RuntimeID }
func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetIOFile() string             { return c.IOFile }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher records published messages per topic.
type Publisher struct {
	mu       sync.Mutex
	Messages map[string][]*message.Message
	Err      error
	Closed   bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Messages == nil {
		p.Messages = make(map[string][]*message.Message)
	}
	p.Messages[topic] = append(p.Messages[topic], messages...)
	return nil
}

// Published returns the messages published on topic.
func (p *Publisher) Published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.Messages[topic]...)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Subscriber hands out a closed channel for every topic.
type Subscriber struct {
	mu     sync.Mutex
	Topics []string
	Closed bool
}

func (s *Subscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	s.Topics = append(s.Topics, topic)
	s.mu.Unlock()
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
