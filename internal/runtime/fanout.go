package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
)

var errFanoutClosed = errors.New("fanout: closed")

// fanout shares one broker subscription per topic between every receiver of
// an instance. Backends with competing consumers would otherwise split the
// messages of a resource between its receivers instead of copying them.
//
// A message is dispatched once every expected member joined, copied to each
// member, and acked upstream once every member acked its copy. A nack from any
// member nacks it upstream.
type fanout struct {
	upstream message.Subscriber
	log      loggingpkg.ServiceLogger

	mu     sync.Mutex
	topics map[string]*fanoutTopic
	closed bool
	wg     sync.WaitGroup
}

type fanoutTopic struct {
	name     string
	expected int

	mu      sync.Mutex
	members []*fanoutMember
	joined  int
	ready   chan struct{}
	opened  bool
}

type fanoutMember struct {
	out       chan *message.Message
	gone      chan struct{}
	leaveOnce sync.Once
	closeOnce sync.Once
}

var _ message.Subscriber = (*fanout)(nil)

func newFanout(upstream message.Subscriber, log loggingpkg.ServiceLogger) *fanout {
	return &fanout{upstream: upstream, log: log, topics: make(map[string]*fanoutTopic)}
}

// expect announces one more member for topic. It must be called before open.
func (f *fanout) expect(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[topic]
	if !ok {
		t = &fanoutTopic{name: topic, ready: make(chan struct{})}
		f.topics[topic] = t
	}
	t.expected++
}

// open subscribes upstream to every expected topic and starts dispatching.
// Subscriptions live until ctx is done or the fanout is closed.
func (f *fanout) open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFanoutClosed
	}
	for name, t := range f.topics {
		if t.opened {
			continue
		}
		msgs, err := f.upstream.Subscribe(ctx, name)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		t.opened = true
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			t.dispatch(ctx, msgs, f.log)
		}()
	}
	return nil
}

// Subscribe joins topic as one of its expected members. The returned channel
// closes when ctx is done or the upstream subscription ends.
func (f *fanout) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f.mu.Lock()
	t, ok := f.topics[topic]
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, errFanoutClosed
	}
	if !ok {
		return nil, fmt.Errorf("fanout: topic %q was not expected", topic)
	}

	m := &fanoutMember{out: make(chan *message.Message), gone: make(chan struct{})}
	t.mu.Lock()
	t.members = append(t.members, m)
	t.joined++
	if t.joined == t.expected {
		close(t.ready)
	}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.leave(m)
	}()
	return m.out, nil
}

// Close stops every dispatch loop. Upstream subscriptions end with the
// context given to open.
func (f *fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	topics := make([]*fanoutTopic, 0, len(f.topics))
	for _, t := range f.topics {
		topics = append(topics, t)
	}
	f.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		members := append([]*fanoutMember(nil), t.members...)
		t.mu.Unlock()
		for _, m := range members {
			t.leave(m)
		}
	}
	return nil
}

// wait blocks until every dispatch loop returned.
func (f *fanout) wait() { f.wg.Wait() }

func (t *fanoutTopic) leave(m *fanoutMember) {
	m.leaveOnce.Do(func() { close(m.gone) })
	t.mu.Lock()
	defer t.mu.Unlock()
	m.closeOnce.Do(func() { close(m.out) })
	for i, other := range t.members {
		if other == m {
			t.members = append(t.members[:i], t.members[i+1:]...)
			break
		}
	}
}

func (t *fanoutTopic) dispatch(ctx context.Context, msgs <-chan *message.Message, log loggingpkg.ServiceLogger) {
	defer t.closeAll()

	select {
	case <-ctx.Done():
		return
	case <-t.ready:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if t.deliver(ctx, msg) {
				msg.Ack()
			} else {
				log.Debug("Nacking connector message", loggingpkg.LogFields{"topic": t.name, "message_uuid": msg.UUID})
				msg.Nack()
			}
		}
	}
}

// deliver hands a copy of msg to every member in turn and reports whether all
// of them acked. Members that left are skipped.
func (t *fanoutTopic) deliver(ctx context.Context, msg *message.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.members {
		cp := msg.Copy()
		cp.SetContext(msg.Context())

		select {
		case <-ctx.Done():
			return false
		case <-m.gone:
			continue
		case m.out <- cp:
		}

		select {
		case <-ctx.Done():
			return false
		case <-m.gone:
		case <-cp.Acked():
		case <-cp.Nacked():
			return false
		}
	}
	return true
}

func (t *fanoutTopic) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.members {
		m.leaveOnce.Do(func() { close(m.gone) })
		m.closeOnce.Do(func() { close(m.out) })
	}
}
