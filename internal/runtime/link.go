package runtime

import (
	"context"
	"sync"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// LinkOptions bound a link and choose what happens when it is full.
type LinkOptions struct {
	// Size caps the number of queued messages. Zero or less is unbounded.
	Size int
	// Policy applies when a bounded link is full. Empty means block.
	Policy model.QueueingPolicy
	// OnDrop is called for every message a dropping policy discards.
	OnDrop func()
}

// link is a FIFO queue shared by one sender and one receiver.
type link struct {
	id     model.PortID
	size   int
	policy model.QueueingPolicy
	onDrop func()

	mu      sync.Mutex
	queue   []message.Message
	closed  bool
	dropped uint64

	notEmpty  chan struct{}
	notFull   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// LinkSender is the producing end of a link.
type LinkSender struct{ l *link }

// LinkReceiver is the consuming end of a link.
type LinkReceiver struct{ l *link }

// NewLink creates a link delivering to the input port id.
func NewLink(id model.PortID, opts LinkOptions) (*LinkSender, *LinkReceiver) {
	policy := opts.Policy
	if policy == "" {
		policy = model.QueueingBlock
	}
	l := &link{
		id:       id,
		size:     opts.Size,
		policy:   policy,
		onDrop:   opts.OnDrop,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	return &LinkSender{l: l}, &LinkReceiver{l: l}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (l *link) bounded() bool { return l.size > 0 }

func (l *link) send(ctx context.Context, msg message.Message) error {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return errspkg.ErrLinkClosed
		}
		if !l.bounded() || len(l.queue) < l.size {
			l.queue = append(l.queue, msg)
			l.mu.Unlock()
			signal(l.notEmpty)
			return nil
		}

		switch l.policy {
		case model.QueueingDropNewest:
			l.dropped++
			l.mu.Unlock()
			l.drop()
			return nil
		case model.QueueingDropOldest:
			l.queue[0] = nil
			l.queue = append(l.queue[1:], msg)
			l.dropped++
			l.mu.Unlock()
			l.drop()
			signal(l.notEmpty)
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
		case <-l.notFull:
		}
	}
}

func (l *link) drop() {
	if l.onDrop != nil {
		l.onDrop()
	}
}

func (l *link) recv(ctx context.Context) (message.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.mu.Lock()
		if len(l.queue) > 0 {
			msg := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			remaining := len(l.queue)
			l.mu.Unlock()
			signal(l.notFull)
			if remaining > 0 {
				signal(l.notEmpty)
			}
			return msg, nil
		}
		if l.closed {
			l.mu.Unlock()
			return nil, errspkg.ErrLinkClosed
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.done:
		case <-l.notEmpty:
		}
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *link) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// ID returns the input port the link delivers to.
func (s *LinkSender) ID() model.PortID { return s.l.id }

// Send queues msg. On a full link it blocks until room frees up, ctx is done
// or the link closes, unless the policy drops a message instead.
func (s *LinkSender) Send(ctx context.Context, msg message.Message) error {
	return s.l.send(ctx, msg)
}

// Close closes the link. Queued messages remain receivable.
func (s *LinkSender) Close() { s.l.close() }

// Len returns the number of queued messages.
func (s *LinkSender) Len() int { return s.l.len() }

// Dropped returns how many messages the queueing policy discarded.
func (s *LinkSender) Dropped() uint64 {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	return s.l.dropped
}

// ID returns the input port the link delivers to.
func (r *LinkReceiver) ID() model.PortID { return r.l.id }

// Recv returns the next message in FIFO order. Once the link is closed and
// drained it returns ErrLinkClosed. Nothing is dequeued once ctx is done.
func (r *LinkReceiver) Recv(ctx context.Context) (model.PortID, message.Message, error) {
	msg, err := r.l.recv(ctx)
	if err != nil {
		return r.l.id, nil, err
	}
	return r.l.id, msg, nil
}

// Close closes the link from the consuming side; senders get ErrLinkClosed.
func (r *LinkReceiver) Close() { r.l.close() }

// Len returns the number of queued messages.
func (r *LinkReceiver) Len() int { return r.l.len() }
