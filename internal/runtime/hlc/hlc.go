// Package hlc implements the hybrid logical clock shared by every runner of a
// runtime. Timestamps combine a physical part (wall time in nanoseconds) with a
// logical counter, so that two timestamps produced by one clock are always
// strictly ordered and a clock that has seen a timestamp never produces a
// smaller one.
package hlc

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxDelta is how far ahead of local time a remote timestamp may be
// before Update rejects it.
const DefaultMaxDelta = 500 * time.Millisecond

// ErrClockDrift is returned by Update when a timestamp is too far in the future.
var ErrClockDrift = errors.New("hlc: timestamp exceeds the allowed drift")

// Timestamp is a point of causal time. The zero value is before every
// timestamp produced by a clock.
type Timestamp struct {
	Physical int64  `json:"physical" yaml:"physical"`
	Logical  uint32 `json:"logical" yaml:"logical"`
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
}

// Compare orders timestamps by physical time, then logical counter, then id.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Physical < other.Physical:
		return -1
	case t.Physical > other.Physical:
		return 1
	case t.Logical < other.Logical:
		return -1
	case t.Logical > other.Logical:
		return 1
	case t.ID < other.ID:
		return -1
	case t.ID > other.ID:
		return 1
	}
	return 0
}

// Before reports whether t happened before other.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// IsZero reports whether t was never set.
func (t Timestamp) IsZero() bool { return t.Physical == 0 && t.Logical == 0 }

// Time returns the physical part as a time.Time.
func (t Timestamp) Time() time.Time { return time.Unix(0, t.Physical) }

// Sub returns the physical duration t-u. Logical counters are ignored.
func (t Timestamp) Sub(u Timestamp) time.Duration { return time.Duration(t.Physical - u.Physical) }

func (t Timestamp) String() string {
	return fmt.Sprintf("%s/%d/%s", t.Time().UTC().Format(time.RFC3339Nano), t.Logical, t.ID)
}

// Option customises a Clock.
type Option func(*Clock)

// WithMaxDelta overrides DefaultMaxDelta. Non-positive values are ignored.
func WithMaxDelta(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.maxDelta = d
		}
	}
}

// WithNow replaces the physical time source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// Clock is safe for concurrent use.
type Clock struct {
	id       string
	maxDelta time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last Timestamp
}

// New returns a clock whose timestamps carry id.
func New(id string, opts ...Option) *Clock {
	c := &Clock{id: id, maxDelta: DefaultMaxDelta, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the identifier stamped on the clock's timestamps.
func (c *Clock) ID() string { return c.id }

// NewTimestamp returns a timestamp strictly greater than every timestamp the
// clock produced or accepted so far.
func (c *Clock) NewTimestamp() Timestamp {
	pt := c.now().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	if pt > c.last.Physical {
		c.last = Timestamp{Physical: pt, ID: c.id}
	} else {
		c.last = Timestamp{Physical: c.last.Physical, Logical: c.last.Logical + 1, ID: c.id}
	}
	return c.last
}

// Update merges a received timestamp into the clock. Timestamps further than
// the maximum delta ahead of local time are rejected with ErrClockDrift and
// leave the clock untouched.
func (c *Clock) Update(ts Timestamp) error {
	pt := c.now().UnixNano()
	if delta := time.Duration(ts.Physical - pt); delta > c.maxDelta {
		return fmt.Errorf("%w: %s ahead of local time (max %s)", ErrClockDrift, delta, c.maxDelta)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ts.Compare(c.last) > 0 {
		c.last = Timestamp{Physical: ts.Physical, Logical: ts.Logical, ID: c.id}
	}
	return nil
}
