package hlc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newFake() *fakeNow { return &fakeNow{t: time.Unix(1_700_000_000, 0)} }

func TestNewTimestampIsStrictlyMonotonic(t *testing.T) {
	now := newFake()
	c := New("rt-1", WithNow(now.Now))

	a := c.NewTimestamp()
	b := c.NewTimestamp()
	require.True(t, a.Before(b), "same physical time must bump the logical counter")
	assert.Equal(t, a.Physical, b.Physical)
	assert.Equal(t, a.Logical+1, b.Logical)

	now.Advance(time.Millisecond)
	d := c.NewTimestamp()
	assert.True(t, b.Before(d))
	assert.Zero(t, d.Logical)
	assert.Equal(t, "rt-1", d.ID)
}

func TestNewTimestampSurvivesBackwardWallClock(t *testing.T) {
	now := newFake()
	c := New("rt-1", WithNow(now.Now))

	a := c.NewTimestamp()
	now.Advance(-time.Second)
	b := c.NewTimestamp()

	assert.True(t, a.Before(b))
}

func TestUpdateAdvancesClock(t *testing.T) {
	now := newFake()
	c := New("rt-1", WithNow(now.Now))
	remote := Timestamp{Physical: now.Now().Add(100 * time.Millisecond).UnixNano(), Logical: 3, ID: "rt-2"}

	require.NoError(t, c.Update(remote))
	next := c.NewTimestamp()

	assert.True(t, remote.Physical == next.Physical && next.Logical == 4)
	assert.Equal(t, "rt-1", next.ID)
}

func TestUpdateRejectsDrift(t *testing.T) {
	now := newFake()
	c := New("rt-1", WithNow(now.Now), WithMaxDelta(50*time.Millisecond))
	before := c.NewTimestamp()

	err := c.Update(Timestamp{Physical: now.Now().Add(time.Second).UnixNano()})
	require.ErrorIs(t, err, ErrClockDrift)

	after := c.NewTimestamp()
	assert.Equal(t, before.Physical, after.Physical, "a rejected timestamp must not move the clock")
}

func TestUpdateWithOlderTimestampIsNoop(t *testing.T) {
	now := newFake()
	c := New("rt-1", WithNow(now.Now))
	a := c.NewTimestamp()

	require.NoError(t, c.Update(Timestamp{Physical: a.Physical - 10}))
	b := c.NewTimestamp()
	assert.True(t, a.Before(b))
}

func TestTimestampHelpers(t *testing.T) {
	a := Timestamp{Physical: int64(time.Second), Logical: 1, ID: "a"}
	b := Timestamp{Physical: int64(3 * time.Second), ID: "b"}

	assert.Equal(t, 2*time.Second, b.Sub(a))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, Timestamp{Physical: 1, ID: "a"}.Compare(Timestamp{Physical: 1, ID: "b"}))
	assert.True(t, Timestamp{}.IsZero())
	assert.False(t, a.IsZero())
	assert.Equal(t, time.Unix(1, 0), a.Time())
	assert.Contains(t, a.String(), "/1/a")
}

func TestClockConcurrentUse(t *testing.T) {
	c := New("rt-1")
	const workers, per = 8, 200

	var wg sync.WaitGroup
	results := make(chan Timestamp, workers*per)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				results <- c.NewTimestamp()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[Timestamp]struct{}, workers*per)
	for ts := range results {
		_, dup := seen[ts]
		require.False(t, dup, "duplicate timestamp %s", ts)
		seen[ts] = struct{}{}
	}
}
