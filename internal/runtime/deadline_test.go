package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	"github.com/drblury/flowplan/internal/runtime/message"
)

func testDeadline(start hlc.Timestamp, d time.Duration) message.E2EDeadline {
	return message.E2EDeadline{
		From:     model.OutputDescriptor{Node: "src", Output: "out"},
		To:       model.InputDescriptor{Node: "snk", Input: "in"},
		Duration: d,
		Start:    start,
	}
}

func TestCheckDeadline(t *testing.T) {
	t.Parallel()

	start := hlc.Timestamp{Physical: int64(time.Second)}
	at := func(offset time.Duration) hlc.Timestamp {
		return hlc.Timestamp{Physical: start.Physical + int64(offset)}
	}
	d := testDeadline(start, 10*time.Millisecond)

	tests := []struct {
		name     string
		node     model.NodeID
		port     model.PortID
		now      hlc.Timestamp
		wantMiss bool
	}{
		{name: "met", node: "snk", port: "in", now: at(5 * time.Millisecond)},
		{name: "exactly on time", node: "snk", port: "in", now: at(10 * time.Millisecond)},
		{name: "missed", node: "snk", port: "in", now: at(11 * time.Millisecond), wantMiss: true},
		{name: "other node", node: "op", port: "in", now: at(time.Second)},
		{name: "other port", node: "snk", port: "other", now: at(time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			miss := CheckDeadline(d, tt.node, tt.port, tt.now)
			if !tt.wantMiss {
				assert.Nil(t, miss)
				return
			}
			require.NotNil(t, miss)
			assert.Equal(t, d.From, miss.From)
			assert.Equal(t, d.To, miss.To)
			assert.Equal(t, start, miss.Start)
			assert.Equal(t, tt.now, miss.End)
			assert.Equal(t, 11*time.Millisecond, miss.Elapsed())
		})
	}
}

func TestPendingDeadlines(t *testing.T) {
	t.Parallel()

	here := testDeadline(hlc.Timestamp{}, time.Second)
	further := here
	further.To = model.InputDescriptor{Node: "later", Input: "in"}

	assert.Equal(t, []message.E2EDeadline{further}, pendingDeadlines([]message.E2EDeadline{here, further}, "snk"))
	assert.Empty(t, pendingDeadlines(nil, "snk"))
}

func TestArriveRecordsMisses(t *testing.T) {
	t.Parallel()

	ic := testContext(t)
	var misses []message.E2EDeadlineMiss
	ic.Hooks.OnDeadlineMiss = func(_ RunnerInfo, miss message.E2EDeadlineMiss) { misses = append(misses, miss) }
	c := newCore(ic, "snk", KindSink, []model.PortID{"in"}, nil)

	msg := dataMsg(t, ic.Clock, 1)
	past := hlc.Timestamp{Physical: msg.Timestamp.Physical - int64(time.Second)}
	msg.EndToEndDeadlines = []message.E2EDeadline{
		testDeadline(past, time.Millisecond),
		testDeadline(msg.Timestamp, time.Hour),
	}

	out := c.arrive("in", msg)
	require.Len(t, out.MissedEndToEndDeadlines, 1)
	assert.Equal(t, past, out.MissedEndToEndDeadlines[0].Start)
	assert.Empty(t, msg.MissedEndToEndDeadlines, "the original message is left untouched")
	assert.Len(t, misses, 1)
}
