package model

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowplan/internal/errors"
)

func TestMergeConfigurations(t *testing.T) {
	t.Run("local overrides global", func(t *testing.T) {
		global := Configuration{"rate": "10", "name": "global"}
		local := Configuration{"name": "local"}

		merged := MergeConfigurations(global, local)

		assert.Equal(t, Configuration{"rate": "10", "name": "local"}, merged)
		assert.Equal(t, "global", global["name"], "global must not be modified")
	})

	t.Run("nil sides", func(t *testing.T) {
		assert.Nil(t, MergeConfigurations(nil, nil))
		assert.Equal(t, Configuration{"a": 1}, MergeConfigurations(nil, Configuration{"a": 1}))
		assert.Equal(t, Configuration{"b": 2}, MergeConfigurations(Configuration{"b": 2}, nil))
	})
}

func TestDurationDescriptor(t *testing.T) {
	tests := []struct {
		in   DurationDescriptor
		want time.Duration
	}{
		{DurationDescriptor{Length: 5, Unit: "ms"}, 5 * time.Millisecond},
		{DurationDescriptor{Length: 2, Unit: "s"}, 2 * time.Second},
		{DurationDescriptor{Length: 7, Unit: "us"}, 7 * time.Microsecond},
		{DurationDescriptor{Length: 9, Unit: "ns"}, 9 * time.Nanosecond},
	}
	for _, tt := range tests {
		got, err := tt.in.ToDuration()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := DurationDescriptor{Length: 1, Unit: "fortnight"}.ToDuration()
	assert.Error(t, err)

	largest := uint64(math.MaxInt64 / int64(time.Second))
	got, err := DurationDescriptor{Length: largest, Unit: "s"}.ToDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(largest)*time.Second, got)

	_, err = DurationDescriptor{Length: largest + 1, Unit: "s"}.ToDuration()
	assert.ErrorContains(t, err, "out of range")
	_, err = DurationDescriptor{Length: 1 << 63, Unit: "ns"}.ToDuration()
	assert.ErrorContains(t, err, "out of range")
}

func TestNodesToRemove(t *testing.T) {
	flags := []FlagDescriptor{
		{ID: "debug", Toggle: false, Nodes: []NodeID{"printer", "tap"}},
		{ID: "prod", Toggle: true, Nodes: []NodeID{"writer"}},
	}

	removed := NodesToRemove(flags)

	assert.Len(t, removed, 2)
	assert.Contains(t, removed, NodeID("printer"))
	assert.Contains(t, removed, NodeID("tap"))
	assert.NotContains(t, removed, NodeID("writer"))
}

func testRecord() *Record {
	size := 16
	return &Record{
		UUID: uuid.MustParse("6f1c6c2e-3f4b-4c1e-9a39-2b0f3f1b9c11"),
		Flow: "pipeline",
		Operators: map[NodeID]OperatorRecord{
			"op": {
				ID:      "op",
				Inputs:  []PortDescriptor{{ID: "in", Type: "int"}},
				Outputs: []PortDescriptor{{ID: "out", Type: "int"}},
				URI:     "builtin://double",
				Runtime: "rt-1",
			},
		},
		Sources: map[NodeID]SourceRecord{
			"src": {ID: "src", Output: PortDescriptor{ID: "out", Type: "int"}, Runtime: "rt-1"},
		},
		Sinks: map[NodeID]SinkRecord{
			"snk": {ID: "snk", Input: PortDescriptor{ID: "in", Type: "int"}, Runtime: "rt-2",
				Configuration: Configuration{"path": "/tmp/out"}},
		},
		Connectors: []ConnectorRecord{
			{Kind: ConnectorSender, ID: "sender-x", Resource: "/zf/data/x", Link: PortDescriptor{ID: "out", Type: "int"}, Runtime: "rt-1"},
			{Kind: ConnectorReceiver, ID: "receiver-x", Resource: "/zf/data/x", Link: PortDescriptor{ID: "in", Type: "int"}, Runtime: "rt-2"},
		},
		Links: []LinkDescriptor{
			{From: OutputDescriptor{Node: "src", Output: "out"}, To: InputDescriptor{Node: "op", Input: "in"}, Size: &size},
			{From: OutputDescriptor{Node: "op", Output: "out"}, To: InputDescriptor{Node: "sender-x", Input: "out"}},
			{From: OutputDescriptor{Node: "receiver-x", Output: "in"}, To: InputDescriptor{Node: "snk", Input: "in"}},
		},
		EndToEndDeadlines: []E2EDeadlineRecord{
			{From: OutputDescriptor{Node: "src", Output: "out"}, To: InputDescriptor{Node: "snk", Input: "in"}, Duration: 50 * time.Millisecond},
		},
	}
}

func TestRecordLookups(t *testing.T) {
	r := testRecord()

	rt, ok := r.FindNodeRuntime("snk")
	require.True(t, ok)
	assert.Equal(t, RuntimeID("rt-2"), rt)

	rt, ok = r.FindNodeRuntime("receiver-x")
	require.True(t, ok)
	assert.Equal(t, RuntimeID("rt-2"), rt)

	_, ok = r.FindNodeRuntime("ghost")
	assert.False(t, ok)

	typ, ok := r.FindNodeOutputType("src", "out")
	require.True(t, ok)
	assert.Equal(t, PortType("int"), typ)

	_, ok = r.FindNodeOutputType("snk", "in")
	assert.False(t, ok, "sinks have no outputs")

	_, ok = r.FindNodeInputType("src", "out")
	assert.False(t, ok, "sources have no inputs")

	typ, ok = r.FindNodeInputType("sender-x", "out")
	require.True(t, ok)
	assert.Equal(t, PortType("int"), typ)

	assert.ElementsMatch(t, []NodeID{"op", "src", "sender-x"}, r.NodesOn("rt-1"))
	assert.Len(t, r.DeadlinesBoundTo("snk"), 1)
	assert.Empty(t, r.DeadlinesBoundTo("op"))
	assert.Len(t, r.DeadlinesStartingAt("src"), 1)
	assert.Equal(t, []RuntimeID{"rt-1", "rt-2"}, r.Runtimes())
}

func TestRecordIdentity(t *testing.T) {
	a := testRecord()
	b := testRecord()
	b.Links = nil

	assert.True(t, a.Equal(b), "topology does not take part in identity")
	assert.Equal(t, a.Key(), b.Key())

	b.UUID = uuid.New()
	assert.False(t, a.Equal(b))

	keys := map[RecordKey]struct{}{a.Key(): {}, b.Key(): {}}
	assert.Len(t, keys, 2)
}

func TestRecordEncodingsRoundTrip(t *testing.T) {
	r := testRecord()

	t.Run("yaml", func(t *testing.T) {
		data, err := r.ToYAML()
		require.NoError(t, err)

		decoded, err := RecordFromYAML(data)
		require.NoError(t, err)
		assert.Equal(t, r, decoded)
	})

	t.Run("json", func(t *testing.T) {
		data, err := r.ToJSON()
		require.NoError(t, err)

		decoded, err := RecordFromJSON(data)
		require.NoError(t, err)
		assert.Equal(t, r, decoded)
	})

	t.Run("yaml to json to yaml", func(t *testing.T) {
		y, err := r.ToYAML()
		require.NoError(t, err)
		fromYAML, err := RecordFromYAML(y)
		require.NoError(t, err)
		j, err := fromYAML.ToJSON()
		require.NoError(t, err)
		fromJSON, err := RecordFromJSON(j)
		require.NoError(t, err)
		assert.Equal(t, r, fromJSON)
	})
}

func TestRecordDecodeErrors(t *testing.T) {
	_, err := RecordFromYAML([]byte("flow: [unterminated"))
	assert.ErrorIs(t, err, errspkg.ErrParsing)

	_, err = RecordFromJSON([]byte("{not json"))
	assert.ErrorIs(t, err, errspkg.ErrParsing)
}

func TestRecordValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, testRecord().Validate())
	})

	t.Run("duplicate identifiers across kinds", func(t *testing.T) {
		r := testRecord()
		r.Sinks["op"] = SinkRecord{ID: "op", Input: PortDescriptor{ID: "in", Type: "int"}, Runtime: "rt-1"}
		assert.ErrorIs(t, r.Validate(), errspkg.ErrDuplicateNode)
	})

	t.Run("dangling link", func(t *testing.T) {
		r := testRecord()
		r.Links = append(r.Links, LinkDescriptor{
			From: OutputDescriptor{Node: "src", Output: "out"},
			To:   InputDescriptor{Node: "gone", Input: "in"},
		})
		assert.ErrorIs(t, r.Validate(), errspkg.ErrPortNotFound)
	})
}

func TestDescriptorFromYAML(t *testing.T) {
	doc := `
flow: counter
sources:
  - id: ticks
    output: {id: tick, type: int}
    period: {length: 100, unit: ms}
    uri: builtin://ticker
sinks:
  - id: printer
    input: {id: tick, type: int}
    uri: builtin://printer
links:
  - from: {node: ticks, output: tick}
    to: {node: printer, input: tick}
mapping:
  ticks: edge
  printer: cloud
`
	d, err := DescriptorFromYAML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "counter", d.Flow)
	require.Len(t, d.Sources, 1)
	require.NotNil(t, d.Sources[0].Period)
	assert.Equal(t, uint64(100), d.Sources[0].Period.Length)
	assert.Equal(t, RuntimeID("cloud"), d.Mapping["printer"])

	_, err = DescriptorFromYAML([]byte("flow: x\nunknown_key: 1\n"))
	assert.ErrorIs(t, err, errspkg.ErrParsing)
}
