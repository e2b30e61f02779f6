package compiler

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
)

var testInstance = uuid.MustParse("0b9f4f0e-6c55-4a6e-8f43-2f3c5d2f7a10")

func port(id, typ string) model.PortDescriptor {
	return model.PortDescriptor{ID: model.PortID(id), Type: model.PortType(typ)}
}

func link(fromNode, fromPort, toNode, toPort string) model.LinkDescriptor {
	return model.LinkDescriptor{
		From: model.OutputDescriptor{Node: model.NodeID(fromNode), Output: model.PortID(fromPort)},
		To:   model.InputDescriptor{Node: model.NodeID(toNode), Input: model.PortID(toPort)},
	}
}

func pipeline(mapping map[model.NodeID]model.RuntimeID) *model.Descriptor {
	return &model.Descriptor{
		Flow: "pipe",
		Sources: []model.SourceDescriptor{
			{ID: "src", Output: port("out", "int"), URI: "builtin://counter"},
		},
		Operators: []model.OperatorDescriptor{
			{ID: "op", Inputs: []model.PortDescriptor{port("in", "int")}, Outputs: []model.PortDescriptor{port("out", "int")}},
		},
		Sinks: []model.SinkDescriptor{
			{ID: "snk", Input: port("in", "int")},
		},
		Links: []model.LinkDescriptor{
			link("src", "out", "op", "in"),
			link("op", "out", "snk", "in"),
		},
		Mapping: mapping,
	}
}

func TestCompileSameRuntime(t *testing.T) {
	desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	assert.Equal(t, testInstance, record.UUID)
	assert.Equal(t, "pipe", record.Flow)
	assert.Empty(t, record.Connectors)
	assert.NotNil(t, record.Connectors)
	assert.Equal(t, desc.Links, record.Links)
	assert.Len(t, record.Operators, 1)
	assert.Len(t, record.Sources, 1)
	assert.Len(t, record.Sinks, 1)
	assert.NoError(t, record.Validate())
}

func TestCompileCrossRuntime(t *testing.T) {
	desc := &model.Descriptor{
		Flow: "f",
		Sources: []model.SourceDescriptor{
			{ID: "A", Output: port("o", "int")},
		},
		Sinks: []model.SinkDescriptor{
			{ID: "B", Input: port("i", "int")},
		},
		Links:   []model.LinkDescriptor{link("A", "o", "B", "i")},
		Mapping: map[model.NodeID]model.RuntimeID{"A": "r1", "B": "r2"},
	}
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	record, err := Compile(desc, id)
	require.NoError(t, err)

	resource := "/zf/data/f/" + id.String() + "/A/o"
	senderID := model.NodeID("sender-f-" + id.String() + "-A-o")
	receiverID := model.NodeID("receiver-f-" + id.String() + "-B-i")

	require.Len(t, record.Connectors, 2)
	sender := record.Connectors[0]
	receiver := record.Connectors[1]

	assert.Equal(t, model.ConnectorSender, sender.Kind)
	assert.Equal(t, senderID, sender.ID)
	assert.Equal(t, resource, sender.Resource)
	assert.Equal(t, model.RuntimeID("r1"), sender.Runtime)
	assert.Equal(t, port("o", "int"), sender.Link)

	assert.Equal(t, model.ConnectorReceiver, receiver.Kind)
	assert.Equal(t, receiverID, receiver.ID)
	assert.Equal(t, resource, receiver.Resource)
	assert.Equal(t, model.RuntimeID("r2"), receiver.Runtime)
	assert.Equal(t, port("i", "int"), receiver.Link)

	assert.Equal(t, []model.LinkDescriptor{
		link("A", "o", string(senderID), "o"),
		link(string(receiverID), "i", "B", "i"),
	}, record.Links)

	assert.NoError(t, record.Validate())
}

func TestCompileFanOutSharesSender(t *testing.T) {
	desc := &model.Descriptor{
		Flow: "fan",
		Sources: []model.SourceDescriptor{
			{ID: "src", Output: port("o", "bytes")},
		},
		Sinks: []model.SinkDescriptor{
			{ID: "left", Input: port("i", "bytes")},
			{ID: "right", Input: port("i", "bytes")},
		},
		Links: []model.LinkDescriptor{
			link("src", "o", "left", "i"),
			link("src", "o", "right", "i"),
		},
		Mapping: map[model.NodeID]model.RuntimeID{"src": "r1", "left": "r2", "right": "r3"},
	}

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	var senders, receivers []model.ConnectorRecord
	for _, c := range record.Connectors {
		switch c.Kind {
		case model.ConnectorSender:
			senders = append(senders, c)
		case model.ConnectorReceiver:
			receivers = append(receivers, c)
		}
	}
	require.Len(t, senders, 1)
	require.Len(t, receivers, 2)
	assert.Equal(t, senders[0].Resource, receivers[0].Resource)
	assert.Equal(t, senders[0].Resource, receivers[1].Resource)
	assert.Equal(t, model.RuntimeID("r2"), receivers[0].Runtime)
	assert.Equal(t, model.RuntimeID("r3"), receivers[1].Runtime)
	assert.Len(t, record.Links, 3)
}

func TestCompileSynthesizedLinksDropQueueSettings(t *testing.T) {
	size := 4
	policy := model.QueueingDropOldest
	desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "b", "snk": "b"})
	desc.Links[0].Size = &size
	desc.Links[0].QueueingPolicy = &policy

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	for _, l := range record.Links {
		if l.From.Node == "op" {
			continue
		}
		assert.Nil(t, l.Size, l.String())
		assert.Nil(t, l.QueueingPolicy, l.String())
		assert.Nil(t, l.Priority, l.String())
	}
}

func TestCompileErrors(t *testing.T) {
	t.Run("missing mapping", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a"})

		record, err := Compile(desc, testInstance)

		assert.Nil(t, record)
		require.ErrorIs(t, err, errspkg.ErrMissingConfiguration)
		var missing errspkg.MissingConfigurationError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, "snk", missing.Node)
	})

	t.Run("type mismatch", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
		desc.Sinks[0].Input = port("in", "string")

		record, err := Compile(desc, testInstance)

		assert.Nil(t, record)
		require.ErrorIs(t, err, errspkg.ErrPortTypeMismatch)
		assert.Contains(t, err.Error(), `"int"`)
		assert.Contains(t, err.Error(), `"string"`)
	})

	t.Run("unknown output port", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
		desc.Links[0] = link("src", "nope", "op", "in")

		_, err := Compile(desc, testInstance)

		require.ErrorIs(t, err, errspkg.ErrPortNotFound)
		var notFound errspkg.PortNotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "src", notFound.Node)
		assert.Equal(t, "nope", notFound.Port)
	})

	t.Run("unknown input port", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
		desc.Links[1] = link("op", "out", "snk", "missing")

		_, err := Compile(desc, testInstance)
		require.ErrorIs(t, err, errspkg.ErrPortNotFound)
	})

	t.Run("link to undeclared node", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
		desc.Links = append(desc.Links, link("op", "out", "ghost", "in"))

		_, err := Compile(desc, testInstance)
		require.ErrorIs(t, err, errspkg.ErrUncompleted)
	})

	t.Run("bad duration unit", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
		desc.Sources[0].Period = &model.DurationDescriptor{Length: 1, Unit: "parsec"}

		_, err := Compile(desc, testInstance)
		require.ErrorIs(t, err, errspkg.ErrParsing)
	})

	t.Run("duplicate operator", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
		desc.Operators = append(desc.Operators, desc.Operators[0])

		record, err := Compile(desc, testInstance)

		assert.Nil(t, record)
		require.ErrorIs(t, err, errspkg.ErrDuplicateNode)
		assert.Contains(t, err.Error(), `"op" used by operator and operator`)
	})

	t.Run("identifier shared by a source and a sink", func(t *testing.T) {
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a", "x": "a"})
		desc.Sources = append(desc.Sources, model.SourceDescriptor{ID: "x", Output: port("out", "int")})
		desc.Sinks = append(desc.Sinks, model.SinkDescriptor{ID: "x", Input: port("in", "int")})

		_, err := Compile(desc, testInstance)

		require.ErrorIs(t, err, errspkg.ErrDuplicateNode)
		assert.Contains(t, err.Error(), `"x" used by source and sink`)
	})

	t.Run("node named like a synthesized connector", func(t *testing.T) {
		sender := SenderID("pipe", testInstance.String(), "src", "out")
		desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "b", "snk": "b", sender: "a"})
		desc.Sinks = append(desc.Sinks, model.SinkDescriptor{ID: sender, Input: port("in", "int")})

		_, err := Compile(desc, testInstance)
		require.ErrorIs(t, err, errspkg.ErrDuplicateNode)
	})

	t.Run("nil descriptor", func(t *testing.T) {
		_, err := Compile(nil, testInstance)
		require.ErrorIs(t, err, errspkg.ErrUncompleted)
	})
}

func TestCompileConfigurationMerge(t *testing.T) {
	desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
	desc.GlobalConfiguration = model.Configuration{"rate": 10, "name": "global"}
	desc.Operators[0].Configuration = model.Configuration{"name": "local"}

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	assert.Equal(t, model.Configuration{"rate": 10, "name": "local"}, record.Operators["op"].Configuration)
	assert.Equal(t, model.Configuration{"rate": 10, "name": "global"}, record.Sinks["snk"].Configuration)
	assert.Equal(t, "global", desc.GlobalConfiguration["name"])
}

func TestCompileDurations(t *testing.T) {
	desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "a", "snk": "a"})
	desc.Sources[0].Period = &model.DurationDescriptor{Length: 250, Unit: "ms"}
	desc.Operators[0].Deadline = &model.DurationDescriptor{Length: 5, Unit: "ms"}
	desc.Deadlines = []model.E2EDeadlineDescriptor{{
		From:     model.OutputDescriptor{Node: "src", Output: "out"},
		To:       model.InputDescriptor{Node: "snk", Input: "in"},
		Duration: model.DurationDescriptor{Length: 1, Unit: "s"},
	}}

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	require.NotNil(t, record.Sources["src"].Period)
	assert.Equal(t, 250*time.Millisecond, *record.Sources["src"].Period)
	require.NotNil(t, record.Operators["op"].Deadline)
	assert.Equal(t, 5*time.Millisecond, *record.Operators["op"].Deadline)
	require.Len(t, record.EndToEndDeadlines, 1)
	assert.Equal(t, time.Second, record.EndToEndDeadlines[0].Duration)
}

func TestCompileLoops(t *testing.T) {
	desc := &model.Descriptor{
		Flow: "loop",
		Sources: []model.SourceDescriptor{
			{ID: "src", Output: port("out", "int")},
		},
		Operators: []model.OperatorDescriptor{
			{ID: "in", Inputs: []model.PortDescriptor{port("x", "int")}, Outputs: []model.PortDescriptor{port("y", "int")}},
			{ID: "out", Inputs: []model.PortDescriptor{port("y", "int")}, Outputs: []model.PortDescriptor{port("z", "int")}},
		},
		Sinks: []model.SinkDescriptor{
			{ID: "snk", Input: port("z", "int")},
		},
		Links: []model.LinkDescriptor{
			link("src", "out", "in", "x"),
			link("in", "y", "out", "y"),
			link("out", "z", "snk", "z"),
		},
		Loops: []model.LoopDescriptor{
			{Ingress: "in", Egress: "out", FeedbackPort: "fb", PortType: "int"},
		},
		Mapping: map[model.NodeID]model.RuntimeID{"src": "a", "in": "a", "out": "a", "snk": "a"},
	}

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	ingress := record.Operators["in"]
	egress := record.Operators["out"]
	assert.Contains(t, ingress.Inputs, port("fb", "int"))
	assert.Contains(t, egress.Outputs, port("fb", "int"))
	require.NotNil(t, ingress.Loop)
	require.NotNil(t, egress.Loop)
	assert.Equal(t, model.NodeID("in"), ingress.Loop.Ingress)
	assert.Contains(t, record.Links, link("out", "fb", "in", "fb"))
	assert.Len(t, desc.Operators[0].Inputs, 1, "descriptor ports must not be modified")

	t.Run("missing ingress", func(t *testing.T) {
		desc.Loops[0].Ingress = "nope"
		_, err := Compile(desc, testInstance)
		require.ErrorIs(t, err, errspkg.ErrLoopNodeNotFound)
	})
}

func TestCompileRemovalFlags(t *testing.T) {
	desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "b", "snk": "b"})
	desc.Sinks = append(desc.Sinks, model.SinkDescriptor{ID: "debug", Input: port("in", "int")})
	desc.Links = append(desc.Links, link("src", "out", "debug", "in"))
	desc.Mapping["debug"] = "c"
	desc.Flags = []model.FlagDescriptor{{ID: "debugging", Toggle: false, Nodes: []model.NodeID{"debug"}}}

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	assert.NotContains(t, record.Sinks, model.NodeID("debug"))
	for _, l := range record.Links {
		assert.NotEqual(t, model.NodeID("debug"), l.To.Node)
	}
	for _, c := range record.Connectors {
		assert.NotEqual(t, model.RuntimeID("c"), c.Runtime, "no connector may remain for a removed node")
	}
	require.Len(t, record.Connectors, 2)
	assert.NoError(t, record.Validate())

	t.Run("removed nodes need no mapping", func(t *testing.T) {
		delete(desc.Mapping, "debug")
		_, err := Compile(desc, testInstance)
		assert.NoError(t, err)
	})
}

func TestCompileYAMLRoundTrip(t *testing.T) {
	desc := pipeline(map[model.NodeID]model.RuntimeID{"src": "a", "op": "b", "snk": "b"})

	record, err := Compile(desc, testInstance)
	require.NoError(t, err)

	data, err := record.ToYAML()
	require.NoError(t, err)
	decoded, err := model.RecordFromYAML(data)
	require.NoError(t, err)

	assert.True(t, record.Equal(decoded))
	assert.Equal(t, record, decoded)
}

func TestCheckPortTypes(t *testing.T) {
	assert.NoError(t, CheckPortTypes("int", "int"))
	assert.ErrorIs(t, CheckPortTypes("int", "float"), errspkg.ErrPortTypeMismatch)
}
