package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/message"
)

func TestDefaultRegistryHasBuiltins(t *testing.T) {
	t.Parallel()

	uris := DefaultRegistry.URIs()
	for _, name := range []string{BuiltinCounter, BuiltinPassthrough, BuiltinPrinter} {
		assert.Contains(t, uris, BuiltinURI(name))
	}
}

func TestCounterSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := counterSource{}
	state, err := src.Initialize(ctx, nil, model.Configuration{"start": 10, "step": float64(5), "limit": int64(3)})
	require.NoError(t, err)

	var got []any
	for {
		data, err := src.Run(ctx, nil, state)
		if err != nil {
			assert.ErrorIs(t, err, errspkg.ErrEndOfStream)
			break
		}
		got = append(got, data.Value())
	}
	assert.Equal(t, []any{int64(10), int64(15), int64(20)}, got)
}

func TestCounterSourceDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := counterSource{}
	state, err := src.Initialize(ctx, nil, nil)
	require.NoError(t, err)

	for want := range int64(100) {
		data, err := src.Run(ctx, nil, state)
		require.NoError(t, err, "no limit means an endless stream")
		require.Equal(t, want, data.Value())
	}
}

func TestCounterSourceBadConfiguration(t *testing.T) {
	t.Parallel()

	_, err := counterSource{}.Initialize(context.Background(), nil, model.Configuration{"step": "two"})
	assert.ErrorContains(t, err, `configuration "step": unexpected string`)
}

func TestConfigInt(t *testing.T) {
	t.Parallel()

	cfg := model.Configuration{
		"int":     7,
		"int64":   int64(-3),
		"uint64":  uint64(42),
		"float":   float64(9),
		"nil":     nil,
		"decimal": 1.5,
		"bool":    true,
	}
	for key, want := range map[string]int64{"int": 7, "int64": -3, "uint64": 42, "float": 9, "nil": 11, "absent": 11} {
		got, err := configInt(cfg, key, 11)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	_, err := configInt(cfg, "decimal", 0)
	assert.ErrorContains(t, err, "is not an integer")
	_, err = configInt(cfg, "bool", 0)
	assert.ErrorContains(t, err, "unexpected bool")
}

func TestPassthroughOperator(t *testing.T) {
	t.Parallel()

	nctx := &NodeContext{Outputs: []model.PortID{"left", "right"}}
	op := passthroughOperator{}

	out, err := op.Run(context.Background(), nctx, nil, map[model.PortID]*message.DataMessage{
		"b": {Data: message.FromValue("second")},
		"a": {Data: message.FromValue("first")},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out["left"].Value())
	assert.Equal(t, "first", out["right"].Value())

	out, err = op.Run(context.Background(), nctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPrinterSink(t *testing.T) {
	t.Parallel()

	logger := newRecordingLogger()
	nctx := &NodeContext{Logger: logger}
	msg := &message.DataMessage{Data: message.FromValue(map[string]int{"n": 1})}

	require.NoError(t, printerSink{}.Run(context.Background(), nctx, nil, msg))

	entries := logger.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Received data", entries[0].msg)
	assert.Equal(t, `{"n":1}`, entries[0].fields["payload"])
	assert.Equal(t, 0, entries[0].fields["missed_deadline"])
}
