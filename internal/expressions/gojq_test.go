package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQEngine_Name(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQEngine_SingleOutput(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"blocks": map[string]any{
			"fetch": map[string]any{"status": 200},
		},
	}

	out, err := e.Evaluate(context.Background(), `.blocks.fetch.status`, data)
	require.NoError(t, err)
	assert.Equal(t, float64(200), out)
}

func TestGoJQEngine_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"items": []any{
			map[string]any{"id": "a"},
			map[string]any{"id": "b"},
		},
	}

	out, err := e.Evaluate(context.Background(), `.items[].id`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQEngine_Reshape(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"items": []any{
			map[string]any{"name": "x", "n": 1},
			map[string]any{"name": "y", "n": 5},
		},
	}

	out, err := e.Evaluate(context.Background(), `[.items[] | select(.n > 2) | .name]`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"y"}, out)
}

func TestGoJQEngine_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQEngine_ParseError(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), `.[[[`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestGoJQEngine_EmptyExpression(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestNormalizeForJQ(t *testing.T) {
	in := map[string]any{
		"a": 1,
		"b": []any{int64(2), float32(3.5)},
	}

	out, ok := normalizeForJQ(in).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), out["a"])
	assert.Equal(t, []any{float64(2), float64(3.5)}, out["b"])
}
