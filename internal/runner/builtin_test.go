package runner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rendis/weave/internal/expressions"
	"github.com/rendis/weave/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataMap(t *testing.T, out *schema.BlockOutput) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &m))
	return m
}

func blockInv(id, typ string, inputs, scopeData map[string]any) Invocation {
	return Invocation{
		Block:     &schema.BlockDescriptor{ID: id, Type: typ},
		Inputs:    inputs,
		ScopeData: scopeData,
	}
}

func TestNoopRunner(t *testing.T) {
	r := &noopRunner{}

	out, err := r.Execute(context.Background(), blockInv("n1", "noop",
		map[string]any{"echo": "hello"}, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "hello"}, dataMap(t, out))
	assert.Empty(t, out.Branch)

	out, err = r.Execute(context.Background(), blockInv("n1", "noop", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, dataMap(t, out))
}

func TestFunctionRunner(t *testing.T) {
	r := &functionRunner{engine: expressions.NewExprEngine()}

	scope := map[string]any{
		"blocks": map[string]any{
			"fetch": map[string]any{"items": []any{float64(1), float64(2), float64(3)}},
		},
	}
	inputs := map[string]any{
		"expression": `sum(blocks.fetch.items)`,
	}

	out, err := r.Execute(context.Background(), blockInv("f1", "function", inputs, scope))
	require.NoError(t, err)
	assert.Equal(t, float64(6), dataMap(t, out)["result"])
}

func TestFunctionRunner_InputsBinding(t *testing.T) {
	r := &functionRunner{engine: expressions.NewExprEngine()}

	inputs := map[string]any{
		"expression": `inputs.base * 2`,
		"base":       float64(21),
	}

	out, err := r.Execute(context.Background(), blockInv("f1", "function", inputs, nil))
	require.NoError(t, err)
	assert.Equal(t, float64(42), dataMap(t, out)["result"])
}

func TestFunctionRunner_MissingExpression(t *testing.T) {
	r := &functionRunner{engine: expressions.NewExprEngine()}

	_, err := r.Execute(context.Background(), blockInv("f1", "function", map[string]any{}, nil))
	require.Error(t, err)
	var werr *schema.WeaveError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "f1", werr.BlockID)
}

func TestConditionRunner_FirstMatchWins(t *testing.T) {
	r, err := NewConditionRunner()
	require.NoError(t, err)

	scope := map[string]any{
		"blocks": map[string]any{"score": map[string]any{"value": float64(87)}},
	}
	inputs := map[string]any{
		"conditions": []any{
			map[string]any{"branch": "high", "when": "blocks.score.value >= 80"},
			map[string]any{"branch": "mid", "when": "blocks.score.value >= 50"},
		},
		"else": "low",
	}

	out, err := r.Execute(context.Background(), blockInv("c1", "condition", inputs, scope))
	require.NoError(t, err)
	assert.Equal(t, "high", out.Branch)
	assert.Equal(t, "high", dataMap(t, out)["branch"])
}

func TestConditionRunner_ElseFallback(t *testing.T) {
	r, err := NewConditionRunner()
	require.NoError(t, err)

	scope := map[string]any{
		"blocks": map[string]any{"score": map[string]any{"value": float64(10)}},
	}
	inputs := map[string]any{
		"conditions": []any{
			map[string]any{"branch": "high", "when": "blocks.score.value >= 80"},
		},
		"else": "low",
	}

	out, err := r.Execute(context.Background(), blockInv("c1", "condition", inputs, scope))
	require.NoError(t, err)
	assert.Equal(t, "low", out.Branch)
}

func TestConditionRunner_NoMatchNoElse(t *testing.T) {
	r, err := NewConditionRunner()
	require.NoError(t, err)

	inputs := map[string]any{
		"conditions": []any{
			map[string]any{"branch": "yes", "when": "1 > 2"},
		},
	}

	out, err := r.Execute(context.Background(), blockInv("c1", "condition", inputs, nil))
	require.NoError(t, err)
	assert.Empty(t, out.Branch)
}

func TestConditionRunner_NonBooleanResult(t *testing.T) {
	r, err := NewConditionRunner()
	require.NoError(t, err)

	inputs := map[string]any{
		"conditions": []any{
			map[string]any{"branch": "yes", "when": `"not a bool"`},
		},
	}

	_, err = r.Execute(context.Background(), blockInv("c1", "condition", inputs, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boolean")
}

func TestConditionRunner_MalformedConditions(t *testing.T) {
	r, err := NewConditionRunner()
	require.NoError(t, err)

	cases := []map[string]any{
		{},
		{"conditions": []any{}},
		{"conditions": []any{"not an object"}},
		{"conditions": []any{map[string]any{"branch": "x"}}},
	}
	for _, inputs := range cases {
		_, err := r.Execute(context.Background(), blockInv("c1", "condition", inputs, nil))
		require.Error(t, err)
	}
}

func TestJQRunner_ScopeDefault(t *testing.T) {
	r := &jqRunner{engine: expressions.NewGoJQEngine()}

	scope := map[string]any{
		"blocks": map[string]any{
			"fetch": map[string]any{"items": []any{"a", "b"}},
		},
	}
	inputs := map[string]any{"query": `.blocks.fetch.items | length`}

	out, err := r.Execute(context.Background(), blockInv("j1", "jq", inputs, scope))
	require.NoError(t, err)
	assert.Equal(t, float64(2), dataMap(t, out)["result"])
}

func TestJQRunner_ExplicitData(t *testing.T) {
	r := &jqRunner{engine: expressions.NewGoJQEngine()}

	inputs := map[string]any{
		"query": `.n + 1`,
		"data":  map[string]any{"n": float64(41)},
	}

	out, err := r.Execute(context.Background(), blockInv("j1", "jq", inputs, nil))
	require.NoError(t, err)
	assert.Equal(t, float64(42), dataMap(t, out)["result"])
}

func TestJQRunner_MissingQuery(t *testing.T) {
	r := &jqRunner{engine: expressions.NewGoJQEngine()}

	_, err := r.Execute(context.Background(), blockInv("j1", "jq", map[string]any{}, nil))
	require.Error(t, err)
}
