package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_Data_Flattening(t *testing.T) {
	s := &Scope{
		Blocks:    map[string]any{"a": map[string]any{"ok": true}},
		Variables: map[string]any{"v": 1},
		Workflow:  map[string]any{"id": "wf"},
	}

	data := s.Data()
	assert.Equal(t, s.Blocks, data["blocks"])
	assert.Equal(t, s.Variables, data["variables"])
	assert.Equal(t, s.Workflow, data["workflow"])
	// Outside a subflow the loop namespace is an empty map, not nil.
	assert.Equal(t, map[string]any{}, data["loop"])
}

func TestScope_WithLoop(t *testing.T) {
	s := &Scope{
		Blocks: map[string]any{"a": map[string]any{"ok": true}},
	}

	looped := s.WithLoop("item-0", 0)
	require.NotNil(t, looped.Loop)
	assert.Equal(t, "item-0", looped.Loop.Item)
	assert.Equal(t, 0, looped.Loop.Index)

	// The parent scope stays untouched.
	assert.Nil(t, s.Loop)

	data := looped.Data()
	loop, ok := data["loop"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "item-0", loop["item"])
	assert.Equal(t, 0, loop["index"])
}

func TestScope_ForBranch_Isolation(t *testing.T) {
	s := &Scope{
		Blocks:    map[string]any{"a": map[string]any{"n": 1}},
		Variables: map[string]any{"v": "orig"},
	}

	branch := s.ForBranch()
	branch.Variables["v"] = "changed"
	branch.Blocks["a"].(map[string]any)["n"] = 99

	assert.Equal(t, "orig", s.Variables["v"])
	assert.Equal(t, 1, s.Blocks["a"].(map[string]any)["n"])
}
