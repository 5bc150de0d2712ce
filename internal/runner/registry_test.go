package runner

import (
	"context"
	"testing"

	"github.com/rendis/weave/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	typ string
	out *schema.BlockOutput
	err error
}

func (f *fakeRunner) Type() string { return f.typ }

func (f *fakeRunner) Execute(ctx context.Context, inv Invocation) (*schema.BlockOutput, error) {
	return f.out, f.err
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(&fakeRunner{typ: "custom"}))
	assert.True(t, reg.Has("custom"))
	assert.Equal(t, 1, reg.Count())

	r, err := reg.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", r.Type())
}

func TestRegistry_DuplicateType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeRunner{typ: "custom"}))

	err := reg.Register(&fakeRunner{typ: "custom"})
	require.Error(t, err)
	var werr *schema.WeaveError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeConflict, werr.Code)
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	require.Error(t, err)
	var werr *schema.WeaveError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeRunnerUnavailable, werr.Code)
}

func TestRegistry_RegisterNilOrUnnamed(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(nil))
	require.Error(t, reg.Register(&fakeRunner{typ: ""}))
}

func TestRegistry_ResolveGraph(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeRunner{typ: "noop"}))

	disabled := false
	g := &schema.Graph{
		ID: "g1",
		Blocks: map[string]*schema.BlockDescriptor{
			"a": {ID: "a", Type: "noop"},
			"b": {ID: "b", Type: "missing"},
			"c": {ID: "c", Type: "also_missing", Enabled: &disabled},
		},
	}

	err := reg.ResolveGraph(g)
	require.Error(t, err)
	// Disabled blocks never execute, so their type does not need a runner.
	assert.Contains(t, err.Error(), "missing")
	assert.NotContains(t, err.Error(), "also_missing")

	require.NoError(t, reg.Register(&fakeRunner{typ: "missing"}))
	assert.NoError(t, reg.ResolveGraph(g))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeRunner{typ: "zeta"}))
	require.NoError(t, reg.Register(&fakeRunner{typ: "alpha"}))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Type)
	assert.Equal(t, "zeta", infos[1].Type)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, MCPConfig{}))

	for _, typ := range []string{"noop", "function", "jq", "condition", "mcp.tool"} {
		assert.True(t, reg.Has(typ), "expected builtin %q", typ)
	}
}
