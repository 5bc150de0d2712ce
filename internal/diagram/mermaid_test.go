package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaidShapesAndEdges(t *testing.T) {
	model, err := Build(branchingGraph(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% branching")

	// Condition blocks are diamonds, plain blocks are rectangles,
	// start/end are circles.
	assert.Contains(t, out, `check{"check (condition)"}`)
	assert.Contains(t, out, `fetch["fetch (api)"]`)
	assert.Contains(t, out, `__start__(("Start"))`)

	// Branch handles become edge labels.
	assert.Contains(t, out, "check -->|true| store")
	assert.Contains(t, out, "check -->|false| notify")
	assert.Contains(t, out, "__start__ --> fetch")
}

func TestRenderMermaidSubflowCluster(t *testing.T) {
	model, err := Build(loopGraph(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)

	assert.Contains(t, out, `subgraph batch["batch (loop)"]`)
	assert.Contains(t, out, "work --> collect")
	assert.Contains(t, out, "seed --> batch")
	assert.Contains(t, out, "batch --> done")
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	model, err := Build(branchingGraph(), map[string]StatusOverlay{
		"fetch":  {Status: "success"},
		"check":  {Status: "error"},
		"store":  {Status: "skipped"},
		"notify": {Status: "unknown-status"},
	})
	require.NoError(t, err)

	out := RenderMermaid(model)

	assert.Contains(t, out, "class fetch success")
	assert.Contains(t, out, "class check error")
	assert.Contains(t, out, "class store skipped")
	assert.NotContains(t, out, "class notify")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "a_b_c_d", mermaidSafeID("a.b-c d"))
}
