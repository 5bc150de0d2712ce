package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCIIWaves(t *testing.T) {
	model, err := Build(branchingGraph(), nil)
	require.NoError(t, err)

	out := RenderASCII(model)

	assert.Contains(t, out, "=== branching ===")
	assert.Contains(t, out, "Start")
	assert.Contains(t, out, "fetch (api)")
	assert.Contains(t, out, "End")

	// store and notify share the last wave, so their boxes sit on one line.
	assert.Contains(t, out, "store (function)")
	assert.Contains(t, out, "Notify (noop)")

	// Connectors run between waves.
	assert.Contains(t, out, "▼")
}

func TestRenderASCIIStatusTags(t *testing.T) {
	model, err := Build(branchingGraph(), map[string]StatusOverlay{
		"fetch": {Status: "success", DurationMs: 42},
		"check": {Status: "error"},
		"store": {Status: "skipped"},
	})
	require.NoError(t, err)

	out := RenderASCII(model)

	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "42ms")
	assert.Contains(t, out, "[FAIL]")
	assert.Contains(t, out, "[SKIP]")
}

func TestRenderASCIISubflowSection(t *testing.T) {
	model, err := Build(loopGraph(), map[string]StatusOverlay{
		"work": {Status: "success"},
	})
	require.NoError(t, err)

	out := RenderASCII(model)

	assert.Contains(t, out, "--- batch members ---")
	assert.Contains(t, out, "[loop]")
	assert.Contains(t, out, "work (function) [OK]")
	assert.True(t, strings.Contains(out, "work ─→ collect"))
}

func TestStatusTagVocabulary(t *testing.T) {
	assert.Equal(t, "[OK]", statusTag("completed"))
	assert.Equal(t, "[RUN]", statusTag("active"))
	assert.Equal(t, "[PAUSE]", statusTag("paused"))
	assert.Equal(t, "", statusTag("nonsense"))
}
