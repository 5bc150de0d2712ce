package mcp

import (
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"

	"github.com/rendis/weave/pkg/schema"
)

func TestWatchRegistry(t *testing.T) {
	r := NewWatchRegistry()

	assert.Empty(t, r.SessionsFor("wf-1"))

	r.Watch("wf-1", "sess-a")
	r.Watch("wf-1", "sess-b")
	r.Watch("wf-2", "sess-a")

	assert.ElementsMatch(t, []string{"sess-a", "sess-b"}, r.SessionsFor("wf-1"))
	assert.Equal(t, []string{"sess-a"}, r.SessionsFor("wf-2"))

	// Re-watching is idempotent.
	r.Watch("wf-1", "sess-a")
	assert.Len(t, r.SessionsFor("wf-1"), 2)

	r.Remove("sess-a")
	assert.Equal(t, []string{"sess-b"}, r.SessionsFor("wf-1"))
	assert.Empty(t, r.SessionsFor("wf-2"))
}

func TestRunNotifierPrunesDeadSessions(t *testing.T) {
	mcpSrv := server.NewMCPServer("weave-test", "0.0.0")
	watches := NewWatchRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := NewRunNotifier(mcpSrv, watches, logger)

	watches.Watch("wf-1", "sess-gone")

	// The session was never registered with the server, so the push
	// bounces and the subscription is dropped.
	n.RunStarted("exec-1", "wf-1")
	assert.Empty(t, watches.SessionsFor("wf-1"))

	// Finishing an unknown execution is a no-op.
	n.RunFinished("exec-unknown", schema.RunStatusCompleted, nil)
}

func TestRunNotifierTracksExecutionWorkflow(t *testing.T) {
	mcpSrv := server.NewMCPServer("weave-test", "0.0.0")
	watches := NewWatchRegistry()
	n := NewRunNotifier(mcpSrv, watches, nil)

	n.RunStarted("exec-1", "wf-1")
	n.mu.Lock()
	assert.Equal(t, "wf-1", n.workflows["exec-1"])
	n.mu.Unlock()

	n.RunFinished("exec-1", schema.RunStatusCompleted, nil)
	n.mu.Lock()
	assert.Empty(t, n.workflows)
	n.mu.Unlock()
}
