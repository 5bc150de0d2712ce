package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/weave/internal/api"
	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/internal/pause"
	"github.com/rendis/weave/internal/runner"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/pkg/schema"
)

type echoRunner struct{}

func (echoRunner) Type() string { return "echo" }

func (echoRunner) Execute(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
	data, _ := json.Marshal(inv.Inputs)
	return &schema.BlockOutput{Data: data}, nil
}

func newTestServer(t *testing.T) (*WeaveServer, store.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "mcp.db")
	st, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := runner.NewRegistry()
	require.NoError(t, reg.Register(echoRunner{}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	x := engine.NewExecutor(reg, st, st, logger, engine.Config{MaxConcurrency: 4})
	pc := pause.NewController(st, logger)
	x.SetPauseHandler(pc)

	svc := api.NewService(st, x, pc, nil, logger)

	s := NewWeaveServer(WeaveServerDeps{
		Service:  svc,
		Store:    st,
		Executor: x,
		Pause:    pc,
		Logger:   logger,
	})
	return s, st
}

func seedWorkflow(t *testing.T, st store.Store, id string) {
	t.Helper()
	wf := &store.Workflow{
		ID:   id,
		Name: "sample",
		Definition: &schema.Graph{
			Blocks: map[string]*schema.BlockDescriptor{
				"blockA": {ID: "blockA", Type: "echo"},
				"blockB": {ID: "blockB", Type: "echo"},
			},
			Edges: []schema.Edge{{Source: "blockA", Target: "blockB"}},
		},
	}
	require.NoError(t, st.CreateWorkflow(context.Background(), wf))
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	s, st := newTestServer(t)
	seedWorkflow(t, st, "wf-1")

	req := buildRequest("weave.run", map[string]any{
		"workflow_id": "wf-1",
		"variables":   map[string]any{"env": "prod"},
	})

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	var run engine.RunResult
	unmarshalResult(t, result, &run)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Equal(t, "wf-1", run.WorkflowID)
	assert.Equal(t, []string{"blockA", "blockB"}, run.Path)
	assert.NotEmpty(t, run.ExecutionID)
}

func TestRunToolMissingWorkflow(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleRun(context.Background(),
		buildRequest("weave.run", map[string]any{"workflow_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolMissingParams(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleRun(context.Background(),
		buildRequest("weave.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s, st := newTestServer(t)
	seedWorkflow(t, st, "wf-1")

	runResult, err := s.handleRun(context.Background(),
		buildRequest("weave.run", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	var run engine.RunResult
	unmarshalResult(t, runResult, &run)

	result, err := s.handleStatus(context.Background(),
		buildRequest("weave.status", map[string]any{"execution_id": run.ExecutionID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "wf-1")
	assert.Contains(t, text, "completed")
}

func TestStatusToolUnknownExecution(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleStatus(context.Background(),
		buildRequest("weave.status", map[string]any{"execution_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPauseToolInactiveExecution(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handlePause(context.Background(),
		buildRequest("weave.pause", map[string]any{"execution_id": "idle"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestResumeToolWithoutPause(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleResume(context.Background(),
		buildRequest("weave.resume", map[string]any{"execution_id": "never-paused"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryTool(t *testing.T) {
	s, st := newTestServer(t)
	seedWorkflow(t, st, "wf-1")
	seedWorkflow(t, st, "wf-2")

	_, err := s.handleRun(context.Background(),
		buildRequest("weave.run", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)

	result, err := s.handleQuery(context.Background(),
		buildRequest("weave.query", map[string]any{"resource": "workflows"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	var wfList struct {
		Workflows []*store.Workflow `json:"workflows"`
	}
	unmarshalResult(t, result, &wfList)
	assert.Len(t, wfList.Workflows, 2)

	result, err = s.handleQuery(context.Background(),
		buildRequest("weave.query", map[string]any{
			"resource": "executions",
			"filter":   map[string]any{"workflow_id": "wf-1"},
		}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	var execList struct {
		Executions []*store.ExecutionLog `json:"executions"`
	}
	unmarshalResult(t, result, &execList)
	require.Len(t, execList.Executions, 1)
	assert.Equal(t, schema.RunStatusCompleted, execList.Executions[0].Status)

	result, err = s.handleQuery(context.Background(),
		buildRequest("weave.query", map[string]any{"resource": "paused"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleQuery(context.Background(),
		buildRequest("weave.query", map[string]any{"resource": "triggers"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleQuery(context.Background(),
		buildRequest("weave.query", map[string]any{"resource": "nonsense"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramTool(t *testing.T) {
	s, st := newTestServer(t)
	seedWorkflow(t, st, "wf-1")

	result, err := s.handleDiagram(context.Background(),
		buildRequest("weave.diagram", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "graph TD")

	result, err = s.handleDiagram(context.Background(),
		buildRequest("weave.diagram", map[string]any{
			"workflow_id": "wf-1",
			"format":      "ascii",
		}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "blockA (echo)")

	result, err = s.handleDiagram(context.Background(),
		buildRequest("weave.diagram", map[string]any{
			"workflow_id": "wf-1",
			"format":      "png",
		}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDiagram(context.Background(),
		buildRequest("weave.diagram", map[string]any{"workflow_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWatchToolWithoutSession(t *testing.T) {
	s, st := newTestServer(t)
	seedWorkflow(t, st, "wf-1")

	// Direct handler invocation carries no client session.
	result, err := s.handleWatch(context.Background(),
		buildRequest("weave.watch", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
