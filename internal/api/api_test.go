package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/internal/pause"
	"github.com/rendis/weave/internal/runner"
	"github.com/rendis/weave/internal/runstate"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/internal/streaming"
	"github.com/rendis/weave/pkg/schema"
)

type echoRunner struct{}

func (echoRunner) Type() string { return "echo" }

func (echoRunner) Execute(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
	data, _ := json.Marshal(inv.Inputs)
	return &schema.BlockOutput{Data: data}, nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "api.db")
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
	tracker := runstate.NewTracker()
	x.AddListener(tracker)
	hub := streaming.NewMemoryHub()
	x.AddListener(streaming.NewBroadcaster(hub, logger))

	svc := NewService(st, x, pc, nil, logger)
	srv := NewServer(Deps{
		Store:    st,
		Service:  svc,
		Executor: x,
		Pause:    pc,
		RunState: tracker,
		Hub:      hub,
		Logger:   logger,
	})
	return srv, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func sampleDefinition() map[string]any {
	return map[string]any{
		"blocks": map[string]any{
			"blockA": map[string]any{"id": "blockA", "type": "echo"},
			"blockB": map[string]any{"id": "blockB", "type": "echo"},
		},
		"edges": []map[string]any{
			{"source": "blockA", "target": "blockB"},
		},
	}
}

func TestCreateAndGetWorkflow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
		"id":         "wf-1",
		"name":       "sample",
		"definition": sampleDefinition(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/workflows/wf-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var wf store.Workflow
	decodeBody(t, rec, &wf)
	assert.Equal(t, "sample", wf.Name)
	require.NotNil(t, wf.Definition)
	assert.Len(t, wf.Definition.Blocks, 2)
}

func TestCreateWorkflowRejectsBadGraph(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	// Edge points at a block that does not exist.
	rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
		"id":   "wf-bad",
		"name": "broken",
		"definition": map[string]any{
			"blocks": map[string]any{
				"blockA": map[string]any{"id": "blockA", "type": "echo"},
			},
			"edges": []map[string]any{
				{"source": "blockA", "target": "ghost"},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestRunWorkflowEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
		"id":                    "wf-run",
		"deployment_version_id": "v7",
		"definition":            sampleDefinition(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/workflows/wf-run/run", map[string]any{
		"variables": map[string]any{"who": "world"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result engine.RunResult
	decodeBody(t, rec, &result)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	assert.Equal(t, []string{"blockA", "blockB"}, result.Path)
	require.NotEmpty(t, result.ExecutionID)

	// The run left a finalized execution log behind.
	rec = doJSON(t, h, http.MethodGet, "/api/executions/"+result.ExecutionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var row store.ExecutionLog
	decodeBody(t, rec, &row)
	assert.Equal(t, schema.RunStatusCompleted, row.Status)
	assert.Equal(t, "api", row.Trigger)
	assert.Equal(t, "v7", row.DeploymentVersionID, "run is tagged with the workflow version")

	// And an event trail.
	rec = doJSON(t, h, http.MethodGet, "/api/executions/"+result.ExecutionID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Events []*store.Event `json:"events"`
	}
	decodeBody(t, rec, &events)
	assert.NotEmpty(t, events.Events)
}

func TestRunMissingWorkflowReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/workflows/nope/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestListExecutionsFiltersByWorkflow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, id := range []string{"wf-a", "wf-b"} {
		rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
			"id":         id,
			"definition": sampleDefinition(),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/workflows/%s/run", id), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/executions?workflow_id=wf-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Executions []*store.ExecutionLog `json:"executions"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Executions, 1)
	assert.Equal(t, "wf-a", body.Executions[0].WorkflowID)
}

func TestPauseInactiveExecutionReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/executions/ghost/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeWithoutPauseReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/executions/ghost/resume", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestRunStateReflectsFinishedRun(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
		"id":         "wf-state",
		"definition": sampleDefinition(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/workflows/wf-state/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/workflows/wf-state/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state runstate.RunState
	decodeBody(t, rec, &state)
	assert.False(t, state.IsExecuting)
	assert.Equal(t, schema.BlockStatusSuccess, state.LastRunPath["blockA"])
	assert.Equal(t, schema.BlockStatusSuccess, state.LastRunPath["blockB"])
}

func TestTriggerCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
		"id":         "wf-cron",
		"definition": sampleDefinition(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Creating a trigger for an unknown workflow fails.
	rec = doJSON(t, h, http.MethodPost, "/api/triggers", map[string]any{
		"workflow_id":     "ghost",
		"cron_expression": "0 * * * *",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/triggers", map[string]any{
		"workflow_id":     "wf-cron",
		"cron_expression": "0 * * * *",
		"enabled":         true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	decodeBody(t, rec, &created)
	id := created["id"]
	require.NotEmpty(t, id)

	rec = doJSON(t, h, http.MethodGet, "/api/triggers?workflow_id=wf-cron", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Triggers []*store.ScheduledTrigger `json:"triggers"`
	}
	decodeBody(t, rec, &listed)
	require.Len(t, listed.Triggers, 1)
	assert.True(t, listed.Triggers[0].Enabled)

	disabled := false
	rec = doJSON(t, h, http.MethodPut, "/api/triggers/"+id, map[string]any{"enabled": &disabled})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/triggers/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/triggers", nil)
	decodeBody(t, rec, &listed)
	assert.Empty(t, listed.Triggers)
}

func TestSSEStreamsRunEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
		"id":         "wf-sse",
		"definition": sampleDefinition(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse/events", nil).WithContext(ctx)
	sseRec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(sseRec, req)
	}()

	// Give the SSE handler a moment to register its subscription.
	time.Sleep(50 * time.Millisecond)

	runRec := doJSON(t, h, http.MethodPost, "/api/workflows/wf-sse/run", nil)
	require.Equal(t, http.StatusOK, runRec.Code)

	cancel()
	<-done

	body := sseRec.Body.String()
	assert.Contains(t, body, "event: "+schema.EventRunStarted)
	assert.Contains(t, body, "event: "+schema.EventRunCompleted)
}

func TestWorkflowDiagram(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/workflows", map[string]any{
		"id":         "wf-diag",
		"name":       "diagrammed",
		"definition": sampleDefinition(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/workflows/wf-diag/diagram", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "graph TD")
	assert.Contains(t, rec.Body.String(), "blockA")

	rec = doJSON(t, h, http.MethodGet, "/api/workflows/wf-diag/diagram?format=ascii", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "=== diagrammed ===")

	rec = doJSON(t, h, http.MethodGet, "/api/workflows/wf-diag/diagram?format=png", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/workflows/ghost/diagram", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
