package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/weave/internal/diagram"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/pkg/schema"
)

// --- Workflows ---

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		ID                  string          `json:"id"`
		Name                string          `json:"name"`
		DeploymentVersionID string          `json:"deployment_version_id"`
		Definition          *schema.Graph   `json:"definition"`
		Variables           map[string]any  `json:"variables"`
		Metadata            json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	wf := &store.Workflow{
		ID:                  body.ID,
		Name:                body.Name,
		DeploymentVersionID: body.DeploymentVersionID,
		Definition:          body.Definition,
		Variables:           body.Variables,
		Metadata:            body.Metadata,
	}
	if err := s.deps.Service.CreateWorkflow(ctx, wf); err != nil {
		writeWeaveError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": wf.ID})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.deps.Store.ListWorkflows(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteWorkflow(r.Context(), id); err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var body struct {
		Variables map[string]any `json:"variables"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	result, err := s.deps.Service.RunWorkflow(ctx, id, body.Variables, "api")
	if err != nil && result == nil {
		writeWeaveError(w, err)
		return
	}
	// A failed run still produced a result; report it with 200 so the
	// client can read status and error from the body.
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	state := s.deps.RunState.State(r.PathValue("id"))
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWeaveError(w, err)
		return
	}

	// Stored definitions usually carry no name of their own; the
	// workflow's name titles the diagram.
	if wf.Definition != nil && wf.Definition.Name == "" {
		wf.Definition.Name = wf.Name
	}
	model, err := diagram.Build(wf.Definition, nil)
	if err != nil {
		writeWeaveError(w, err)
		return
	}

	var rendered string
	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		rendered = diagram.RenderMermaid(model)
	case "ascii":
		rendered = diagram.RenderASCII(model)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown diagram format %q", format))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, rendered)
}

// --- Executions ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionLogFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Trigger:    r.URL.Query().Get("trigger"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := schema.RunStatus(v)
		filter.Status = &st
	}
	if v := r.URL.Query().Get("level"); v != "" {
		lvl := schema.LogLevel(v)
		filter.Level = &lvl
	}

	logs, err := s.deps.Store.ListExecutionLogs(r.Context(), filter)
	if err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": logs})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	row, err := s.deps.Store.GetExecutionLog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(queryInt(r, "since", 0))
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handlePauseExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Executor.RequestPause(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no active execution %q", id))
		return
	}
	// The pause is cooperative: the run suspends at its next dispatch
	// boundary, after which the paused row becomes visible.
	writeJSON(w, http.StatusAccepted, map[string]string{"ok": "true", "execution_id": id})
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.deps.Service.ResumeExecution(r.Context(), id)
	if err != nil && result == nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Executor.RequestCancel(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no active execution %q", id))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"ok": "true", "execution_id": id})
}

func (s *Server) handleListPaused(w http.ResponseWriter, r *http.Request) {
	paused, err := s.deps.Pause.ListPending(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": paused})
}

// --- Scheduled triggers ---

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		WorkflowID     string          `json:"workflow_id"`
		CronExpression string          `json:"cron_expression"`
		Variables      json.RawMessage `json:"variables"`
		Enabled        bool            `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkflowID == "" || body.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "workflow_id and cron_expression are required")
		return
	}
	if _, err := s.deps.Store.GetWorkflow(ctx, body.WorkflowID); err != nil {
		writeWeaveError(w, err)
		return
	}

	tr := &store.ScheduledTrigger{
		ID:             uuid.New().String(),
		WorkflowID:     body.WorkflowID,
		CronExpression: body.CronExpression,
		Variables:      body.Variables,
		Enabled:        body.Enabled,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.deps.Store.CreateTrigger(ctx, tr); err != nil {
		writeWeaveError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": tr.ID})
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	filter := store.TriggerFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Limit:      queryInt(r, "limit", 100),
	}
	triggers, err := s.deps.Store.ListTriggers(r.Context(), filter)
	if err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": triggers})
}

func (s *Server) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.deps.Store.UpdateTrigger(r.Context(), id, store.TriggerUpdate{
		Enabled: body.Enabled,
	}); err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteTrigger(r.Context(), id); err != nil {
		writeWeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

// writeWeaveError maps an error to an HTTP status by its code.
func writeWeaveError(w http.ResponseWriter, err error) {
	var we *schema.WeaveError
	if !errors.As(err, &we) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch we.Code {
	case schema.ErrCodeNotFound, schema.ErrCodeSnapshotNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected, schema.ErrCodeUnresolvedReference:
		status = http.StatusBadRequest
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": we})
}
