package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/weave/internal/diagram"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/pkg/schema"
)

// handleRun executes a stored workflow to completion (or pause).
func (s *WeaveServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	variables := mcp.ParseStringMap(req, "variables", nil)

	result, runErr := s.service.RunWorkflow(ctx, workflowID, variables, "api")
	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}
	// A failed run still produced a result the agent can inspect.
	return marshalResult(result)
}

// handleStatus returns the execution log entry for an execution.
func (s *WeaveServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	row, logErr := s.store.GetExecutionLog(ctx, executionID)
	if logErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", logErr)), nil
	}
	return marshalResult(row)
}

// handlePause requests a cooperative pause of an active execution.
func (s *WeaveServer) handlePause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	if !s.executor.RequestPause(executionID) {
		return mcp.NewToolResultError(fmt.Sprintf("no active execution %q", executionID)), nil
	}
	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
		"note":         "pause is cooperative; the run suspends at its next dispatch boundary",
	})
}

// handleResume resumes a paused execution from its latest snapshot.
func (s *WeaveServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	result, resumeErr := s.service.ResumeExecution(ctx, executionID)
	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}
	return marshalResult(result)
}

// handleQuery lists workflows, executions, paused executions, or triggers.
func (s *WeaveServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		workflows, err := s.store.ListWorkflows(ctx, extractInt(filter, "limit", 50))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"workflows": workflows})

	case "executions":
		ef := store.ExecutionLogFilter{
			Limit:  extractInt(filter, "limit", 50),
			Offset: extractInt(filter, "offset", 0),
		}
		if wfID, ok := filter["workflow_id"].(string); ok {
			ef.WorkflowID = wfID
		}
		if trig, ok := filter["trigger"].(string); ok {
			ef.Trigger = trig
		}
		if status, ok := filter["status"].(string); ok && status != "" {
			rs := schema.RunStatus(status)
			ef.Status = &rs
		}
		logs, err := s.store.ListExecutionLogs(ctx, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"executions": logs})

	case "paused":
		paused, err := s.pause.ListPending(ctx, extractInt(filter, "limit", 50))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"paused": paused})

	case "triggers":
		tf := store.TriggerFilter{Limit: extractInt(filter, "limit", 50)}
		if wfID, ok := filter["workflow_id"].(string); ok {
			tf.WorkflowID = wfID
		}
		triggers, err := s.store.ListTriggers(ctx, tf)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"triggers": triggers})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleDiagram renders a workflow's graph.
func (s *WeaveServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format := req.GetString("format", "mermaid")

	wf, wfErr := s.store.GetWorkflow(ctx, workflowID)
	if wfErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", wfErr)), nil
	}

	if wf.Definition != nil && wf.Definition.Name == "" {
		wf.Definition.Name = wf.Name
	}
	model, buildErr := diagram.Build(wf.Definition, nil)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	default:
		return mcp.NewToolResultError("format must be mermaid or ascii"), nil
	}
}

// handleWatch subscribes the calling session to a workflow's run
// notifications.
func (s *WeaveServer) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("no active session to subscribe"), nil
	}
	if _, wfErr := s.store.GetWorkflow(ctx, workflowID); wfErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", wfErr)), nil
	}

	s.watches.Watch(workflowID, session.SessionID())
	return marshalResult(map[string]any{
		"ok":          true,
		"workflow_id": workflowID,
	})
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
