package mcp

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/pkg/schema"
)

// RunNotifier pushes run lifecycle notifications to sessions watching
// a workflow. It implements engine.Listener; only run start and finish
// are forwarded, block-level events stay on the SSE stream.
type RunNotifier struct {
	mcpServer *server.MCPServer
	watches   *WatchRegistry
	logger    *slog.Logger

	mu        sync.Mutex
	workflows map[string]string // executionID -> workflowID
}

// NewRunNotifier creates a notifier bound to an MCP server and its
// watch registry.
func NewRunNotifier(mcpServer *server.MCPServer, watches *WatchRegistry, logger *slog.Logger) *RunNotifier {
	return &RunNotifier{
		mcpServer: mcpServer,
		watches:   watches,
		logger:    logger,
		workflows: make(map[string]string),
	}
}

func (n *RunNotifier) RunStarted(executionID, workflowID string) {
	n.mu.Lock()
	n.workflows[executionID] = workflowID
	n.mu.Unlock()

	n.notify(workflowID, map[string]any{
		"event":       schema.EventRunStarted,
		"executionId": executionID,
		"workflowId":  workflowID,
	})
}

func (n *RunNotifier) BatchReady(executionID string, ready []string) {}

func (n *RunNotifier) BlockStarted(executionID, blockID string, iteration int) {}

func (n *RunNotifier) BlockFinished(executionID string, block *schema.BlockDescriptor, iteration int, out *schema.BlockOutput, status schema.BlockStatus, blockErr error, startedAt time.Time, duration time.Duration) {
}

func (n *RunNotifier) EdgeResolved(executionID string, edge schema.Edge, satisfied bool) {}

func (n *RunNotifier) RunFinished(executionID string, status schema.RunStatus, result *engine.RunResult) {
	n.mu.Lock()
	workflowID := n.workflows[executionID]
	delete(n.workflows, executionID)
	n.mu.Unlock()
	if workflowID == "" {
		return
	}

	payload := map[string]any{
		"event":       runFinishedEvent(status),
		"executionId": executionID,
		"workflowId":  workflowID,
		"status":      string(status),
	}
	if result != nil {
		payload["durationMs"] = result.DurationMs
		if result.Error != nil {
			payload["error"] = result.Error.Message
		}
	}
	n.notify(workflowID, payload)
}

// notify pushes a payload to every session watching the workflow.
// Best-effort: expired sessions are pruned, other errors are logged.
func (n *RunNotifier) notify(workflowID string, payload map[string]any) {
	for _, sessionID := range n.watches.SessionsFor(workflowID) {
		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.watches.Remove(sessionID)
			continue
		}
		if err != nil && n.logger != nil {
			n.logger.Warn("run notification failed",
				"workflow_id", workflowID, "session_id", sessionID, "error", err)
		}
	}
}

func runFinishedEvent(status schema.RunStatus) string {
	switch status {
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusPaused:
		return schema.EventRunPaused
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return schema.EventRunCompleted
	}
}

var _ engine.Listener = (*RunNotifier)(nil)
