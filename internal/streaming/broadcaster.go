package streaming

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/pkg/schema"
)

// EventBatchReady is a stream-only event type: the scheduler announces
// which blocks are about to dispatch. It is not persisted to the event
// log, so it lives here rather than in the schema vocabulary.
const EventBatchReady = "batch_ready"

// Broadcaster bridges the executor's listener callbacks onto an
// EventHub so clients can follow a run live. Attach it with
// Executor.AddListener.
type Broadcaster struct {
	hub    EventHub
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]string
}

// NewBroadcaster creates a broadcaster publishing to the given hub.
func NewBroadcaster(hub EventHub, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		hub:       hub,
		logger:    logger,
		workflows: make(map[string]string),
	}
}

func (b *Broadcaster) RunStarted(executionID, workflowID string) {
	b.mu.Lock()
	b.workflows[executionID] = workflowID
	b.mu.Unlock()

	b.publish(StreamEvent{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Type:        schema.EventRunStarted,
	})
}

func (b *Broadcaster) BatchReady(executionID string, ready []string) {
	payload, _ := json.Marshal(map[string]any{"blocks": ready})
	b.publish(StreamEvent{
		ExecutionID: executionID,
		WorkflowID:  b.workflowFor(executionID),
		Type:        EventBatchReady,
		Payload:     payload,
	})
}

func (b *Broadcaster) BlockStarted(executionID, blockID string, iteration int) {
	b.publish(StreamEvent{
		ExecutionID: executionID,
		WorkflowID:  b.workflowFor(executionID),
		BlockID:     blockID,
		Iteration:   iteration,
		Type:        schema.EventBlockStarted,
	})
}

func (b *Broadcaster) BlockFinished(executionID string, block *schema.BlockDescriptor, iteration int, out *schema.BlockOutput, status schema.BlockStatus, blockErr error, startedAt time.Time, duration time.Duration) {
	payload := map[string]any{"duration_ms": duration.Milliseconds()}
	if out != nil && len(out.Data) > 0 {
		payload["output"] = json.RawMessage(out.Data)
	}
	if blockErr != nil {
		payload["error"] = blockErr.Error()
	}
	raw, _ := json.Marshal(payload)

	b.publish(StreamEvent{
		ExecutionID: executionID,
		WorkflowID:  b.workflowFor(executionID),
		BlockID:     block.ID,
		Iteration:   iteration,
		Type:        blockEventType(status),
		Payload:     raw,
	})
}

func (b *Broadcaster) EdgeResolved(executionID string, edge schema.Edge, satisfied bool) {
	typ := schema.EventEdgeActivated
	if !satisfied {
		typ = schema.EventEdgeSkipped
	}
	payload, _ := json.Marshal(map[string]any{"edge": edge.Key()})
	b.publish(StreamEvent{
		ExecutionID: executionID,
		WorkflowID:  b.workflowFor(executionID),
		Type:        typ,
		Payload:     payload,
	})
}

func (b *Broadcaster) RunFinished(executionID string, status schema.RunStatus, result *engine.RunResult) {
	var payload json.RawMessage
	if result != nil {
		p := map[string]any{
			"status":      status,
			"duration_ms": result.DurationMs,
			"total_cost":  result.TotalCost,
		}
		if result.Error != nil {
			p["error"] = result.Error
		}
		payload, _ = json.Marshal(p)
	}
	b.publish(StreamEvent{
		ExecutionID: executionID,
		WorkflowID:  b.workflowFor(executionID),
		Type:        runEventType(status),
		Payload:     payload,
	})

	b.mu.Lock()
	delete(b.workflows, executionID)
	b.mu.Unlock()
}

func (b *Broadcaster) publish(e StreamEvent) {
	e.Timestamp = time.Now().UTC()
	if err := b.hub.Publish(context.Background(), e); err != nil {
		b.logger.Warn("stream publish failed", "type", e.Type, "error", err)
	}
}

func (b *Broadcaster) workflowFor(executionID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.workflows[executionID]
}

func blockEventType(status schema.BlockStatus) string {
	switch status {
	case schema.BlockStatusSuccess:
		return schema.EventBlockSucceeded
	case schema.BlockStatusError:
		return schema.EventBlockFailed
	case schema.BlockStatusSkipped:
		return schema.EventBlockSkipped
	default:
		return schema.EventBlockStarted
	}
}

func runEventType(status schema.RunStatus) string {
	switch status {
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	case schema.RunStatusPaused:
		return schema.EventRunPaused
	default:
		return schema.EventRunCompleted
	}
}
