package streaming

import (
	"context"
	"encoding/json"
	"time"
)

// StreamEvent is a real-time event emitted while an execution runs.
// Type uses the same vocabulary as the persisted event log
// (run_started, block_succeeded, edge_activated, ...), so a client can
// correlate the live stream with stored history.
type StreamEvent struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	BlockID     string          `json:"block_id,omitempty"`
	Iteration   int             `json:"iteration,omitempty"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Zero-valued fields match everything.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
