package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/weave/pkg/schema"
)

// Workflow is a registered workflow definition the engine can execute.
type Workflow struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name,omitempty"`
	DeploymentVersionID string          `json:"deployment_version_id,omitempty"`
	Definition          *schema.Graph   `json:"definition"`
	Variables           map[string]any  `json:"variables,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ExecutionLog is the durable record of one run. One row per execution,
// created when the run starts and finalized at its terminal transition.
type ExecutionLog struct {
	ExecutionID         string           `json:"execution_id"`
	WorkflowID          string           `json:"workflow_id"`
	DeploymentVersionID string           `json:"deployment_version_id,omitempty"`
	Level               schema.LogLevel  `json:"level"`
	Status              schema.RunStatus `json:"status"`
	Trigger             string           `json:"trigger"`
	StartedAt           time.Time        `json:"started_at"`
	EndedAt             *time.Time       `json:"ended_at,omitempty"`
	TotalDurationMs     int64            `json:"total_duration_ms,omitempty"`
	Cost                json.RawMessage  `json:"cost,omitempty"`
	ExecutionData       json.RawMessage  `json:"execution_data,omitempty"`
	StateSnapshotID     string           `json:"state_snapshot_id,omitempty"`
}

// Snapshot is a persisted serialized execution state, referenced by both
// ExecutionLog and PausedExecution.
type Snapshot struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	State       json.RawMessage `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PausedExecution is the durable pause bookkeeping for one execution.
type PausedExecution struct {
	ExecutionID      string             `json:"execution_id"`
	WorkflowID       string             `json:"workflow_id"`
	Status           schema.PauseStatus `json:"status"`
	TotalPauseCount  int                `json:"total_pause_count"`
	ResumedCount     int                `json:"resumed_count"`
	LatestSnapshotID string             `json:"latest_snapshot_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// HasPendingPause reports whether the execution still owes a resume.
func (p *PausedExecution) HasPendingPause() bool {
	return p.ResumedCount < p.TotalPauseCount || p.Status != schema.PauseStatusFullyResumed
}

// Event is an immutable entry in the per-execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	BlockID     string          `json:"block_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ScheduledTrigger is a cron-driven workflow start.
type ScheduledTrigger struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	CronExpression string          `json:"cron_expression"`
	Variables      json.RawMessage `json:"variables,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// ExecutionLogFilter specifies criteria for listing execution logs.
type ExecutionLogFilter struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     *schema.RunStatus `json:"status,omitempty"`
	Level      *schema.LogLevel  `json:"level,omitempty"`
	Trigger    string            `json:"trigger,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// ExecutionLogUpdate specifies mutable fields of an execution log row.
type ExecutionLogUpdate struct {
	Level           *schema.LogLevel  `json:"level,omitempty"`
	Status          *schema.RunStatus `json:"status,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	TotalDurationMs *int64            `json:"total_duration_ms,omitempty"`
	Cost            json.RawMessage   `json:"cost,omitempty"`
	ExecutionData   json.RawMessage   `json:"execution_data,omitempty"`
	StateSnapshotID string            `json:"state_snapshot_id,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	ExecutionID string     `json:"execution_id,omitempty"`
	BlockID     string     `json:"block_id,omitempty"`
	EventType   string     `json:"event_type,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// TriggerFilter specifies criteria for listing scheduled triggers.
type TriggerFilter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// TriggerUpdate specifies mutable fields of a scheduled trigger.
type TriggerUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}
