package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, limit int) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Execution logs (one row per run)
	CreateExecutionLog(ctx context.Context, log *ExecutionLog) error
	UpdateExecutionLog(ctx context.Context, executionID string, update ExecutionLogUpdate) error
	GetExecutionLog(ctx context.Context, executionID string) (*ExecutionLog, error)
	ListExecutionLogs(ctx context.Context, filter ExecutionLogFilter) ([]*ExecutionLog, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	GetLatestSnapshot(ctx context.Context, executionID string) (*Snapshot, error)

	// Paused executions
	UpsertPausedExecution(ctx context.Context, p *PausedExecution) error
	GetPausedExecution(ctx context.Context, executionID string) (*PausedExecution, error)
	ListPausedExecutions(ctx context.Context, limit int) ([]*PausedExecution, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Scheduled triggers
	CreateTrigger(ctx context.Context, t *ScheduledTrigger) error
	GetTrigger(ctx context.Context, id string) (*ScheduledTrigger, error)
	UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]*ScheduledTrigger, error)
	DeleteTrigger(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
