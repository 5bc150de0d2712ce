package schema

// Event type constants for the per-execution event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunPaused    = "run_paused"
	EventRunResumed   = "run_resumed"

	EventBlockStarted   = "block_started"
	EventBlockSucceeded = "block_succeeded"
	EventBlockFailed    = "block_failed"
	EventBlockSkipped   = "block_skipped"

	EventEdgeActivated = "edge_activated"
	EventEdgeSkipped   = "edge_skipped"

	EventLoopStarted       = "loop_started"
	EventLoopIterStarted   = "loop_iter_started"
	EventLoopIterCompleted = "loop_iter_completed"
	EventLoopCompleted     = "loop_completed"
	EventParallelStarted   = "parallel_started"
	EventParallelCompleted = "parallel_completed"

	EventSnapshotSaved = "snapshot_saved"
)

// RunStatus represents the lifecycle state of one execution.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// BlockStatus represents the lifecycle state of a block within a run.
type BlockStatus string

const (
	BlockStatusPending BlockStatus = "pending"
	BlockStatusActive  BlockStatus = "active"
	BlockStatusSuccess BlockStatus = "success"
	BlockStatusError   BlockStatus = "error"
	BlockStatusSkipped BlockStatus = "skipped"
)

// Terminal reports whether the block status admits no further transitions.
func (s BlockStatus) Terminal() bool {
	return s == BlockStatusSuccess || s == BlockStatusError || s == BlockStatusSkipped
}

// PauseStatus represents the durable pause lifecycle of an execution.
type PauseStatus string

const (
	PauseStatusActivePaused     PauseStatus = "active-paused"
	PauseStatusPartiallyResumed PauseStatus = "partially-resumed"
	PauseStatusFullyResumed     PauseStatus = "fully-resumed"
)

// LogLevel is the severity recorded on an execution log row.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)
