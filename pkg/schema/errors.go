package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeBlockFailed         = "BLOCK_FAILED"
	ErrCodeTimeout             = "TIMEOUT_ERROR"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodeSnapshot            = "SNAPSHOT_ERROR"
	ErrCodeSnapshotNotFound    = "SNAPSHOT_NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeCycleDetected       = "CYCLE_DETECTED"
	ErrCodeInterpolation       = "INTERPOLATION_ERROR"
	ErrCodeRunnerUnavailable   = "RUNNER_UNAVAILABLE"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeStore               = "STORE_ERROR"
)

// WeaveError is the structured error type for all engine operations.
type WeaveError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	BlockID string         `json:"block_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *WeaveError) Error() string {
	if e.BlockID != "" {
		return fmt.Sprintf("[%s] block %s: %s", e.Code, e.BlockID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WeaveError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the error is an internal invariant violation
// that aborts the run regardless of error-handling edges.
func (e *WeaveError) Fatal() bool {
	return e.Code == ErrCodeUnresolvedReference || e.Code == ErrCodeInvalidTransition
}

// NewError creates a new WeaveError.
func NewError(code, message string) *WeaveError {
	return &WeaveError{Code: code, Message: message}
}

// NewErrorf creates a new WeaveError with a formatted message.
func NewErrorf(code, format string, args ...any) *WeaveError {
	return &WeaveError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithBlock attaches a block ID to the error.
func (e *WeaveError) WithBlock(blockID string) *WeaveError {
	e.BlockID = blockID
	return e
}

// WithCause attaches an underlying cause.
func (e *WeaveError) WithCause(err error) *WeaveError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WeaveError) WithDetails(details map[string]any) *WeaveError {
	e.Details = details
	return e
}
