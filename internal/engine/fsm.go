package engine

import (
	"context"
	"sync"

	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store and EventLog; used by FSMs to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Run FSM ---

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a new RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a run state transition.
// It emits the corresponding event via the appender.
// The caller (Executor) is responsible for persisting the new state.
func (f *RunFSM) Transition(ctx context.Context, executionID, workflowID string, from, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := runEventType(to)
	if eventType != "" && f.appender != nil {
		event := &store.Event{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			Type:        eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	case schema.RunStatusPaused:
		return schema.EventRunPaused
	default:
		return ""
	}
}

// --- Block FSM ---

type blockHookKey struct {
	from, to schema.BlockStatus
}

// BlockFSM manages block lifecycle state transitions within a run.
type BlockFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[blockHookKey][]TransitionHook
	after    map[blockHookKey][]TransitionHook
}

// NewBlockFSM creates a new BlockFSM that emits events via the given appender.
func NewBlockFSM(appender EventAppender) *BlockFSM {
	return &BlockFSM{
		appender: appender,
		before:   make(map[blockHookKey][]TransitionHook),
		after:    make(map[blockHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a block transition.
func (f *BlockFSM) OnBefore(from, to schema.BlockStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := blockHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a block transition.
func (f *BlockFSM) OnAfter(from, to schema.BlockStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := blockHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a block state transition.
// It emits the corresponding event via the appender.
func (f *BlockFSM) Transition(ctx context.Context, executionID, blockID string, from, to schema.BlockStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidBlockTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid block transition: %s -> %s", from, to).
			WithBlock(blockID).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := blockHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := blockEventType(to)
	if eventType != "" && f.appender != nil {
		event := &store.Event{
			ExecutionID: executionID,
			BlockID:     blockID,
			Type:        eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit block event: %s", err.Error()).
				WithBlock(blockID).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidBlockTransition(from, to schema.BlockStatus) bool {
	allowed, ok := ValidBlockTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func blockEventType(to schema.BlockStatus) string {
	switch to {
	case schema.BlockStatusActive:
		return schema.EventBlockStarted
	case schema.BlockStatusSuccess:
		return schema.EventBlockSucceeded
	case schema.BlockStatusError:
		return schema.EventBlockFailed
	case schema.BlockStatusSkipped:
		return schema.EventBlockSkipped
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed state transitions for runs.
// Running is re-entered from Paused on resume.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusIdle:      {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusPaused, schema.RunStatusCancelled},
	schema.RunStatusPaused:    {schema.RunStatusRunning, schema.RunStatusCancelled, schema.RunStatusFailed},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// ValidBlockTransitions defines the allowed state transitions for blocks.
// Pending blocks may be skipped directly (conditional branch not taken,
// disabled block, cancel cascade).
var ValidBlockTransitions = map[schema.BlockStatus][]schema.BlockStatus{
	schema.BlockStatusPending: {schema.BlockStatusActive, schema.BlockStatusSuccess, schema.BlockStatusSkipped},
	schema.BlockStatusActive:  {schema.BlockStatusSuccess, schema.BlockStatusError, schema.BlockStatusSkipped},
	schema.BlockStatusSuccess: {},
	schema.BlockStatusError:   {},
	schema.BlockStatusSkipped: {},
}

// CancelRun transitions a run to cancelled and skips all non-terminal blocks.
// blockStates is a map of block ID -> current status for all known blocks.
func CancelRun(ctx context.Context, runFSM *RunFSM, blockFSM *BlockFSM, executionID, workflowID string, currentStatus schema.RunStatus, blockStates map[string]schema.BlockStatus) error {
	if err := runFSM.Transition(ctx, executionID, workflowID, currentStatus, schema.RunStatusCancelled); err != nil {
		return err
	}

	for blockID, status := range blockStates {
		if status.Terminal() {
			continue
		}
		if isValidBlockTransition(status, schema.BlockStatusSkipped) {
			if err := blockFSM.Transition(ctx, executionID, blockID, status, schema.BlockStatusSkipped); err != nil {
				return err
			}
		}
	}
	return nil
}
