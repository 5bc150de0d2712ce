package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/weave/internal/logging"
	"github.com/rendis/weave/pkg/schema"
)

// DebugSession drives one execution a single ready batch at a time.
// Between steps the run is suspended at a dispatch boundary: no block
// is in flight and the ready set is re-derived from recorded state on
// every call, so repeated inspection is stable.
type DebugSession struct {
	x         *Executor
	cg        *CompiledGraph
	ec        *ExecutionContext
	opts      RunOptions
	pool      *WorkerPool
	startedAt time.Time
	result    *RunResult
}

// StepResult reports what one debug step did.
type StepResult struct {
	Executed []string   `json:"executed"` // unit IDs dispatched in this batch
	Skipped  []string   `json:"skipped"`  // unit IDs resolved as skipped
	Done     bool       `json:"done"`
	Result   *RunResult `json:"result,omitempty"` // set once Done
}

// StartDebug begins a debug-mode execution. No block runs until the
// first Step call.
func (x *Executor) StartDebug(ctx context.Context, workflowID string, g *schema.Graph, opts RunOptions) (*DebugSession, error) {
	cg, err := Compile(g)
	if err != nil {
		return nil, err
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	opts.Debug = true
	ec := NewExecutionContext(executionID, workflowID, opts.Variables)
	ctx = logging.WithIDs(ctx, workflowID, executionID, "")
	startedAt := time.Now().UTC()

	if err := x.runFSM.Transition(ctx, executionID, workflowID, schema.RunStatusIdle, schema.RunStatusRunning); err != nil {
		return nil, err
	}
	if err := x.createLog(ctx, ec, opts, startedAt); err != nil {
		return nil, err
	}

	x.mu.Lock()
	x.active[executionID] = ec
	x.mu.Unlock()

	for _, l := range x.snapshotListeners() {
		l.RunStarted(executionID, workflowID)
	}

	return &DebugSession{
		x:         x,
		cg:        cg,
		ec:        ec,
		opts:      opts,
		pool:      NewWorkerPool(x.cfg.MaxConcurrency),
		startedAt: startedAt,
	}, nil
}

// ExecutionID identifies the session's run.
func (s *DebugSession) ExecutionID() string { return s.ec.ExecutionID }

// Done reports whether the run has reached a terminal state.
func (s *DebugSession) Done() bool { return s.result != nil }

// State captures the current execution state, for inspection between
// steps.
func (s *DebugSession) State() *SerializableExecutionState {
	return CaptureState(s.ec, schema.RunStatusRunning)
}

// Step dispatches exactly one batch of ready units and waits for it to
// finish. Units whose incoming edges resolved with a skip are skipped
// first; when nothing is ready and nothing skips, the run finalizes.
func (s *DebugSession) Step(ctx context.Context) (*StepResult, error) {
	if s.result != nil {
		return &StepResult{Done: true, Result: s.result}, nil
	}
	ctx = logging.WithIDs(ctx, s.ec.WorkflowID, s.ec.ExecutionID, "")

	if err := ctx.Err(); err != nil || s.ec.CancelRequested() {
		return s.finalize(ctx, schema.RunStatusCancelled, nil)
	}

	step := &StepResult{}
	for {
		ready, skipped := s.x.resolveUnits(s.cg, s.ec)
		for _, u := range skipped {
			if err := s.x.skipUnit(ctx, s.cg, s.ec, u); err != nil {
				return s.finalize(ctx, schema.RunStatusFailed, asWeaveError(err))
			}
			step.Skipped = append(step.Skipped, u.id)
		}
		if len(ready) == 0 {
			if len(skipped) > 0 {
				continue
			}
			return s.finalize(ctx, schema.RunStatusCompleted, nil)
		}

		for _, u := range ready {
			step.Executed = append(step.Executed, u.id)
		}
		results := s.x.dispatchWave(ctx, s.pool, s.cg, s.ec, ready)
		for _, res := range results {
			if res.err == nil {
				continue
			}
			if ctx.Err() != nil {
				return s.finalize(ctx, schema.RunStatusCancelled, nil)
			}
			return s.finalize(ctx, schema.RunStatusFailed, asWeaveError(res.err))
		}
		return step, nil
	}
}

// Continue runs the remaining batches to a terminal state without
// further step boundaries.
func (s *DebugSession) Continue(ctx context.Context) (*RunResult, error) {
	for {
		step, err := s.Step(ctx)
		if err != nil {
			return s.result, err
		}
		if step.Done {
			return step.Result, nil
		}
	}
}

// Cancel finalizes the session as cancelled.
func (s *DebugSession) Cancel(ctx context.Context) (*RunResult, error) {
	if s.result != nil {
		return s.result, nil
	}
	res, err := s.finalize(ctx, schema.RunStatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

func (s *DebugSession) finalize(ctx context.Context, status schema.RunStatus, runErr *schema.WeaveError) (*StepResult, error) {
	s.pool.Shutdown()
	x := s.x

	x.mu.Lock()
	delete(x.active, s.ec.ExecutionID)
	x.mu.Unlock()

	result, err := x.finish(ctx, s.cg, s.ec, status, runErr, s.startedAt)
	s.result = result
	step := &StepResult{Done: true, Result: result}
	return step, err
}
