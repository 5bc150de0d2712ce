package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/weave/internal/expressions"
	"github.com/rendis/weave/internal/logging"
	"github.com/rendis/weave/internal/runner"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/pkg/schema"
)

// Listener observes run progress. Trace recording, run-state tracking
// and event streaming all attach through this interface.
type Listener interface {
	RunStarted(executionID, workflowID string)
	BatchReady(executionID string, ready []string)
	BlockStarted(executionID, blockID string, iteration int)
	BlockFinished(executionID string, block *schema.BlockDescriptor, iteration int, out *schema.BlockOutput, status schema.BlockStatus, blockErr error, startedAt time.Time, duration time.Duration)
	EdgeResolved(executionID string, edge schema.Edge, satisfied bool)
	RunFinished(executionID string, status schema.RunStatus, result *RunResult)
}

// PauseHandler persists the durable side of a cooperative pause.
type PauseHandler interface {
	HandlePause(ctx context.Context, state *SerializableExecutionState) error
}

// Config tunes executor behavior.
type Config struct {
	// MaxConcurrency bounds how many blocks run at once within a wave.
	MaxConcurrency int
	// DefaultBlockTimeout applies to blocks without an explicit timeout.
	// Zero means no default timeout.
	DefaultBlockTimeout time.Duration
}

// RunOptions configures one execution.
type RunOptions struct {
	ExecutionID string // generated when empty
	Variables   map[string]any
	Trigger     string // "manual", "api", "schedule", "resume"
	Debug       bool
	// DeploymentVersionID tags the execution log with the workflow
	// version that produced the run.
	DeploymentVersionID string
}

// RunResult is the outcome of one execution.
type RunResult struct {
	ExecutionID string                                 `json:"executionId"`
	WorkflowID  string                                 `json:"workflowId"`
	Status      schema.RunStatus                       `json:"status"`
	Outputs     map[string]map[int]*schema.BlockOutput `json:"outputs"`
	Path        []string                               `json:"path"`
	Error       *schema.WeaveError                     `json:"error,omitempty"`
	StartedAt   time.Time                              `json:"startedAt"`
	EndedAt     time.Time                              `json:"endedAt"`
	DurationMs  int64                                  `json:"durationMs"`
	TotalCost   float64                                `json:"totalCost"`
}

// Executor schedules a compiled graph to completion: it dispatches
// ready blocks in waves, resolves conditional edges against branch
// outputs, contains block failures on error edges, and drives the run
// and block state machines.
type Executor struct {
	registry runner.BlockRegistry
	st       store.Store
	appender EventAppender
	runFSM   *RunFSM
	blockFSM *BlockFSM
	interp   *expressions.Interpolator
	logger   *slog.Logger
	cfg      Config

	mu        sync.RWMutex
	listeners []Listener
	pause     PauseHandler
	active    map[string]*ExecutionContext
}

// NewExecutor wires an executor. st and appender may be nil for
// ephemeral in-memory runs.
func NewExecutor(registry runner.BlockRegistry, st store.Store, appender EventAppender, logger *slog.Logger, cfg Config) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Executor{
		registry: registry,
		st:       st,
		appender: appender,
		runFSM:   NewRunFSM(appender),
		blockFSM: NewBlockFSM(appender),
		interp:   expressions.NewInterpolator(),
		logger:   logger,
		cfg:      cfg,
		active:   make(map[string]*ExecutionContext),
	}
}

// AddListener attaches a run observer.
func (x *Executor) AddListener(l Listener) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.listeners = append(x.listeners, l)
}

// SetPauseHandler attaches the component that persists pause snapshots.
func (x *Executor) SetPauseHandler(h PauseHandler) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pause = h
}

// RequestPause flags an active run for a pause at its next dispatch
// boundary. In-flight blocks finish first.
func (x *Executor) RequestPause(executionID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ec, ok := x.active[executionID]
	if ok {
		ec.RequestPause()
	}
	return ok
}

// RequestCancel flags an active run for cancellation at its next
// dispatch boundary.
func (x *Executor) RequestCancel(executionID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ec, ok := x.active[executionID]
	if ok {
		ec.RequestCancel()
	}
	return ok
}

// Run executes a workflow graph to a terminal or paused state.
func (x *Executor) Run(ctx context.Context, workflowID string, g *schema.Graph, opts RunOptions) (*RunResult, error) {
	cg, err := Compile(g)
	if err != nil {
		return nil, err
	}
	if reg, ok := x.registry.(*runner.Registry); ok {
		if err := reg.ResolveGraph(g); err != nil {
			return nil, err
		}
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	ec := NewExecutionContext(executionID, workflowID, opts.Variables)
	return x.run(ctx, cg, ec, opts, schema.RunStatusIdle)
}

// Resume continues a previously paused run from its captured state.
// Already-produced outputs are kept; resuming an execution whose state
// has no remaining work finishes immediately with the same result.
func (x *Executor) Resume(ctx context.Context, workflowID string, g *schema.Graph, state *SerializableExecutionState, opts RunOptions) (*RunResult, error) {
	cg, err := Compile(g)
	if err != nil {
		return nil, err
	}
	ec := RestoreContext(state)
	if opts.Trigger == "" {
		opts.Trigger = "resume"
	}
	if x.appender != nil {
		_ = x.appender.AppendEvent(ctx, &store.Event{
			ExecutionID: ec.ExecutionID,
			WorkflowID:  workflowID,
			Type:        schema.EventRunResumed,
		})
	}
	return x.run(ctx, cg, ec, opts, schema.RunStatusPaused)
}

func (x *Executor) run(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, opts RunOptions, from schema.RunStatus) (*RunResult, error) {
	ctx = logging.WithIDs(ctx, ec.WorkflowID, ec.ExecutionID, "")
	startedAt := time.Now().UTC()

	if err := x.runFSM.Transition(ctx, ec.ExecutionID, ec.WorkflowID, from, schema.RunStatusRunning); err != nil {
		return nil, err
	}
	if from == schema.RunStatusIdle {
		if err := x.createLog(ctx, ec, opts, startedAt); err != nil {
			return nil, err
		}
	}

	x.mu.Lock()
	x.active[ec.ExecutionID] = ec
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		delete(x.active, ec.ExecutionID)
		x.mu.Unlock()
	}()

	for _, l := range x.snapshotListeners() {
		l.RunStarted(ec.ExecutionID, ec.WorkflowID)
	}

	x.logger.InfoContext(ctx, "run started",
		slog.String("trigger", opts.Trigger),
		slog.Bool("debug", opts.Debug),
		slog.Int("blocks", len(cg.Graph.Blocks)))

	pool := NewWorkerPool(x.cfg.MaxConcurrency)
	defer pool.Shutdown()

	var runErr *schema.WeaveError
	status := schema.RunStatusCompleted

loop:
	for {
		// Dispatch boundary: cooperative cancel and pause are honored
		// here, never mid-block.
		if err := ctx.Err(); err != nil || ec.CancelRequested() {
			status = schema.RunStatusCancelled
			break loop
		}
		if ec.PauseRequested() {
			status = schema.RunStatusPaused
			break loop
		}

		ready, skipped := x.resolveUnits(cg, ec)
		for _, u := range skipped {
			if err := x.skipUnit(ctx, cg, ec, u); err != nil {
				runErr = asWeaveError(err)
				status = schema.RunStatusFailed
				break loop
			}
		}
		if len(ready) == 0 {
			if len(skipped) > 0 {
				continue // skipping may have unblocked downstream units
			}
			break loop // no work left
		}

		results := x.dispatchWave(ctx, pool, cg, ec, ready)
		for _, res := range results {
			if res.err == nil {
				continue
			}
			we := asWeaveError(res.err)
			if errors.Is(res.err, context.Canceled) {
				status = schema.RunStatusCancelled
				break loop
			}
			runErr = we
			status = schema.RunStatusFailed
			break loop
		}
	}

	if status == schema.RunStatusCompleted && runErr == nil {
		// Anything still pending at quiescence was unreachable.
		for id := range cg.Graph.Blocks {
			if ec.BlockState(id) == schema.BlockStatusPending {
				if err := x.blockFSM.Transition(ctx, ec.ExecutionID, id, schema.BlockStatusPending, schema.BlockStatusSkipped); err == nil {
					ec.SetBlockState(id, schema.BlockStatusSkipped)
				}
			}
		}
	}

	return x.finish(ctx, cg, ec, status, runErr, startedAt)
}

func (x *Executor) finish(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, status schema.RunStatus, runErr *schema.WeaveError, startedAt time.Time) (*RunResult, error) {
	endedAt := time.Now().UTC()

	switch status {
	case schema.RunStatusPaused:
		ec.ClearPause()
		state := CaptureState(ec, schema.RunStatusPaused)
		if h := x.pauseHandler(); h != nil {
			if err := h.HandlePause(ctx, state); err != nil {
				runErr = asWeaveError(err)
				status = schema.RunStatusFailed
			}
		}
	case schema.RunStatusCancelled:
		for id, s := range ec.BlockStates() {
			if !s.Terminal() {
				if err := x.blockFSM.Transition(ctx, ec.ExecutionID, id, s, schema.BlockStatusSkipped); err == nil {
					ec.SetBlockState(id, schema.BlockStatusSkipped)
				}
			}
		}
	case schema.RunStatusFailed:
		for id := range cg.Graph.Blocks {
			if s := ec.BlockState(id); s == schema.BlockStatusPending {
				if err := x.blockFSM.Transition(ctx, ec.ExecutionID, id, s, schema.BlockStatusSkipped); err == nil {
					ec.SetBlockState(id, schema.BlockStatusSkipped)
				}
			}
		}
	}

	if err := x.runFSM.Transition(ctx, ec.ExecutionID, ec.WorkflowID, schema.RunStatusRunning, status); err != nil {
		x.logger.ErrorContext(ctx, "run transition failed", slog.String("error", err.Error()))
	}

	result := &RunResult{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		Status:      status,
		Outputs:     ec.Outputs(),
		Path:        ec.ExecutedPath(),
		Error:       runErr,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		DurationMs:  endedAt.Sub(startedAt).Milliseconds(),
		TotalCost:   totalCost(ec),
	}

	if err := x.finalizeLog(ctx, result); err != nil {
		x.logger.ErrorContext(ctx, "finalize execution log failed", slog.String("error", err.Error()))
	}

	for _, l := range x.snapshotListeners() {
		l.RunFinished(ec.ExecutionID, status, result)
	}

	x.logger.InfoContext(ctx, "run finished",
		slog.String("status", string(status)),
		slog.Int64("duration_ms", result.DurationMs))

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// --- Scheduling ---

type unitKind int

const (
	unitBlock unitKind = iota
	unitLoop
	unitParallel
)

type schedUnit struct {
	id   string
	kind unitKind
}

type unitResult struct {
	unit schedUnit
	err  error
}

// resolveUnits partitions the not-yet-started top-level units into
// those ready to run (every incoming edge satisfied) and those to
// skip (every incoming edge resolved with at least one skipped).
func (x *Executor) resolveUnits(cg *CompiledGraph, ec *ExecutionContext) (ready, skipped []schedUnit) {
	consider := func(u schedUnit, incoming []schema.Edge) {
		if ec.BlockState(u.id) != schema.BlockStatusPending {
			return
		}
		allSatisfied := true
		allResolved := true
		anySkipped := false
		for _, e := range incoming {
			switch ec.EdgeState(e.Key()) {
			case EdgeSatisfied:
			case EdgeSkipped:
				allSatisfied = false
				anySkipped = true
			default:
				allSatisfied = false
				allResolved = false
			}
		}
		switch {
		case allSatisfied:
			ready = append(ready, u)
		case allResolved && anySkipped:
			skipped = append(skipped, u)
		}
	}

	for _, id := range sortedBlockIDs(cg) {
		if cg.SubflowOf[id] != "" {
			continue
		}
		consider(schedUnit{id: id, kind: unitBlock}, cg.Incoming[id])
	}
	for _, id := range cg.LoopIDs {
		consider(schedUnit{id: id, kind: unitLoop}, cg.EntryEdges(id))
	}
	for _, id := range cg.ParallelIDs {
		consider(schedUnit{id: id, kind: unitParallel}, cg.EntryEdges(id))
	}
	return ready, skipped
}

// dispatchWave runs one ready batch through the worker pool and waits
// for all of it to finish.
func (x *Executor) dispatchWave(ctx context.Context, pool *WorkerPool, cg *CompiledGraph, ec *ExecutionContext, ready []schedUnit) []unitResult {
	ids := make([]string, len(ready))
	for i, u := range ready {
		ids[i] = u.id
	}
	for _, l := range x.snapshotListeners() {
		l.BatchReady(ec.ExecutionID, ids)
	}

	var (
		mu      sync.Mutex
		results []unitResult
	)
	for _, u := range ready {
		u := u
		err := pool.Submit(ctx, func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					// A panicking runner must still produce a unit result,
					// otherwise its block stays active and the run can
					// finish as completed with the failure invisible.
					err = schema.NewErrorf(schema.ErrCodeExecution,
						"block runner panicked: %v", r).WithBlock(u.id)
					if ec.BlockState(u.id) == schema.BlockStatusActive {
						if ferr := x.blockFSM.Transition(ctx, ec.ExecutionID, u.id, schema.BlockStatusActive, schema.BlockStatusError); ferr == nil {
							ec.SetBlockState(u.id, schema.BlockStatusError)
						}
					}
					mu.Lock()
					results = append(results, unitResult{unit: u, err: err})
					mu.Unlock()
				}
			}()
			switch u.kind {
			case unitBlock:
				err = x.executeTopLevelBlock(ctx, cg, ec, u.id)
			case unitLoop:
				err = x.executeLoop(ctx, cg, ec, u.id)
			case unitParallel:
				err = x.executeParallel(ctx, cg, ec, u.id)
			}
			mu.Lock()
			results = append(results, unitResult{unit: u, err: err})
			mu.Unlock()
			return err
		})
		if err != nil {
			mu.Lock()
			results = append(results, unitResult{unit: u, err: err})
			mu.Unlock()
		}
	}
	pool.Wait()
	return results
}

// skipUnit marks a unit (and, for subflows, every member) skipped and
// cascades the skip to its outgoing edges.
func (x *Executor) skipUnit(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, u schedUnit) error {
	skipBlock := func(id string) error {
		if err := x.blockFSM.Transition(ctx, ec.ExecutionID, id, schema.BlockStatusPending, schema.BlockStatusSkipped); err != nil {
			return err
		}
		ec.SetBlockState(id, schema.BlockStatusSkipped)
		for _, e := range cg.Outgoing[id] {
			x.resolveEdge(ec, e, false)
		}
		return nil
	}

	switch u.kind {
	case unitBlock:
		return skipBlock(u.id)
	default:
		ec.SetBlockState(u.id, schema.BlockStatusSkipped)
		for _, member := range cg.SubflowMembers(u.id) {
			if err := skipBlock(member); err != nil {
				return err
			}
		}
		return nil
	}
}

// resolveEdge decides one outgoing edge after its source finished and
// notifies listeners.
func (x *Executor) resolveEdge(ec *ExecutionContext, e schema.Edge, satisfied bool) {
	state := EdgeSkipped
	if satisfied {
		state = EdgeSatisfied
	}
	ec.SetEdgeState(e.Key(), state)
	for _, l := range x.snapshotListeners() {
		l.EdgeResolved(ec.ExecutionID, e, satisfied)
	}
}

// resolveOutgoing resolves every outgoing edge of a block against its
// output. On success, an edge is satisfied when its handle is empty or
// matches the fired branch; error edges are skipped. On a contained
// failure only the error edges fire.
func (x *Executor) resolveOutgoing(ec *ExecutionContext, edges []schema.Edge, out *schema.BlockOutput, failed bool) {
	branch := ""
	if out != nil {
		branch = out.Branch
	}
	for _, e := range edges {
		if failed {
			x.resolveEdge(ec, e, e.SourceHandle == schema.ErrorHandle)
			continue
		}
		satisfied := e.SourceHandle != schema.ErrorHandle &&
			(e.SourceHandle == "" || e.SourceHandle == branch)
		x.resolveEdge(ec, e, satisfied)
	}
}

// hasErrorEdge reports whether any outgoing edge is an error-handling
// path, which makes a block failure containable.
func hasErrorEdge(edges []schema.Edge) bool {
	for _, e := range edges {
		if e.SourceHandle == schema.ErrorHandle {
			return true
		}
	}
	return false
}

// --- Block invocation ---

func (x *Executor) executeTopLevelBlock(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, blockID string) error {
	scope := ec.Scope(cg)
	out, blockErr := x.invokeBlock(ctx, cg, ec, blockID, 0, scope)
	return x.settleBlock(ctx, cg, ec, blockID, out, blockErr)
}

// settleBlock resolves a finished top-level block's outgoing edges and
// decides whether a failure is contained or aborts the run.
func (x *Executor) settleBlock(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, blockID string, out *schema.BlockOutput, blockErr error) error {
	edges := cg.Outgoing[blockID]
	if blockErr == nil {
		x.resolveOutgoing(ec, edges, out, false)
		return nil
	}

	we := asWeaveError(blockErr)
	if we.Fatal() || !hasErrorEdge(edges) {
		return we
	}
	x.resolveOutgoing(ec, edges, out, true)
	return nil
}

// invokeBlock resolves inputs, drives the block FSM, applies the
// timeout, and records the output at the given iteration index.
// Disabled blocks succeed vacuously with an empty output.
func (x *Executor) invokeBlock(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, blockID string, iteration int, scope *expressions.Scope) (*schema.BlockOutput, error) {
	desc := cg.Graph.Blocks[blockID]
	ctx = logging.WithBlockID(ctx, blockID)

	if ec.HasOutput(blockID, iteration) {
		return ec.Output(blockID, iteration), nil
	}

	if !desc.IsEnabled() {
		if err := x.blockFSM.Transition(ctx, ec.ExecutionID, blockID, ec.BlockState(blockID), schema.BlockStatusSuccess); err != nil {
			return nil, err
		}
		out := &schema.BlockOutput{Data: json.RawMessage(`{}`)}
		ec.SetBlockState(blockID, schema.BlockStatusSuccess)
		ec.RecordOutput(blockID, iteration, out)
		return out, nil
	}

	if err := x.blockFSM.Transition(ctx, ec.ExecutionID, blockID, ec.BlockState(blockID), schema.BlockStatusActive); err != nil {
		return nil, err
	}
	ec.SetBlockState(blockID, schema.BlockStatusActive)

	startedAt := time.Now().UTC()
	for _, l := range x.snapshotListeners() {
		l.BlockStarted(ec.ExecutionID, blockID, iteration)
	}
	x.logger.DebugContext(ctx, "block started",
		slog.String("type", desc.Type),
		slog.Int("iteration", iteration))

	out, blockErr := x.callRunner(ctx, desc, scope)
	duration := time.Since(startedAt)

	status := schema.BlockStatusSuccess
	if blockErr != nil {
		status = schema.BlockStatusError
		we := asWeaveError(blockErr).WithBlock(blockID)
		blockErr = we
		out = errorOutput(we)
		x.logger.WarnContext(ctx, "block failed",
			slog.String("type", desc.Type),
			slog.String("error", we.Message),
			slog.String("code", we.Code))
	}

	if err := x.blockFSM.Transition(ctx, ec.ExecutionID, blockID, schema.BlockStatusActive, status); err != nil {
		return nil, err
	}
	ec.SetBlockState(blockID, status)
	ec.RecordOutput(blockID, iteration, out)

	for _, l := range x.snapshotListeners() {
		l.BlockFinished(ec.ExecutionID, desc, iteration, out, status, blockErr, startedAt, duration)
	}
	return out, blockErr
}

// callRunner resolves the block's inputs against the scope and invokes
// its registered runner under the configured timeout.
func (x *Executor) callRunner(ctx context.Context, desc *schema.BlockDescriptor, scope *expressions.Scope) (*schema.BlockOutput, error) {
	resolved, err := x.interp.Resolve(desc.Inputs, scope)
	if err != nil {
		return nil, err
	}
	inputs := map[string]any{}
	if len(resolved) > 0 {
		if err := json.Unmarshal(resolved, &inputs); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "block inputs are not a JSON object: %s", err.Error()).WithCause(err)
		}
	}

	r, err := x.registry.Get(desc.Type)
	if err != nil {
		return nil, err
	}

	timeout := x.cfg.DefaultBlockTimeout
	if desc.Timeout != "" {
		d, perr := time.ParseDuration(desc.Timeout)
		if perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q: %s", desc.Timeout, perr.Error()).WithCause(perr)
		}
		timeout = d
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := r.Execute(ctx, runner.Invocation{
		Block:     desc,
		Inputs:    inputs,
		ScopeData: scope.Data(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "block exceeded timeout %s", timeout).WithCause(err)
		}
		return nil, err
	}
	if out == nil {
		out = &schema.BlockOutput{Data: json.RawMessage(`{}`)}
	}
	return out, nil
}

// --- Persistence ---

func (x *Executor) createLog(ctx context.Context, ec *ExecutionContext, opts RunOptions, startedAt time.Time) error {
	if x.st == nil {
		return nil
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	return x.st.CreateExecutionLog(ctx, &store.ExecutionLog{
		ExecutionID:         ec.ExecutionID,
		WorkflowID:          ec.WorkflowID,
		DeploymentVersionID: opts.DeploymentVersionID,
		Level:               schema.LogLevelInfo,
		Status:              schema.RunStatusRunning,
		Trigger:             trigger,
		StartedAt:           startedAt,
	})
}

func (x *Executor) finalizeLog(ctx context.Context, result *RunResult) error {
	if x.st == nil {
		return nil
	}
	if result.Status == schema.RunStatusPaused {
		// A paused run is not terminal; only the status advances. The
		// row is finalized when the resumed run reaches a terminal
		// state.
		status := schema.RunStatusPaused
		return x.st.UpdateExecutionLog(ctx, result.ExecutionID, store.ExecutionLogUpdate{
			Status: &status,
		})
	}

	level := schema.LogLevelInfo
	if result.Status == schema.RunStatusFailed {
		level = schema.LogLevelError
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	cost, err := json.Marshal(map[string]float64{"total": result.TotalCost})
	if err != nil {
		return err
	}
	endedAt := result.EndedAt
	// Duration spans the whole run, including time spent paused.
	if row, gerr := x.st.GetExecutionLog(ctx, result.ExecutionID); gerr == nil && !row.StartedAt.IsZero() {
		result.DurationMs = endedAt.Sub(row.StartedAt).Milliseconds()
	}
	return x.st.UpdateExecutionLog(ctx, result.ExecutionID, store.ExecutionLogUpdate{
		Status:          &result.Status,
		Level:           &level,
		EndedAt:         &endedAt,
		TotalDurationMs: &result.DurationMs,
		Cost:            cost,
		ExecutionData:   data,
	})
}

// --- Helpers ---

func (x *Executor) snapshotListeners() []Listener {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Listener(nil), x.listeners...)
}

func (x *Executor) pauseHandler() PauseHandler {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.pause
}

func sortedBlockIDs(cg *CompiledGraph) []string {
	ids := make([]string, 0, len(cg.Graph.Blocks))
	for id := range cg.Graph.Blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func totalCost(ec *ExecutionContext) float64 {
	var total float64
	for _, byIter := range ec.Outputs() {
		for _, out := range byIter {
			if out != nil && out.Cost != nil {
				total += out.Cost.Total
			}
		}
	}
	return total
}

func errorOutput(we *schema.WeaveError) *schema.BlockOutput {
	payload := map[string]any{
		"error": map[string]any{
			"code":    we.Code,
			"message": we.Message,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = json.RawMessage(`{"error":{}}`)
	}
	return &schema.BlockOutput{Data: data}
}

func asWeaveError(err error) *schema.WeaveError {
	var we *schema.WeaveError
	if errors.As(err, &we) {
		return we
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, err.Error()).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return schema.NewError(schema.ErrCodeCancelled, err.Error()).WithCause(err)
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}
