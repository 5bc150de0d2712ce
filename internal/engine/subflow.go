package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/rendis/weave/internal/expressions"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/pkg/schema"
)

// executeLoop runs a loop subflow: its member blocks execute once per
// iteration index, each iteration under a scope carrying loop.item and
// loop.index. Iterations run in order when the loop is configured
// sequential, otherwise they may overlap up to the executor's
// concurrency bound.
func (x *Executor) executeLoop(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, loopID string) error {
	cfg := cg.Graph.Loops[loopID]

	items, count, err := x.loopIterations(cg, ec, cfg)
	if err != nil {
		ec.SetBlockState(loopID, schema.BlockStatusError)
		return asWeaveError(err).WithBlock(loopID)
	}

	// An empty forEach collection is a valid zero-iteration loop: members
	// are skipped but the loop itself completes, so downstream still runs.
	if count == 0 {
		for _, m := range cg.SubflowMembers(loopID) {
			if err := x.blockFSM.Transition(ctx, ec.ExecutionID, m, schema.BlockStatusPending, schema.BlockStatusSkipped); err == nil {
				ec.SetBlockState(m, schema.BlockStatusSkipped)
			}
		}
		ec.SetBlockState(loopID, schema.BlockStatusSuccess)
		x.emitSubflowEvent(ctx, ec, loopID, schema.EventLoopCompleted, map[string]any{"iterations": 0})
		for _, e := range cg.ExitEdges(loopID) {
			x.resolveEdge(ec, e, e.SourceHandle != schema.ErrorHandle)
		}
		return nil
	}

	x.emitSubflowEvent(ctx, ec, loopID, schema.EventLoopStarted, map[string]any{"iterations": count})
	x.logger.DebugContext(ctx, "loop started",
		slog.String("loop_id", loopID),
		slog.Int("iterations", count),
		slog.Bool("sequential", cfg.Sequential))

	runIteration := func(ctx context.Context, i int) error {
		var item any
		if items != nil {
			item = items[i]
		}
		x.emitSubflowEvent(ctx, ec, loopID, schema.EventLoopIterStarted, map[string]any{"iteration": i})
		scope := ec.Scope(cg).WithLoop(item, i)
		if err := x.runSubgraph(ctx, cg, ec, loopID, i, scope); err != nil {
			return err
		}
		x.emitSubflowEvent(ctx, ec, loopID, schema.EventLoopIterCompleted, map[string]any{"iteration": i})
		return nil
	}

	start := ec.LoopCursor(loopID)
	if cfg.Sequential || count <= 1 {
		for i := start; i < count; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			// A pause request suspends between iterations; the cursor
			// marks where a resume picks up.
			if ec.PauseRequested() || ec.CancelRequested() {
				return nil
			}
			if err := runIteration(ctx, i); err != nil {
				ec.SetBlockState(loopID, schema.BlockStatusError)
				return err
			}
			ec.SetLoopCursor(loopID, i+1)
		}
	} else {
		if err := x.fanOut(ctx, count-start, func(ctx context.Context, n int) error {
			return runIteration(ctx, start+n)
		}, x.cfg.MaxConcurrency); err != nil {
			ec.SetBlockState(loopID, schema.BlockStatusError)
			return err
		}
		ec.SetLoopCursor(loopID, count)
	}

	if ec.PauseRequested() || ec.CancelRequested() {
		return nil
	}

	ec.SetBlockState(loopID, schema.BlockStatusSuccess)
	x.emitSubflowEvent(ctx, ec, loopID, schema.EventLoopCompleted, map[string]any{"iterations": count})
	x.resolveSubflowExits(cg, ec, loopID)
	return nil
}

// executeParallel runs a parallel subflow: member blocks fan out once
// per branch with isolated variable scopes, bounded by the subflow's
// MaxConcurrency when set.
func (x *Executor) executeParallel(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, parallelID string) error {
	cfg := cg.Graph.Parallels[parallelID]

	var items []any
	count := cfg.Count
	if cfg.Distribution != "" {
		var err error
		items, err = x.resolveCollection(cg, ec, cfg.Distribution)
		if err != nil {
			ec.SetBlockState(parallelID, schema.BlockStatusError)
			return asWeaveError(err).WithBlock(parallelID)
		}
		count = len(items)
	}
	if count <= 0 {
		ec.SetBlockState(parallelID, schema.BlockStatusError)
		return schema.NewError(schema.ErrCodeValidation, "parallel subflow produced zero branches").WithBlock(parallelID)
	}

	bound := cfg.MaxConcurrency
	if bound <= 0 || bound > x.cfg.MaxConcurrency {
		bound = x.cfg.MaxConcurrency
	}

	x.emitSubflowEvent(ctx, ec, parallelID, schema.EventParallelStarted, map[string]any{"branches": count})
	x.logger.DebugContext(ctx, "parallel started",
		slog.String("parallel_id", parallelID),
		slog.Int("branches", count),
		slog.Int("max_concurrency", bound))

	err := x.fanOut(ctx, count, func(ctx context.Context, branch int) error {
		var item any
		if items != nil {
			item = items[branch]
		}
		// Each branch gets a snapshot of block outputs and a private
		// copy of the variable map, so branch-local evaluation never
		// observes sibling branches.
		scope := ec.Scope(cg).ForBranch().WithLoop(item, branch)
		return x.runSubgraph(ctx, cg, ec, parallelID, branch, scope)
	}, bound)
	if err != nil {
		ec.SetBlockState(parallelID, schema.BlockStatusError)
		return err
	}

	ec.SetBlockState(parallelID, schema.BlockStatusSuccess)
	x.emitSubflowEvent(ctx, ec, parallelID, schema.EventParallelCompleted, map[string]any{"branches": count})
	x.resolveSubflowExits(cg, ec, parallelID)
	return nil
}

// fanOut runs n tasks with at most bound in flight and returns the
// first error.
func (x *Executor) fanOut(ctx context.Context, n int, task func(ctx context.Context, i int) error, bound int) error {
	if bound <= 0 {
		bound = 1
	}
	sem := make(chan struct{}, bound)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := 0; i < n; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		mu.Lock()
		failed := firstErr != nil
		mu.Unlock()
		if failed {
			<-sem
			break
		}
		wg.Add(1)
		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := task(ctx, i); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}

// runSubgraph executes the members of one subflow for a single
// iteration (loop) or branch (parallel). Members are scheduled by
// readiness over the subflow-internal edges, with edge resolution
// local to this pass so every iteration starts fresh. A member failure
// is contained only by an internal error edge.
func (x *Executor) runSubgraph(ctx context.Context, cg *CompiledGraph, ec *ExecutionContext, subflowID string, iteration int, scope *expressions.Scope) error {
	members := cg.SubflowMembers(subflowID)
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	// Internal edges only: entry and exit edges are resolved by the
	// outer scheduler.
	var edges []*memberEdge
	incoming := make(map[string][]*memberEdge)
	for _, m := range members {
		for _, e := range cg.Outgoing[m] {
			if !memberSet[e.Target] {
				continue
			}
			me := &memberEdge{edge: e, state: EdgePending}
			edges = append(edges, me)
			incoming[e.Target] = append(incoming[e.Target], me)
		}
	}

	done := make(map[string]schema.BlockStatus, len(members))
	resolveOut := func(blockID string, out *schema.BlockOutput, failed bool) {
		branch := ""
		if out != nil {
			branch = out.Branch
		}
		for _, me := range edges {
			if me.edge.Source != blockID || me.state != EdgePending {
				continue
			}
			satisfied := false
			if failed {
				satisfied = me.edge.SourceHandle == schema.ErrorHandle
			} else {
				satisfied = me.edge.SourceHandle != schema.ErrorHandle &&
					(me.edge.SourceHandle == "" || me.edge.SourceHandle == branch)
			}
			if satisfied {
				me.state = EdgeSatisfied
			} else {
				me.state = EdgeSkipped
			}
		}
	}

	for len(done) < len(members) {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ready, skip []string
		for _, m := range members {
			if _, ok := done[m]; ok {
				continue
			}
			allSatisfied, allResolved, anySkipped := true, true, false
			for _, me := range incoming[m] {
				switch me.state {
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
				ready = append(ready, m)
			case allResolved && anySkipped:
				skip = append(skip, m)
			}
		}

		for _, m := range skip {
			done[m] = schema.BlockStatusSkipped
			if !ec.HasOutput(m, iteration) {
				ec.SetBlockState(m, schema.BlockStatusSkipped)
			}
			for _, me := range edges {
				if me.edge.Source == m && me.state == EdgePending {
					me.state = EdgeSkipped
				}
			}
		}

		if len(ready) == 0 {
			if len(skip) > 0 {
				continue
			}
			// Remaining members are unreachable in this iteration
			// (internal cycle or dangling dependency); leave them and
			// terminate rather than spin.
			break
		}

		for _, m := range ready {
			// Re-executions across iterations restart the member's
			// lifecycle; the output guard keeps resumes idempotent.
			if !ec.HasOutput(m, iteration) && ec.BlockState(m) != schema.BlockStatusPending {
				ec.SetBlockState(m, schema.BlockStatusPending)
			}
			out, blockErr := x.invokeBlock(ctx, cg, ec, m, iteration, scope)
			if blockErr != nil {
				we := asWeaveError(blockErr)
				if we.Fatal() || !hasMemberErrorEdge(edges, m) {
					return we
				}
				done[m] = schema.BlockStatusError
				resolveOut(m, out, true)
				continue
			}
			done[m] = schema.BlockStatusSuccess
			resolveOut(m, out, false)
		}
	}
	return nil
}

// memberEdge is a subflow-internal edge with its per-pass resolution.
type memberEdge struct {
	edge  schema.Edge
	state EdgeState
}

func hasMemberErrorEdge(edges []*memberEdge, source string) bool {
	for _, me := range edges {
		if me.edge.Source == source && me.edge.SourceHandle == schema.ErrorHandle {
			return true
		}
	}
	return false
}

// resolveSubflowExits resolves all exit edges of a completed subflow
// against each source member's final state and latest output.
func (x *Executor) resolveSubflowExits(cg *CompiledGraph, ec *ExecutionContext, subflowID string) {
	for _, e := range cg.ExitEdges(subflowID) {
		state := ec.BlockState(e.Source)
		out := ec.LatestOutput(e.Source)
		switch state {
		case schema.BlockStatusSuccess:
			branch := ""
			if out != nil {
				branch = out.Branch
			}
			satisfied := e.SourceHandle != schema.ErrorHandle &&
				(e.SourceHandle == "" || e.SourceHandle == branch)
			x.resolveEdge(ec, e, satisfied)
		case schema.BlockStatusError:
			x.resolveEdge(ec, e, e.SourceHandle == schema.ErrorHandle)
		default:
			x.resolveEdge(ec, e, false)
		}
	}
}

// loopIterations determines the iteration source: a forEach collection
// wins over a fixed count.
func (x *Executor) loopIterations(cg *CompiledGraph, ec *ExecutionContext, cfg *schema.LoopConfig) (items []any, count int, err error) {
	if cfg.ForEach != "" {
		items, err = x.resolveCollection(cg, ec, cfg.ForEach)
		if err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	}
	return nil, cfg.Iterations, nil
}

// resolveCollection evaluates a collection expression: a ${{...}}
// reference, a bare reference path, or a literal JSON array.
func (x *Executor) resolveCollection(cg *CompiledGraph, ec *ExecutionContext, expr string) ([]any, error) {
	scope := ec.Scope(cg)

	var val any
	if expressions.HasInterpolation(json.RawMessage(expr)) {
		v, err := x.interp.ResolveValue(expr, scope)
		if err != nil {
			return nil, err
		}
		val = v
	} else if err := json.Unmarshal([]byte(expr), &val); err != nil {
		v, rerr := x.interp.ResolveValue(expr, scope)
		if rerr != nil {
			return nil, rerr
		}
		val = v
	}

	switch v := val.(type) {
	case []any:
		return v, nil
	case map[string]any:
		// Objects distribute as key/value pairs in key order.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, map[string]any{"key": k, "value": v[k]})
		}
		return items, nil
	case float64:
		n := int(v)
		if n < 0 {
			n = 0
		}
		items := make([]any, n)
		for i := range items {
			items[i] = i
		}
		return items, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"collection expression %q resolved to %T, expected array, object, or number", expr, val)
	}
}

func (x *Executor) emitSubflowEvent(ctx context.Context, ec *ExecutionContext, subflowID, eventType string, payload map[string]any) {
	if x.appender == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	if err := x.appender.AppendEvent(ctx, &store.Event{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		BlockID:     subflowID,
		Type:        eventType,
		Payload:     raw,
	}); err != nil {
		x.logger.WarnContext(ctx, "emit subflow event failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()))
	}
}

