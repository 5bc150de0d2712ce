package engine

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rendis/weave/internal/expressions"
	"github.com/rendis/weave/pkg/schema"
)

// EdgeState tracks the resolution of one edge during a run.
type EdgeState string

const (
	EdgePending   EdgeState = "pending"
	EdgeSatisfied EdgeState = "satisfied"
	EdgeSkipped   EdgeState = "skipped"
)

// Resolved reports whether the edge has been decided either way.
func (s EdgeState) Resolved() bool {
	return s == EdgeSatisfied || s == EdgeSkipped
}

// ExecutionContext holds all mutable state of one run: block outputs
// keyed by iteration index, block and edge lifecycle states, run
// variables, and loop cursors. It is safe for concurrent use by the
// worker pool. The graph itself is never mutated through it.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string

	mu           sync.RWMutex
	outputs      map[string]map[int]*schema.BlockOutput
	blockStates  map[string]schema.BlockStatus
	edgeStates   map[string]EdgeState
	variables    map[string]any
	workflowMeta map[string]any
	loopCursors  map[string]int
	execPath     []string
	activeEdges  []string

	pauseRequested  atomic.Bool
	cancelRequested atomic.Bool
}

// NewExecutionContext creates the mutable state for one run.
func NewExecutionContext(executionID, workflowID string, variables map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		outputs:     make(map[string]map[int]*schema.BlockOutput),
		blockStates: make(map[string]schema.BlockStatus),
		edgeStates:  make(map[string]EdgeState),
		variables:   vars,
		workflowMeta: map[string]any{
			"execution_id": executionID,
			"workflow_id":  workflowID,
		},
		loopCursors: make(map[string]int),
	}
}

// RecordOutput stores the output of one block invocation at the given
// iteration index. Top-level blocks always use index 0. A block runs at
// most once per index, so an existing entry is never overwritten.
func (ec *ExecutionContext) RecordOutput(blockID string, iteration int, out *schema.BlockOutput) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	byIter, ok := ec.outputs[blockID]
	if !ok {
		byIter = make(map[int]*schema.BlockOutput)
		ec.outputs[blockID] = byIter
	}
	if _, exists := byIter[iteration]; exists {
		return
	}
	byIter[iteration] = out
	ec.execPath = append(ec.execPath, blockID)
}

// HasOutput reports whether the block already produced an output at
// the given iteration index.
func (ec *ExecutionContext) HasOutput(blockID string, iteration int) bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	_, ok := ec.outputs[blockID][iteration]
	return ok
}

// Output returns the output recorded for a block at one iteration
// index, or nil.
func (ec *ExecutionContext) Output(blockID string, iteration int) *schema.BlockOutput {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.outputs[blockID][iteration]
}

// LatestOutput returns the output with the highest iteration index for
// a block, or nil when the block never ran.
func (ec *ExecutionContext) LatestOutput(blockID string) *schema.BlockOutput {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	byIter := ec.outputs[blockID]
	if len(byIter) == 0 {
		return nil
	}
	best := -1
	for i := range byIter {
		if i > best {
			best = i
		}
	}
	return byIter[best]
}

// Outputs returns a deep-enough copy of the full iteration-indexed
// output map for snapshotting and trace building.
func (ec *ExecutionContext) Outputs() map[string]map[int]*schema.BlockOutput {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	cp := make(map[string]map[int]*schema.BlockOutput, len(ec.outputs))
	for id, byIter := range ec.outputs {
		inner := make(map[int]*schema.BlockOutput, len(byIter))
		for i, out := range byIter {
			inner[i] = out
		}
		cp[id] = inner
	}
	return cp
}

// IterationOutputs returns all outputs of one block ordered by
// iteration index.
func (ec *ExecutionContext) IterationOutputs(blockID string) []*schema.BlockOutput {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	byIter := ec.outputs[blockID]
	if len(byIter) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(byIter))
	for i := range byIter {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	outs := make([]*schema.BlockOutput, 0, len(indexes))
	for _, i := range indexes {
		outs = append(outs, byIter[i])
	}
	return outs
}

// SetBlockState records the lifecycle state of a block.
func (ec *ExecutionContext) SetBlockState(blockID string, status schema.BlockStatus) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.blockStates[blockID] = status
}

// BlockState returns the lifecycle state of a block; unknown blocks
// are pending.
func (ec *ExecutionContext) BlockState(blockID string) schema.BlockStatus {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if s, ok := ec.blockStates[blockID]; ok {
		return s
	}
	return schema.BlockStatusPending
}

// BlockStates returns a copy of all recorded block states.
func (ec *ExecutionContext) BlockStates() map[string]schema.BlockStatus {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	cp := make(map[string]schema.BlockStatus, len(ec.blockStates))
	for id, s := range ec.blockStates {
		cp[id] = s
	}
	return cp
}

// SetEdgeState resolves an edge. Satisfied edges are additionally
// remembered in activation order for run-state reporting.
func (ec *ExecutionContext) SetEdgeState(edgeKey string, state EdgeState) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	prev := ec.edgeStates[edgeKey]
	ec.edgeStates[edgeKey] = state
	if state == EdgeSatisfied && prev != EdgeSatisfied {
		ec.activeEdges = append(ec.activeEdges, edgeKey)
	}
}

// EdgeState returns the resolution state of an edge; unknown edges are
// pending.
func (ec *ExecutionContext) EdgeState(edgeKey string) EdgeState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if s, ok := ec.edgeStates[edgeKey]; ok {
		return s
	}
	return EdgePending
}

// EdgeStates returns a copy of all resolved edge states.
func (ec *ExecutionContext) EdgeStates() map[string]EdgeState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	cp := make(map[string]EdgeState, len(ec.edgeStates))
	for k, s := range ec.edgeStates {
		cp[k] = s
	}
	return cp
}

// SetVariable writes a run variable.
func (ec *ExecutionContext) SetVariable(name string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[name] = value
}

// Variables returns a copy of the run variables.
func (ec *ExecutionContext) Variables() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	cp := make(map[string]any, len(ec.variables))
	for k, v := range ec.variables {
		cp[k] = v
	}
	return cp
}

// SetLoopCursor records the next iteration index of a loop subflow.
func (ec *ExecutionContext) SetLoopCursor(loopID string, next int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.loopCursors[loopID] = next
}

// LoopCursor returns the next iteration index of a loop subflow.
func (ec *ExecutionContext) LoopCursor(loopID string) int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.loopCursors[loopID]
}

// LoopCursors returns a copy of all loop cursors.
func (ec *ExecutionContext) LoopCursors() map[string]int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	cp := make(map[string]int, len(ec.loopCursors))
	for k, v := range ec.loopCursors {
		cp[k] = v
	}
	return cp
}

// ExecutedPath returns the block IDs in the order their outputs were
// recorded.
func (ec *ExecutionContext) ExecutedPath() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return append([]string(nil), ec.execPath...)
}

// ActivatedEdges returns edge keys in activation order.
func (ec *ExecutionContext) ActivatedEdges() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return append([]string(nil), ec.activeEdges...)
}

// RequestPause flags the run for a cooperative pause at the next
// dispatch boundary.
func (ec *ExecutionContext) RequestPause() { ec.pauseRequested.Store(true) }

// PauseRequested reports whether a pause is pending.
func (ec *ExecutionContext) PauseRequested() bool { return ec.pauseRequested.Load() }

// ClearPause resets the pause flag after a pause has been taken.
func (ec *ExecutionContext) ClearPause() { ec.pauseRequested.Store(false) }

// RequestCancel flags the run for a cooperative cancel at the next
// dispatch boundary.
func (ec *ExecutionContext) RequestCancel() { ec.cancelRequested.Store(true) }

// CancelRequested reports whether a cancel is pending.
func (ec *ExecutionContext) CancelRequested() bool { return ec.cancelRequested.Load() }

// Scope builds the reference-resolution scope for one block
// invocation. Block outputs are exposed by block ID and by block name,
// using each block's latest iteration output.
func (ec *ExecutionContext) Scope(cg *CompiledGraph) *expressions.Scope {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	blocks := make(map[string]any, len(ec.outputs))
	for id, byIter := range ec.outputs {
		best := -1
		for i := range byIter {
			if i > best {
				best = i
			}
		}
		out := byIter[best]
		if out == nil {
			continue
		}
		val := decodeOutputData(out)
		blocks[id] = val
		if cg != nil {
			if desc, ok := cg.Graph.Blocks[id]; ok && desc.Name != "" && desc.Name != id {
				blocks[desc.Name] = val
			}
		}
	}

	meta := make(map[string]any, len(ec.workflowMeta))
	for k, v := range ec.workflowMeta {
		meta[k] = v
	}
	vars := make(map[string]any, len(ec.variables))
	for k, v := range ec.variables {
		vars[k] = v
	}

	return &expressions.Scope{
		Blocks:    blocks,
		Variables: vars,
		Workflow:  meta,
	}
}

// decodeOutputData turns a block output into the map shape exposed to
// reference expressions. Non-object data is wrapped under "output".
func decodeOutputData(out *schema.BlockOutput) any {
	if len(out.Data) == 0 {
		m := map[string]any{}
		if out.Branch != "" {
			m["branch"] = out.Branch
		}
		return m
	}
	var obj map[string]any
	if err := json.Unmarshal(out.Data, &obj); err == nil {
		if out.Branch != "" {
			if _, taken := obj["branch"]; !taken {
				obj["branch"] = out.Branch
			}
		}
		return obj
	}
	var val any
	if err := json.Unmarshal(out.Data, &val); err != nil {
		return map[string]any{"output": string(out.Data)}
	}
	return map[string]any{"output": val}
}
