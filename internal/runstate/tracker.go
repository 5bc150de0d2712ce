package runstate

import (
	"sync"
	"time"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/pkg/schema"
)

// EdgeOutcome distinguishes how an activated edge was traversed:
// a normal handle after the source succeeded, or an error handle
// after the source failed.
type EdgeOutcome string

const (
	EdgeOutcomeSuccess EdgeOutcome = "success"
	EdgeOutcomeError   EdgeOutcome = "error"
)

// RunState is the UI-observable state of one workflow's current or
// most recent run. Values returned by the tracker are snapshots; a
// reader never shares a container with the tracker or another reader.
type RunState struct {
	WorkflowID         string                        `json:"workflowId"`
	CurrentExecutionID string                        `json:"currentExecutionId,omitempty"`
	IsExecuting        bool                          `json:"isExecuting"`
	IsDebugging        bool                          `json:"isDebugging"`
	ActiveBlockIDs     map[string]bool               `json:"activeBlockIds"`
	PendingBlocks      []string                      `json:"pendingBlocks"`
	LastRunPath        map[string]schema.BlockStatus `json:"lastRunPath"`
	LastRunEdges       map[string]EdgeOutcome        `json:"lastRunEdges"` // edge key -> outcome
	Version            uint64                        `json:"version"`
	UpdatedAt          time.Time                     `json:"updatedAt"`
}

func emptyState(workflowID string) *RunState {
	return &RunState{
		WorkflowID:     workflowID,
		ActiveBlockIDs: map[string]bool{},
		PendingBlocks:  []string{},
		LastRunPath:    map[string]schema.BlockStatus{},
		LastRunEdges:   map[string]EdgeOutcome{},
	}
}

func (s *RunState) clone() *RunState {
	cp := &RunState{
		WorkflowID:         s.WorkflowID,
		CurrentExecutionID: s.CurrentExecutionID,
		IsExecuting:        s.IsExecuting,
		IsDebugging:        s.IsDebugging,
		ActiveBlockIDs:     make(map[string]bool, len(s.ActiveBlockIDs)),
		PendingBlocks:      append([]string{}, s.PendingBlocks...),
		LastRunPath:        make(map[string]schema.BlockStatus, len(s.LastRunPath)),
		LastRunEdges:       make(map[string]EdgeOutcome, len(s.LastRunEdges)),
		Version:            s.Version,
		UpdatedAt:          s.UpdatedAt,
	}
	for k, v := range s.ActiveBlockIDs {
		cp.ActiveBlockIDs[k] = v
	}
	for k, v := range s.LastRunPath {
		cp.LastRunPath[k] = v
	}
	for k, v := range s.LastRunEdges {
		cp.LastRunEdges[k] = v
	}
	return cp
}

// Tracker holds observable run state partitioned per workflow.
// Every write replaces the workflow's state wholesale, so a concurrent
// reader sees either the previous or the next state, never a torn one.
// It implements the executor's Listener interface.
type Tracker struct {
	mu         sync.RWMutex
	byWorkflow map[string]*RunState
	byExec     map[string]string // execution ID -> workflow ID
	subs       []func(state *RunState)
}

// NewTracker creates an empty run state tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byWorkflow: make(map[string]*RunState),
		byExec:     make(map[string]string),
	}
}

// Subscribe registers a callback invoked with a state snapshot after
// every update.
func (t *Tracker) Subscribe(fn func(state *RunState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// State returns a snapshot of the workflow's run state. A workflow
// with no history gets fresh empty collections, never a container
// shared with another workflow.
func (t *Tracker) State(workflowID string) *RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.byWorkflow[workflowID]; ok {
		return s.clone()
	}
	return emptyState(workflowID)
}

// mutate applies fn to a fresh clone of the current state and swaps
// the clone in, bumping the version.
func (t *Tracker) mutate(workflowID string, fn func(s *RunState)) {
	t.mu.Lock()
	cur, ok := t.byWorkflow[workflowID]
	if !ok {
		cur = emptyState(workflowID)
	}
	next := cur.clone()
	fn(next)
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	t.byWorkflow[workflowID] = next
	subs := append([]func(*RunState){}, t.subs...)
	snapshot := next.clone()
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

func (t *Tracker) workflowFor(executionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	wf, ok := t.byExec[executionID]
	return wf, ok
}

// --- engine.Listener ---

// RunStarted resets the workflow's visualized path: a new run always
// begins with empty lastRunPath and lastRunEdges.
func (t *Tracker) RunStarted(executionID, workflowID string) {
	t.mu.Lock()
	t.byExec[executionID] = workflowID
	t.mu.Unlock()

	t.mutate(workflowID, func(s *RunState) {
		s.CurrentExecutionID = executionID
		s.IsExecuting = true
		s.ActiveBlockIDs = map[string]bool{}
		s.PendingBlocks = []string{}
		s.LastRunPath = map[string]schema.BlockStatus{}
		s.LastRunEdges = map[string]EdgeOutcome{}
	})
}

// MarkDebugging flags the current run as a debug session.
func (t *Tracker) MarkDebugging(workflowID string, debugging bool) {
	t.mutate(workflowID, func(s *RunState) {
		s.IsDebugging = debugging
	})
}

// BatchReady replaces the pending queue with the batch about to
// dispatch.
func (t *Tracker) BatchReady(executionID string, ready []string) {
	wf, ok := t.workflowFor(executionID)
	if !ok {
		return
	}
	t.mutate(wf, func(s *RunState) {
		s.PendingBlocks = append([]string{}, ready...)
	})
}

// BlockStarted adds the block to the active set.
func (t *Tracker) BlockStarted(executionID, blockID string, iteration int) {
	wf, ok := t.workflowFor(executionID)
	if !ok {
		return
	}
	t.mutate(wf, func(s *RunState) {
		s.ActiveBlockIDs[blockID] = true
		for i, id := range s.PendingBlocks {
			if id == blockID {
				s.PendingBlocks = append(s.PendingBlocks[:i], s.PendingBlocks[i+1:]...)
				break
			}
		}
	})
}

// BlockFinished removes the block from the active set and records its
// outcome on the visualized path.
func (t *Tracker) BlockFinished(executionID string, block *schema.BlockDescriptor, iteration int, out *schema.BlockOutput, status schema.BlockStatus, blockErr error, startedAt time.Time, duration time.Duration) {
	wf, ok := t.workflowFor(executionID)
	if !ok {
		return
	}
	t.mutate(wf, func(s *RunState) {
		delete(s.ActiveBlockIDs, block.ID)
		s.LastRunPath[block.ID] = status
	})
}

// EdgeResolved records an activated edge with its traversal outcome;
// skipped edges stay absent from lastRunEdges.
func (t *Tracker) EdgeResolved(executionID string, edge schema.Edge, satisfied bool) {
	wf, ok := t.workflowFor(executionID)
	if !ok {
		return
	}
	if !satisfied {
		return
	}
	outcome := EdgeOutcomeSuccess
	if edge.SourceHandle == schema.ErrorHandle {
		outcome = EdgeOutcomeError
	}
	t.mutate(wf, func(s *RunState) {
		s.LastRunEdges[edge.Key()] = outcome
	})
}

// RunFinished marks the run stopped. The visualized path is left in
// place until the next run starts.
func (t *Tracker) RunFinished(executionID string, status schema.RunStatus, result *engine.RunResult) {
	wf, ok := t.workflowFor(executionID)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.byExec, executionID)
	t.mu.Unlock()

	t.mutate(wf, func(s *RunState) {
		s.IsExecuting = false
		s.IsDebugging = false
		s.ActiveBlockIDs = map[string]bool{}
		s.PendingBlocks = []string{}
	})
}
