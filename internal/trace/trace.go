package trace

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/pkg/schema"
)

// Span is a timed record of one block invocation. Children hold the
// root spans of nested sub-workflow runs launched by the block.
type Span struct {
	Name      string            `json:"name"`
	BlockID   string            `json:"blockId"`
	BlockType string            `json:"blockType"`
	Iteration int               `json:"iteration"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Status    string            `json:"status"`
	Output    *schema.BlockOutput `json:"output,omitempty"`
	Model     string            `json:"model,omitempty"`
	Cost      *schema.CostInfo  `json:"cost,omitempty"`
	Tokens    *schema.TokenInfo `json:"tokens,omitempty"`
	Children  []*Span           `json:"children,omitempty"`
}

// ModelCost is the rollup bucket for one model identifier.
type ModelCost struct {
	Input            float64 `json:"input"`
	Output           float64 `json:"output"`
	Total            float64 `json:"total"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	Invocations      int     `json:"invocations"`
}

// CostRollup aggregates dollar cost and token counts across one run.
// Blocks without cost information contribute zero to every sum.
type CostRollup struct {
	Input            float64               `json:"input"`
	Output           float64               `json:"output"`
	Total            float64               `json:"total"`
	PromptTokens     int                   `json:"promptTokens"`
	CompletionTokens int                   `json:"completionTokens"`
	TotalTokens      int                   `json:"totalTokens"`
	ByModel          map[string]*ModelCost `json:"byModel,omitempty"`
}

func newRollup() *CostRollup {
	return &CostRollup{ByModel: make(map[string]*ModelCost)}
}

func (r *CostRollup) add(model string, cost *schema.CostInfo, tokens *schema.TokenInfo) {
	var mc *ModelCost
	if model != "" {
		mc = r.ByModel[model]
		if mc == nil {
			mc = &ModelCost{}
			r.ByModel[model] = mc
		}
		mc.Invocations++
	}
	if cost != nil {
		r.Input += cost.Input
		r.Output += cost.Output
		r.Total += cost.Total
		if mc != nil {
			mc.Input += cost.Input
			mc.Output += cost.Output
			mc.Total += cost.Total
		}
	}
	if tokens != nil {
		r.PromptTokens += tokens.Prompt
		r.CompletionTokens += tokens.Completion
		r.TotalTokens += tokens.Total
		if mc != nil {
			mc.PromptTokens += tokens.Prompt
			mc.CompletionTokens += tokens.Completion
			mc.TotalTokens += tokens.Total
		}
	}
}

type runTrace struct {
	spans  []*Span
	byKey  map[string]*Span // blockID@iteration -> span, for child attachment
	rollup *CostRollup
}

// Recorder builds trace span trees and cost rollups incrementally as
// blocks finish. It implements the executor's Listener interface.
type Recorder struct {
	mu   sync.RWMutex
	runs map[string]*runTrace
}

// NewRecorder creates an empty trace recorder.
func NewRecorder() *Recorder {
	return &Recorder{runs: make(map[string]*runTrace)}
}

// RunStarted initializes an empty trace for the run.
func (rec *Recorder) RunStarted(executionID, workflowID string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.runs[executionID] = &runTrace{
		byKey:  make(map[string]*Span),
		rollup: newRollup(),
	}
}

// BatchReady is a no-op for tracing.
func (rec *Recorder) BatchReady(executionID string, ready []string) {}

// BlockStarted is a no-op; spans are recorded with full timing when the
// block finishes.
func (rec *Recorder) BlockStarted(executionID, blockID string, iteration int) {}

// BlockFinished records a completed span and folds its cost into the
// run's rollup.
func (rec *Recorder) BlockFinished(executionID string, block *schema.BlockDescriptor, iteration int, out *schema.BlockOutput, status schema.BlockStatus, blockErr error, startedAt time.Time, duration time.Duration) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rt := rec.runs[executionID]
	if rt == nil {
		return
	}

	span := &Span{
		Name:      spanName(block),
		BlockID:   block.ID,
		BlockType: block.Type,
		Iteration: iteration,
		StartTime: startedAt,
		EndTime:   startedAt.Add(duration),
		Status:    string(status),
		Output:    out,
	}
	if out != nil {
		span.Model = out.Model
		span.Cost = out.Cost
		span.Tokens = out.Tokens
		rt.rollup.add(out.Model, out.Cost, out.Tokens)
	}
	rt.spans = append(rt.spans, span)
	rt.byKey[spanKey(block.ID, iteration)] = span
}

// EdgeResolved is a no-op for tracing.
func (rec *Recorder) EdgeResolved(executionID string, edge schema.Edge, satisfied bool) {}

// RunFinished keeps the trace available for querying; retention is the
// caller's concern via Forget.
func (rec *Recorder) RunFinished(executionID string, status schema.RunStatus, result *engine.RunResult) {
}

// AttachChildRun nests the root spans of a child workflow run under
// the parent block's span.
func (rec *Recorder) AttachChildRun(executionID, parentBlockID string, iteration int, children []*Span) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rt := rec.runs[executionID]
	if rt == nil {
		return
	}
	parent := rt.byKey[spanKey(parentBlockID, iteration)]
	if parent == nil {
		return
	}
	parent.Children = append(parent.Children, children...)
	for _, c := range collectSpans(children) {
		rt.rollup.add(c.Model, c.Cost, c.Tokens)
	}
}

// Spans returns the recorded spans of a run in completion order.
func (rec *Recorder) Spans(executionID string) []*Span {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	rt := rec.runs[executionID]
	if rt == nil {
		return nil
	}
	return append([]*Span(nil), rt.spans...)
}

// Rollup returns the run's cost aggregation so far.
func (rec *Recorder) Rollup(executionID string) *CostRollup {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	rt := rec.runs[executionID]
	if rt == nil {
		return newRollup()
	}
	cp := *rt.rollup
	cp.ByModel = make(map[string]*ModelCost, len(rt.rollup.ByModel))
	for m, mc := range rt.rollup.ByModel {
		c := *mc
		cp.ByModel[m] = &c
	}
	return &cp
}

// Forget drops a run's trace data.
func (rec *Recorder) Forget(executionID string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	delete(rec.runs, executionID)
}

// BuildFromOutputs re-derives spans and a cost rollup from a flat
// iteration-indexed output map, for records that never stored a span
// tree. Timing is unknown for such records, so spans carry zero times.
func BuildFromOutputs(g *schema.Graph, outputs map[string]map[int]*schema.BlockOutput) ([]*Span, *CostRollup) {
	rollup := newRollup()
	var spans []*Span

	blockIDs := make([]string, 0, len(outputs))
	for id := range outputs {
		blockIDs = append(blockIDs, id)
	}
	sort.Strings(blockIDs)

	for _, blockID := range blockIDs {
		byIter := outputs[blockID]
		iters := make([]int, 0, len(byIter))
		for i := range byIter {
			iters = append(iters, i)
		}
		sort.Ints(iters)

		var desc *schema.BlockDescriptor
		if g != nil {
			desc = g.Blocks[blockID]
		}
		for _, i := range iters {
			out := byIter[i]
			span := &Span{
				BlockID:   blockID,
				Iteration: i,
				Status:    string(schema.BlockStatusSuccess),
				Output:    out,
			}
			if desc != nil {
				span.Name = spanName(desc)
				span.BlockType = desc.Type
			} else {
				span.Name = blockID
			}
			if out != nil {
				span.Model = out.Model
				span.Cost = out.Cost
				span.Tokens = out.Tokens
				rollup.add(out.Model, out.Cost, out.Tokens)
			}
			spans = append(spans, span)
		}
	}
	return spans, rollup
}

func spanName(block *schema.BlockDescriptor) string {
	if block.Name != "" {
		return block.Name
	}
	return block.ID
}

func spanKey(blockID string, iteration int) string {
	return blockID + "@" + strconv.Itoa(iteration)
}

func collectSpans(spans []*Span) []*Span {
	var all []*Span
	for _, s := range spans {
		all = append(all, s)
		all = append(all, collectSpans(s.Children)...)
	}
	return all
}
