package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/weave/internal/runner"
	"github.com/rendis/weave/pkg/schema"
)

type stubRunner struct {
	typ string
	fn  func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error)
}

func (s *stubRunner) Type() string { return s.typ }

func (s *stubRunner) Execute(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
	if s.fn == nil {
		return &schema.BlockOutput{Data: json.RawMessage(`{"ok":true}`)}, nil
	}
	return s.fn(ctx, inv)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, runners ...runner.BlockRunner) *Executor {
	t.Helper()
	reg := runner.NewRegistry()
	for _, r := range runners {
		require.NoError(t, reg.Register(r))
	}
	return NewExecutor(reg, nil, nil, testLogger(), Config{MaxConcurrency: 4})
}

func block(id, typ string) *schema.BlockDescriptor {
	return &schema.BlockDescriptor{ID: id, Type: typ}
}

func TestRunLinearChain(t *testing.T) {
	var invoked []string
	var mu sync.Mutex
	record := func(id string) *stubRunner {
		return &stubRunner{typ: id, fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
			mu.Lock()
			invoked = append(invoked, inv.Block.ID)
			mu.Unlock()
			return &schema.BlockOutput{Data: json.RawMessage(`{"done":true}`)}, nil
		}}
	}
	x := newTestExecutor(t, record("work"))

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "work"),
			"blockB": block("blockB", "work"),
		},
		Edges: []schema.Edge{{Source: "blockA", Target: "blockB"}},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, []string{"blockA", "blockB"}, res.Path)
	assert.Len(t, res.Outputs["blockA"], 1)
	assert.Len(t, res.Outputs["blockB"], 1)
}

func TestRunPanickingRunnerFailsTheRun(t *testing.T) {
	boom := &stubRunner{typ: "boom", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		panic("runner exploded")
	}}
	x := newTestExecutor(t, boom)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "boom"),
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, schema.ErrCodeExecution, res.Error.Code)
	assert.Contains(t, res.Error.Message, "panicked")
	assert.Equal(t, "blockA", res.Error.BlockID)
}

func TestRunInterpolatedStringWithQuotesStaysParseable(t *testing.T) {
	produce := &stubRunner{typ: "produce", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		return &schema.BlockOutput{Data: json.RawMessage(`{"text":"he said \"hi\"\nand left"}`)}, nil
	}}
	var gotMsg, gotNote any
	consume := &stubRunner{typ: "consume", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		gotMsg = inv.Inputs["msg"]
		gotNote = inv.Inputs["note"]
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, produce, consume)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "produce"),
			"blockB": {ID: "blockB", Type: "consume",
				Inputs: json.RawMessage(`{"msg":"${{blocks.blockA.text}}","note":"quoting: ${{blocks.blockA.text}}"}`)},
		},
		Edges: []schema.Edge{{Source: "blockA", Target: "blockB"}},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, "he said \"hi\"\nand left", gotMsg)
	assert.Equal(t, "quoting: he said \"hi\"\nand left", gotNote)
}

func TestRunConditionalBranchSkipsNonMatching(t *testing.T) {
	var invokedT atomic.Int32
	cond := &stubRunner{typ: "cond", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		return &schema.BlockOutput{Branch: "false", Data: json.RawMessage(`{"branch":"false"}`)}, nil
	}}
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		if inv.Block.ID == "blockT" {
			invokedT.Add(1)
		}
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, cond, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"conditional": block("conditional", "cond"),
			"blockT":      block("blockT", "work"),
			"blockF":      block("blockF", "work"),
		},
		Edges: []schema.Edge{
			{ID: "e-true", Source: "conditional", Target: "blockT", SourceHandle: "true"},
			{ID: "e-false", Source: "conditional", Target: "blockF", SourceHandle: "false"},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Zero(t, invokedT.Load(), "non-matching branch target must never be invoked")
	assert.Contains(t, res.Path, "blockF")
	assert.NotContains(t, res.Path, "blockT")
}

func TestRunUncontainedFailureFailsRun(t *testing.T) {
	boom := &stubRunner{typ: "boom", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		return nil, schema.NewError(schema.ErrCodeBlockFailed, "kaput")
	}}
	work := &stubRunner{typ: "work"}
	x := newTestExecutor(t, boom, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "boom"),
			"blockB": block("blockB", "work"),
		},
		Edges: []schema.Edge{{Source: "blockA", Target: "blockB"}},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, schema.ErrCodeBlockFailed, res.Error.Code)
	assert.Equal(t, "blockA", res.Error.BlockID)
	assert.NotContains(t, res.Path, "blockB")
}

func TestRunContainedFailureTakesErrorEdge(t *testing.T) {
	boom := &stubRunner{typ: "boom", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		return nil, schema.NewError(schema.ErrCodeBlockFailed, "kaput")
	}}
	var handled, normal atomic.Int32
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		switch inv.Block.ID {
		case "handler":
			handled.Add(1)
		case "next":
			normal.Add(1)
		}
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, boom, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA":  block("blockA", "boom"),
			"next":    block("next", "work"),
			"handler": block("handler", "work"),
		},
		Edges: []schema.Edge{
			{Source: "blockA", Target: "next"},
			{Source: "blockA", Target: "handler", SourceHandle: schema.ErrorHandle},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err, "a failure with an error edge is contained")

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, int32(1), handled.Load())
	assert.Zero(t, normal.Load(), "success path must be skipped on failure")

	// The failing block's output carries the structured error.
	out := res.Outputs["blockA"][0]
	require.NotNil(t, out)
	var payload map[string]map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &payload))
	assert.Equal(t, schema.ErrCodeBlockFailed, payload["error"]["code"])
}

func TestRunErrorEdgeSkippedOnSuccess(t *testing.T) {
	var handled atomic.Int32
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		if inv.Block.ID == "handler" {
			handled.Add(1)
		}
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA":  block("blockA", "work"),
			"handler": block("handler", "work"),
		},
		Edges: []schema.Edge{
			{Source: "blockA", Target: "handler", SourceHandle: schema.ErrorHandle},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Zero(t, handled.Load())
}

func TestRunDisabledBlockIsVacuouslySuccessful(t *testing.T) {
	var invoked []string
	var mu sync.Mutex
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		mu.Lock()
		invoked = append(invoked, inv.Block.ID)
		mu.Unlock()
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, work)

	disabled := false
	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": {ID: "blockA", Type: "work", Enabled: &disabled},
			"blockB": block("blockB", "work"),
		},
		Edges: []schema.Edge{{Source: "blockA", Target: "blockB"}},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, []string{"blockB"}, invoked, "disabled block runner must not be called")
	assert.Contains(t, res.Path, "blockA", "disabled block still records a vacuous output")
}

func TestRunBlockTimeout(t *testing.T) {
	slow := &stubRunner{typ: "slow", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		select {
		case <-time.After(5 * time.Second):
			return &schema.BlockOutput{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	x := newTestExecutor(t, slow)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": {ID: "blockA", Type: "slow", Timeout: "20ms"},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, schema.ErrCodeTimeout, res.Error.Code, "timeout is a block error, not a scheduler fault")
}

func TestRunInputInterpolation(t *testing.T) {
	producer := &stubRunner{typ: "producer", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		return &schema.BlockOutput{Data: json.RawMessage(`{"greeting":"hello"}`)}, nil
	}}
	var got string
	consumer := &stubRunner{typ: "consumer", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		got, _ = inv.Inputs["message"].(string)
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, producer, consumer)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"fetch": block("fetch", "producer"),
			"use": {ID: "use", Type: "consumer",
				Inputs: json.RawMessage(`{"message":"${{blocks.fetch.greeting}} world"}`)},
		},
		Edges: []schema.Edge{{Source: "fetch", Target: "use"}},
	}

	_, err := x.Run(context.Background(), "wf-1", g, RunOptions{Variables: map[string]any{"env": "test"}})
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestRunLoopForEach(t *testing.T) {
	var mu sync.Mutex
	var items []any
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		mu.Lock()
		items = append(items, inv.Inputs["item"])
		mu.Unlock()
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	var after atomic.Int32
	sink := &stubRunner{typ: "sink", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		if inv.Block.ID == "done" {
			after.Add(1)
		}
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, work, sink)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"seed": {ID: "seed", Type: "sink"},
			"body": {ID: "body", Type: "work",
				Inputs: json.RawMessage(`{"item":"${{loop.item}}"}`)},
			"done": {ID: "done", Type: "sink"},
		},
		Edges: []schema.Edge{
			{Source: "seed", Target: "body"},
			{Source: "body", Target: "done"},
		},
		Loops: map[string]*schema.LoopConfig{
			"loop-1": {Nodes: []string{"body"}, ForEach: `["a","b","c"]`, Sequential: true},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, []any{"a", "b", "c"}, items)
	assert.Len(t, res.Outputs["body"], 3, "one output per iteration index")
	assert.Equal(t, int32(1), after.Load(), "downstream of the loop runs once")
}

func TestRunLoopEmptyForEachStillRunsDownstream(t *testing.T) {
	var bodyRuns, afterRuns atomic.Int32
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		switch inv.Block.ID {
		case "body":
			bodyRuns.Add(1)
		case "after":
			afterRuns.Add(1)
		}
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"seed":  block("seed", "work"),
			"body":  block("body", "work"),
			"after": block("after", "work"),
		},
		Edges: []schema.Edge{
			{Source: "seed", Target: "body"},
			{Source: "body", Target: "after"},
		},
		Loops: map[string]*schema.LoopConfig{
			"loop-1": {Nodes: []string{"body"}, ForEach: `[]`, Sequential: true},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, int32(0), bodyRuns.Load(), "no iterations over an empty collection")
	assert.Equal(t, int32(1), afterRuns.Load(), "downstream of the loop still runs")
	assert.Equal(t, []string{"seed", "after"}, res.Path)
}

func TestRunLoopFixedIterationsRecordsPerIndex(t *testing.T) {
	n := 0
	var mu sync.Mutex
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		mu.Lock()
		n++
		mu.Unlock()
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"body": block("body", "work"),
		},
		Loops: map[string]*schema.LoopConfig{
			"loop-1": {Nodes: []string{"body"}, Iterations: 4, Sequential: true},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	for i := 0; i < 4; i++ {
		assert.Contains(t, res.Outputs["body"], i)
	}
}

func TestRunParallelBranchesBoundedAndCostSummed(t *testing.T) {
	var active, peak atomic.Int32
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return &schema.BlockOutput{
			Data: json.RawMessage(`{}`),
			Cost: &schema.CostInfo{Total: 0.5},
		}, nil
	}}
	x := newTestExecutor(t, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"body": block("body", "work"),
		},
		Parallels: map[string]*schema.ParallelConfig{
			"par-1": {Nodes: []string{"body"}, Count: 3, MaxConcurrency: 2},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Len(t, res.Outputs["body"], 3, "all branches complete")
	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrency bound respected")
	assert.InDelta(t, 1.5, res.TotalCost, 1e-9, "cost summed across branches")
}

func TestRunCancelStopsAtDispatchBoundary(t *testing.T) {
	var invoked atomic.Int32
	var x *Executor
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		invoked.Add(1)
		if inv.Block.ID == "blockA" {
			x.RequestCancel(logExecutionID(inv))
		}
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x = newTestExecutor(t, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "work"),
			"blockB": block("blockB", "work"),
		},
		Edges: []schema.Edge{{Source: "blockA", Target: "blockB"}},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{ExecutionID: "exec-cancel"})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCancelled, res.Status)
	assert.Equal(t, int32(1), invoked.Load(), "in-flight block finishes, nothing new dispatches")
}

func logExecutionID(inv runner.Invocation) string {
	wf, _ := inv.ScopeData["workflow"].(map[string]any)
	id, _ := wf["execution_id"].(string)
	return id
}

type capturePauseHandler struct {
	mu    sync.Mutex
	state *SerializableExecutionState
}

func (h *capturePauseHandler) HandlePause(ctx context.Context, state *SerializableExecutionState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	return nil
}

func TestRunPauseAndResumeIsIdempotent(t *testing.T) {
	var countA, countB atomic.Int32
	var x *Executor
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		switch inv.Block.ID {
		case "blockA":
			countA.Add(1)
			x.RequestPause(logExecutionID(inv))
		case "blockB":
			countB.Add(1)
		}
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x = newTestExecutor(t, work)
	handler := &capturePauseHandler{}
	x.SetPauseHandler(handler)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "work"),
			"blockB": block("blockB", "work"),
		},
		Edges: []schema.Edge{{Source: "blockA", Target: "blockB"}},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{ExecutionID: "exec-pause"})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusPaused, res.Status)
	assert.Equal(t, int32(1), countA.Load())
	assert.Zero(t, countB.Load(), "pause lands before the next batch")
	require.NotNil(t, handler.state)

	// Round trip the state through the codec, as a durable resume would.
	raw, err := EncodeState(handler.state)
	require.NoError(t, err)
	state, err := DecodeState(raw)
	require.NoError(t, err)

	res2, err := x.Resume(context.Background(), "wf-1", g, state, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, res2.Status)
	assert.Equal(t, int32(1), countA.Load(), "completed block never re-executes on resume")
	assert.Equal(t, int32(1), countB.Load())
}

func TestRunFatalInterpolationErrorAbortsDespiteErrorEdge(t *testing.T) {
	work := &stubRunner{typ: "work"}
	x := newTestExecutor(t, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": {ID: "blockA", Type: "work",
				Inputs: json.RawMessage(`{"v":"${{blocks.ghost.value}}"}`)},
			"handler": block("handler", "work"),
		},
		Edges: []schema.Edge{
			{Source: "blockA", Target: "handler", SourceHandle: schema.ErrorHandle},
		},
	}

	res, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, schema.ErrCodeUnresolvedReference, res.Error.Code)
}

func TestDebugSessionStepsOneBatchAtATime(t *testing.T) {
	var mu sync.Mutex
	var invoked []string
	work := &stubRunner{typ: "work", fn: func(ctx context.Context, inv runner.Invocation) (*schema.BlockOutput, error) {
		mu.Lock()
		invoked = append(invoked, inv.Block.ID)
		mu.Unlock()
		return &schema.BlockOutput{Data: json.RawMessage(`{}`)}, nil
	}}
	x := newTestExecutor(t, work)

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "work"),
			"blockB": block("blockB", "work"),
			"blockC": block("blockC", "work"),
		},
		Edges: []schema.Edge{
			{Source: "blockA", Target: "blockC"},
			{Source: "blockB", Target: "blockC"},
		},
	}

	sess, err := x.StartDebug(context.Background(), "wf-1", g, RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, invoked, "nothing runs before the first step")

	step1, err := sess.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, step1.Done)
	assert.ElementsMatch(t, []string{"blockA", "blockB"}, step1.Executed)

	step2, err := sess.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"blockC"}, step2.Executed)

	step3, err := sess.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, step3.Done)
	require.NotNil(t, step3.Result)
	assert.Equal(t, schema.RunStatusCompleted, step3.Result.Status)
}

func TestRunUnknownBlockTypeFailsPreflight(t *testing.T) {
	x := newTestExecutor(t, &stubRunner{typ: "work"})

	g := &schema.Graph{
		Blocks: map[string]*schema.BlockDescriptor{
			"blockA": block("blockA", "mystery"),
		},
	}

	_, err := x.Run(context.Background(), "wf-1", g, RunOptions{})
	require.Error(t, err)
	var we *schema.WeaveError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, schema.ErrCodeRunnerUnavailable, we.Code)
}
