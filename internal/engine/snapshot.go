package engine

import (
	"encoding/json"

	"github.com/rendis/weave/pkg/schema"
)

// SerializableExecutionState is the complete durable form of a paused
// run. Encoding then decoding a state yields an equivalent state, so a
// resumed run continues exactly where the pause left it.
type SerializableExecutionState struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`

	Status schema.RunStatus `json:"status"`

	BlockOutputs map[string]map[int]*schema.BlockOutput `json:"blockOutputs"`
	BlockStates  map[string]schema.BlockStatus          `json:"blockStates"`
	EdgeStates   map[string]EdgeState                   `json:"edgeStates"`
	Variables    map[string]any                         `json:"variables,omitempty"`
	LoopCursors  map[string]int                         `json:"loopCursors,omitempty"`

	ExecutedPath   []string `json:"executedPath,omitempty"`
	ActivatedEdges []string `json:"activatedEdges,omitempty"`
}

// CaptureState freezes the execution context into its serializable
// form.
func CaptureState(ec *ExecutionContext, status schema.RunStatus) *SerializableExecutionState {
	return &SerializableExecutionState{
		ExecutionID:    ec.ExecutionID,
		WorkflowID:     ec.WorkflowID,
		Status:         status,
		BlockOutputs:   ec.Outputs(),
		BlockStates:    ec.BlockStates(),
		EdgeStates:     ec.EdgeStates(),
		Variables:      ec.Variables(),
		LoopCursors:    ec.LoopCursors(),
		ExecutedPath:   ec.ExecutedPath(),
		ActivatedEdges: ec.ActivatedEdges(),
	}
}

// RestoreContext rebuilds an execution context from a captured state.
func RestoreContext(state *SerializableExecutionState) *ExecutionContext {
	ec := NewExecutionContext(state.ExecutionID, state.WorkflowID, state.Variables)
	for blockID, byIter := range state.BlockOutputs {
		for iter, out := range byIter {
			ec.RecordOutput(blockID, iter, out)
		}
	}
	// RecordOutput appends to the path as a side effect; replace it
	// with the recorded order.
	ec.mu.Lock()
	ec.execPath = append([]string(nil), state.ExecutedPath...)
	ec.activeEdges = nil
	ec.mu.Unlock()
	for blockID, s := range state.BlockStates {
		ec.SetBlockState(blockID, s)
	}
	for key, s := range state.EdgeStates {
		ec.SetEdgeState(key, s)
	}
	ec.mu.Lock()
	ec.activeEdges = append([]string(nil), state.ActivatedEdges...)
	ec.mu.Unlock()
	for loopID, cursor := range state.LoopCursors {
		ec.SetLoopCursor(loopID, cursor)
	}
	return ec
}

// EncodeState serializes a state for durable storage. Iteration
// indexes survive the round trip because JSON object keys for int-keyed
// maps are the decimal index.
func EncodeState(state *SerializableExecutionState) (json.RawMessage, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSnapshot, "encode execution state: %s", err.Error()).WithCause(err)
	}
	return data, nil
}

// DecodeState deserializes a stored state.
func DecodeState(raw json.RawMessage) (*SerializableExecutionState, error) {
	if len(raw) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeSnapshot, "decode execution state: empty payload")
	}
	var state SerializableExecutionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSnapshot, "decode execution state: %s", err.Error()).WithCause(err)
	}
	if state.BlockOutputs == nil {
		state.BlockOutputs = make(map[string]map[int]*schema.BlockOutput)
	}
	if state.BlockStates == nil {
		state.BlockStates = make(map[string]schema.BlockStatus)
	}
	if state.EdgeStates == nil {
		state.EdgeStates = make(map[string]EdgeState)
	}
	return &state, nil
}
