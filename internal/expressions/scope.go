package expressions

import "encoding/json"

// Scope holds all data available for reference resolution within one
// block invocation: prior block outputs, run variables, workflow
// metadata, and (inside a loop or parallel branch) iteration variables.
type Scope struct {
	Blocks    map[string]any // block ID -> output visible to this invocation
	Variables map[string]any // run variables
	Workflow  map[string]any // run metadata (execution_id, workflow_id, ...)
	Loop      *LoopScope     // nil outside loop/parallel subflows
}

// LoopScope holds the variables scoped to a single loop iteration or
// parallel branch.
type LoopScope struct {
	Item  any `json:"item"`
	Index int `json:"index"`
}

// WithLoop returns a copy of the scope carrying iteration variables.
// The block and variable maps are shared; loop vars are per-copy so
// sibling iterations never observe each other's item/index.
func (s *Scope) WithLoop(item any, index int) *Scope {
	return &Scope{
		Blocks:    s.Blocks,
		Variables: s.Variables,
		Workflow:  s.Workflow,
		Loop:      &LoopScope{Item: deepCopyAny(item), Index: index},
	}
}

// ForBranch returns an isolated copy for a parallel branch: block
// outputs are snapshotted and the variable map is deep-copied, so
// branch-local writes never leak into sibling branches or the parent
// until the subflow join merges them back.
func (s *Scope) ForBranch() *Scope {
	return &Scope{
		Blocks:    deepCopyMap(s.Blocks),
		Variables: deepCopyMap(s.Variables),
		Workflow:  s.Workflow,
		Loop:      s.Loop,
	}
}

// Data flattens the scope into the map shape the expression engines
// evaluate against.
func (s *Scope) Data() map[string]any {
	data := map[string]any{
		"blocks":    orEmpty(s.Blocks),
		"variables": orEmpty(s.Variables),
		"workflow":  orEmpty(s.Workflow),
	}
	if s.Loop != nil {
		data["loop"] = map[string]any{"item": s.Loop.Item, "index": s.Loop.Index}
	} else {
		data["loop"] = map[string]any{}
	}
	return data
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
