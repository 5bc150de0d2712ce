package schema

import "encoding/json"

// Graph is the immutable, JSON-serializable description of a workflow:
// typed blocks, directed edges, and loop/parallel subflow groupings.
// A Graph is produced by external editing/storage tooling and consumed
// read-only by the engine; one execution never mutates it.
type Graph struct {
	ID        string                      `json:"id,omitempty"`
	Name      string                      `json:"name,omitempty"`
	Blocks    map[string]*BlockDescriptor `json:"blocks"`
	Edges     []Edge                      `json:"edges"`
	Loops     map[string]*LoopConfig      `json:"loops,omitempty"`
	Parallels map[string]*ParallelConfig  `json:"parallels,omitempty"`
	Metadata  map[string]any              `json:"metadata,omitempty"`
}

// BlockDescriptor describes a single unit of work in the graph.
// Inputs is a raw JSON object whose string values may contain ${{...}}
// reference expressions into prior block outputs or run variables.
type BlockDescriptor struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Name    string          `json:"name,omitempty"`
	Inputs  json.RawMessage `json:"inputs,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"` // nil means enabled
	Timeout string          `json:"timeout,omitempty"` // per-block timeout (e.g. "30s")
}

// IsEnabled reports whether the block participates in execution.
// Disabled blocks are skipped and treated as vacuously successful.
func (b *BlockDescriptor) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Edge is a directed connection between two blocks. SourceHandle
// discriminates conditional branches on the source block ("true",
// "false", a case label, or "error" for error-handling edges);
// non-matching edges are skipped, not left pending.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// ErrorHandle is the SourceHandle value that marks an edge as an
// error-handling path: a BlockError on the source is contained by it.
const ErrorHandle = "error"

// Key returns a stable identifier for the edge, deriving one from the
// endpoints when no explicit ID is set.
func (e Edge) Key() string {
	if e.ID != "" {
		return e.ID
	}
	k := e.Source + "->" + e.Target
	if e.SourceHandle != "" {
		k += ":" + e.SourceHandle
	}
	return k
}

// LoopConfig declares a loop subflow: a set of member blocks executed
// once per iteration. The iteration source is either a fixed count or
// a ForEach expression producing a collection to map over. Subflow
// membership is an index, not ownership; member blocks still live in
// the flat block map.
type LoopConfig struct {
	Nodes      []string `json:"nodes"`
	Iterations int      `json:"iterations,omitempty"`
	ForEach    string   `json:"forEach,omitempty"`
	Sequential bool     `json:"sequential,omitempty"`
}

// ParallelConfig declares a parallel subflow: member blocks fan out
// across branches with an optional per-subflow concurrency bound.
// Each branch runs with an isolated variable scope that is joined
// back at the subflow's completion.
type ParallelConfig struct {
	Nodes          []string `json:"nodes"`
	Count          int      `json:"count,omitempty"`
	Distribution   string   `json:"distribution,omitempty"` // expression producing one item per branch
	MaxConcurrency int      `json:"maxConcurrency,omitempty"`
}

// BlockOutput is the normalized result of one block invocation.
// Branch is set by condition-type blocks to name the branch that
// fired. Cost and token figures are optional; blocks without them
// contribute zero to rollups.
type BlockOutput struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Branch string          `json:"branch,omitempty"`
	Model  string          `json:"model,omitempty"`
	Cost   *CostInfo       `json:"cost,omitempty"`
	Tokens *TokenInfo      `json:"tokens,omitempty"`
}

// CostInfo is a dollar-cost breakdown for one block invocation.
type CostInfo struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// TokenInfo is a token-count breakdown for one block invocation.
type TokenInfo struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}
