package runner

import (
	"context"
	"encoding/json"

	"github.com/rendis/weave/pkg/schema"
)

// BlockRunner executes blocks of a single type. Implementations receive
// fully resolved inputs: by the time Execute is called, every ${{...}}
// reference in the block's configured inputs has been replaced with its
// concrete value.
type BlockRunner interface {
	Type() string
	Execute(ctx context.Context, inv Invocation) (*schema.BlockOutput, error)
}

// BlockRegistry manages the lifecycle and lookup of available runners.
type BlockRegistry interface {
	Register(r BlockRunner) error
	Get(blockType string) (BlockRunner, error)
	List() []RunnerInfo
}

// Invocation is the data provided to a runner at execution time.
type Invocation struct {
	Block  *schema.BlockDescriptor `json:"block"`
	Inputs map[string]any          `json:"inputs"`

	// ScopeData carries the expression environment (blocks, variables,
	// workflow, loop) for runners that evaluate expressions of their own,
	// such as condition and jq blocks.
	ScopeData map[string]any `json:"scope_data,omitempty"`
}

// RunnerInfo is a summary of a registered runner for listing.
type RunnerInfo struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Describer is optionally implemented by runners that document themselves.
type Describer interface {
	Description() string
}

// encodeData marshals a runner result into the output envelope.
func encodeData(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
