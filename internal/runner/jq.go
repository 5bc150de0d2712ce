package runner

import (
	"context"

	"github.com/rendis/weave/internal/expressions"
	"github.com/rendis/weave/pkg/schema"
)

// jqRunner transforms JSON data with a jq query.
//
// Inputs:
//
//	query: the jq expression
//	data:  optional explicit input object; defaults to the run scope
//	       (blocks, variables, workflow, loop)
type jqRunner struct {
	engine *expressions.GoJQEngine
}

func (r *jqRunner) Type() string        { return "jq" }
func (r *jqRunner) Description() string { return "Transform data with a jq query" }

func (r *jqRunner) Execute(ctx context.Context, inv Invocation) (*schema.BlockOutput, error) {
	query, ok := inv.Inputs["query"].(string)
	if !ok || query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"jq block requires non-empty 'query' string input").
			WithBlock(inv.Block.ID)
	}

	input := inv.ScopeData
	if explicit, ok := inv.Inputs["data"].(map[string]any); ok {
		input = explicit
	}

	result, err := r.engine.Evaluate(ctx, query, input)
	if err != nil {
		return nil, err
	}

	return &schema.BlockOutput{Data: encodeData(map[string]any{"result": result})}, nil
}

var _ BlockRunner = (*jqRunner)(nil)
