package runner

import (
	"context"

	"github.com/rendis/weave/internal/expressions"
	"github.com/rendis/weave/pkg/schema"
)

// RegisterBuiltins registers all built-in runners in the given registry.
func RegisterBuiltins(reg *Registry, mcpCfg MCPConfig) error {
	all := []BlockRunner{
		&noopRunner{},
		&functionRunner{engine: expressions.NewExprEngine()},
		&jqRunner{engine: expressions.NewGoJQEngine()},
		NewAPIRunner(HTTPConfig{}),
		NewMCPToolRunner(mcpCfg),
	}

	cond, err := NewConditionRunner()
	if err != nil {
		return err
	}
	all = append(all, cond)

	for _, r := range all {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// --- noop ---

// noopRunner passes its resolved inputs through unchanged. Useful as a
// join point and for wiring tests.
type noopRunner struct{}

func (r *noopRunner) Type() string        { return "noop" }
func (r *noopRunner) Description() string { return "Pass resolved inputs through unchanged" }

func (r *noopRunner) Execute(ctx context.Context, inv Invocation) (*schema.BlockOutput, error) {
	data := inv.Inputs
	if data == nil {
		data = map[string]any{}
	}
	return &schema.BlockOutput{Data: encodeData(data)}, nil
}

// --- function ---

// functionRunner evaluates an Expr expression for deterministic data
// shaping. The expression environment is the scope data plus the block's
// resolved inputs under "inputs".
type functionRunner struct {
	engine *expressions.ExprEngine
}

func (r *functionRunner) Type() string { return "function" }
func (r *functionRunner) Description() string {
	return "Evaluate an Expr expression against block inputs and the run scope"
}

func (r *functionRunner) Execute(ctx context.Context, inv Invocation) (*schema.BlockOutput, error) {
	expression, ok := inv.Inputs["expression"].(string)
	if !ok || expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"function block requires non-empty 'expression' string input").
			WithBlock(inv.Block.ID)
	}

	env := make(map[string]any, len(inv.ScopeData)+1)
	for k, v := range inv.ScopeData {
		env[k] = v
	}
	env["inputs"] = inv.Inputs

	result, err := r.engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}

	return &schema.BlockOutput{Data: encodeData(map[string]any{"result": result})}, nil
}
