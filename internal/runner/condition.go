package runner

import (
	"context"

	"github.com/rendis/weave/internal/expressions"
	"github.com/rendis/weave/pkg/schema"
)

// ConditionRunner evaluates an ordered list of CEL conditions and reports
// the branch of the first one that holds. The scheduler then activates
// only the outgoing edges whose source handle matches that branch.
//
// Inputs:
//
//	conditions: [{"branch": "high", "when": "blocks.score.value >= 80"}, ...]
//	else:       optional fallback branch when no condition holds
type ConditionRunner struct {
	engine *expressions.CELEngine
}

// NewConditionRunner creates a condition runner with its own CEL environment.
func NewConditionRunner() (*ConditionRunner, error) {
	engine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create condition engine: %v", err).WithCause(err)
	}
	return &ConditionRunner{engine: engine}, nil
}

func (r *ConditionRunner) Type() string { return "condition" }
func (r *ConditionRunner) Description() string {
	return "Evaluate CEL conditions and select an outgoing branch"
}

func (r *ConditionRunner) Execute(ctx context.Context, inv Invocation) (*schema.BlockOutput, error) {
	conditions, err := parseConditions(inv)
	if err != nil {
		return nil, err
	}

	for _, cond := range conditions {
		out, evalErr := r.engine.Evaluate(ctx, cond.when, inv.ScopeData)
		if evalErr != nil {
			return nil, evalErr
		}

		hold, ok := out.(bool)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition %q must evaluate to a boolean, got %T", cond.when, out).
				WithBlock(inv.Block.ID).
				WithDetails(map[string]any{"expression": cond.when})
		}

		if hold {
			return &schema.BlockOutput{
				Data:   encodeData(map[string]any{"branch": cond.branch, "matched": cond.when}),
				Branch: cond.branch,
			}, nil
		}
	}

	if fallback, ok := inv.Inputs["else"].(string); ok && fallback != "" {
		return &schema.BlockOutput{
			Data:   encodeData(map[string]any{"branch": fallback, "matched": nil}),
			Branch: fallback,
		}, nil
	}

	// No branch selected: every conditional outgoing edge gets skipped.
	return &schema.BlockOutput{
		Data: encodeData(map[string]any{"branch": nil, "matched": nil}),
	}, nil
}

type condition struct {
	branch string
	when   string
}

func parseConditions(inv Invocation) ([]condition, error) {
	raw, ok := inv.Inputs["conditions"].([]any)
	if !ok || len(raw) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"condition block requires a non-empty 'conditions' array input").
			WithBlock(inv.Block.ID)
	}

	conditions := make([]condition, 0, len(raw))
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"conditions[%d] must be an object with 'branch' and 'when'", i).
				WithBlock(inv.Block.ID)
		}

		branch, _ := entry["branch"].(string)
		when, _ := entry["when"].(string)
		if branch == "" || when == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"conditions[%d] requires non-empty 'branch' and 'when' strings", i).
				WithBlock(inv.Block.ID)
		}

		conditions = append(conditions, condition{branch: branch, when: when})
	}
	return conditions, nil
}

var _ BlockRunner = (*ConditionRunner)(nil)
