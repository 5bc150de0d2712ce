package expressions

import "context"

// Engine evaluates expressions against run data.
// Three implementations: CEL (conditions and branch routing), Expr
// (loop collections and function blocks), GoJQ (JSON transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
