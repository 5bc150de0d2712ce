package validation

import "github.com/rendis/weave/pkg/schema"

// Validator checks graph documents for correctness before execution.
// Uses JSON Schema Draft 2020-12 for the structural pass; the engine's
// graph compiler performs the semantic pass (edge endpoints, cycles,
// subflow membership).
type Validator interface {
	ValidateGraph(g *schema.Graph) error
}
