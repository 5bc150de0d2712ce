package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/weave/pkg/schema"
)

// Interpolator resolves ${{...}} reference expressions in block inputs.
// Supported namespaces: blocks.<id>[.<field>...], variables.<name>,
// workflow.<field>, loop.item / loop.index.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve scans raw JSON for ${{...}} tokens and replaces each with the
// value it references in the scope. A reference to a block absent from
// the scope is reported as an unresolved reference: on a block the
// scheduler marked ready this is an engine invariant violation, so the
// caller treats it as fatal.
//
// Substitution is aware of JSON string context, so the result is always
// valid JSON the engine can re-parse:
//   - a token spanning an entire string literal ("${{expr}}") collapses
//     to the value's JSON form, keeping maps, lists and numbers typed
//   - a token inside a larger string is stringified and JSON-escaped
//   - a token outside any string is encoded inline
func (interp *Interpolator) Resolve(raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	input := string(raw)
	var result strings.Builder
	result.Grow(len(input))

	inString := false
	stringStart := -1

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		// Track string-literal boundaries across the literal chunk so we
		// know whether the token sits inside a JSON string.
		chunkEnd := i + idx
		for j := i; j < chunkEnd; j++ {
			switch input[j] {
			case '\\':
				if inString {
					j++
				}
			case '"':
				inString = !inString
				if inString {
					stringStart = j
				}
			}
		}

		start := chunkEnd + 3
		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])

		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}

		val, err := interp.resolveExpr(expr, scope)
		if err != nil {
			return nil, err
		}

		wholeString := inString && stringStart == chunkEnd-1 &&
			end+2 < len(input) && input[end+2] == '"'

		switch {
		case wholeString:
			// The token is the entire string literal: drop the quotes and
			// substitute the value's JSON form.
			result.WriteString(input[i : chunkEnd-1])
			result.WriteString(marshalValue(val))
			i = end + 3
			inString = false
		case inString:
			result.WriteString(input[i:chunkEnd])
			result.WriteString(escapeInString(val))
			i = end + 2
		default:
			result.WriteString(input[i:chunkEnd])
			result.WriteString(marshalValue(val))
			i = end + 2
		}
	}

	return json.RawMessage(result.String()), nil
}

// ResolveValue resolves a single reference expression to its value
// without JSON re-encoding. The ${{...}} wrapper is optional, so both
// "${{blocks.fetch.items}}" and "blocks.fetch.items" are accepted.
func (interp *Interpolator) ResolveValue(expr string, scope *Scope) (any, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "${{") && strings.HasSuffix(expr, "}}") {
		expr = strings.TrimSpace(expr[3 : len(expr)-2])
	}
	if expr == "" {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference")
	}
	return interp.resolveExpr(expr, scope)
}

// resolveExpr resolves a single reference path like "blocks.fetch.output.url".
func (interp *Interpolator) resolveExpr(expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "blocks":
		return interp.resolveBlocks(expr, scope)
	case "variables":
		return interp.resolveVariables(expr, scope)
	case "workflow":
		return interp.resolveWorkflow(expr, scope)
	case "loop":
		return interp.resolveLoop(expr, scope)
	default:
		available := []string{"blocks", "variables", "workflow", "loop"}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveBlocks resolves blocks.<id>[.<field>...] references.
func (interp *Interpolator) resolveBlocks(expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 3) // [blocks, id, rest...]
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid block reference %q: expected blocks.<id>[.<field>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	blockID := parts[1]
	out, ok := scope.Blocks[blockID]
	if !ok {
		available := mapKeys(scope.Blocks)
		return nil, schema.NewErrorf(schema.ErrCodeUnresolvedReference,
			"block %q has produced no output for ${{%s}}; available blocks: [%s]",
			blockID, expr, strings.Join(available, ", ")).
			WithBlock(blockID).
			WithDetails(map[string]any{"expression": expr, "available_blocks": available})
	}

	if len(parts) < 3 {
		return out, nil
	}
	return traversePath(out, parts[2], expr)
}

// resolveVariables resolves variables.<name>[.<field>...] references.
func (interp *Interpolator) resolveVariables(expr string, scope *Scope) (any, error) {
	rest := strings.TrimPrefix(expr, "variables.")
	if rest == expr || rest == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid variable reference %q: expected variables.<name>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	parts := strings.SplitN(rest, ".", 2)
	val, ok := scope.Variables[parts[0]]
	if !ok {
		available := mapKeys(scope.Variables)
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"variable %q not found in ${{%s}}; available: [%s]",
			parts[0], expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_variables": available})
	}
	if len(parts) < 2 {
		return val, nil
	}
	return traversePath(val, parts[1], expr)
}

// resolveWorkflow resolves workflow.<field> references.
func (interp *Interpolator) resolveWorkflow(expr string, scope *Scope) (any, error) {
	rest := strings.TrimPrefix(expr, "workflow.")
	if rest == expr || rest == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid workflow reference %q: expected workflow.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}
	return traversePath(scope.Workflow, rest, expr)
}

// resolveLoop resolves loop.item[.<field>...] and loop.index references.
func (interp *Interpolator) resolveLoop(expr string, scope *Scope) (any, error) {
	if scope.Loop == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"${{%s}} used outside a loop or parallel subflow", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	rest := strings.TrimPrefix(expr, "loop.")
	switch {
	case rest == "index":
		return scope.Loop.Index, nil
	case rest == "item":
		return scope.Loop.Item, nil
	case strings.HasPrefix(rest, "item."):
		return traversePath(scope.Loop.Item, strings.TrimPrefix(rest, "item."), expr)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid loop reference %q: expected loop.item or loop.index", expr).
			WithDetails(map[string]any{"expression": expr})
	}
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, expr string) (any, error) {
	// Direct key lookup first (supports keys containing dots).
	if m, ok := root.(map[string]any); ok {
		if val, ok := m[path]; ok {
			return val, nil
		}
	}

	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// marshalValue converts a resolved value into its JSON representation.
// Strings come back quoted and escaped.
func marshalValue(val any) string {
	if rm, ok := val.(json.RawMessage); ok {
		return string(rm)
	}
	b, err := json.Marshal(val)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprintf("%v", val))
	}
	return string(b)
}

// escapeInString stringifies a resolved value and escapes it for use
// inside a JSON string literal, without the surrounding quotes.
func escapeInString(val any) string {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case nil:
		s = "null"
	default:
		s = marshalValue(v)
	}
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasInterpolation checks if a JSON blob contains any ${{...}} references.
func HasInterpolation(raw json.RawMessage) bool {
	return strings.Contains(string(raw), "${{")
}
