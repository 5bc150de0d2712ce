package runner

import (
	"sort"
	"sync"

	"github.com/rendis/weave/pkg/schema"
)

// Registry is the concrete thread-safe BlockRegistry implementation.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]BlockRunner
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]BlockRunner),
	}
}

// Register adds a runner to the registry. Returns error on duplicate type.
func (r *Registry) Register(runner BlockRunner) error {
	if runner == nil {
		return schema.NewError(schema.ErrCodeValidation, "runner is nil")
	}
	blockType := runner.Type()
	if blockType == "" {
		return schema.NewError(schema.ErrCodeValidation, "runner type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[blockType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "runner %q already registered", blockType)
	}

	r.runners[blockType] = runner
	return nil
}

// Get retrieves a runner by block type.
func (r *Registry) Get(blockType string) (BlockRunner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[blockType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeRunnerUnavailable, "no runner registered for block type %q", blockType)
	}
	return runner, nil
}

// List returns info for all registered runners, sorted by type.
func (r *Registry) List() []RunnerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RunnerInfo, 0, len(r.runners))
	for _, runner := range r.runners {
		info := RunnerInfo{Type: runner.Type()}
		if d, ok := runner.(Describer); ok {
			info.Description = d.Description()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// Has checks if a runner is registered.
func (r *Registry) Has(blockType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[blockType]
	return ok
}

// Count returns the number of registered runners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// ResolveGraph verifies that every enabled block in the graph has a
// registered runner. Called at graph load so that a run never starts
// only to fail mid-flight on an unknown block type.
func (r *Registry) ResolveGraph(g *schema.Graph) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, block := range g.Blocks {
		if !block.IsEnabled() {
			continue
		}
		if _, ok := r.runners[block.Type]; !ok {
			missing = append(missing, block.Type)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		missing = dedupe(missing)
		return schema.NewErrorf(schema.ErrCodeRunnerUnavailable,
			"graph %q references unregistered block types: %v", g.ID, missing).
			WithDetails(map[string]any{"missing_types": missing})
	}
	return nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

var _ BlockRegistry = (*Registry)(nil)
