package engine

import (
	"sort"

	"github.com/rendis/weave/pkg/schema"
)

// CompiledGraph is the in-memory, indexed representation of a workflow graph.
// Built once per execution from an immutable schema.Graph; the executor only
// reads it. Subflow membership is kept as an auxiliary index so the block map
// stays a flat arena.
type CompiledGraph struct {
	Graph *schema.Graph

	Incoming map[string][]schema.Edge // target block ID -> incoming edges
	Outgoing map[string][]schema.Edge // source block ID -> outgoing edges

	SubflowOf map[string]string // block ID -> owning subflow ID ("" for top level)
	LoopIDs   []string          // loop subflow IDs, sorted
	ParallelIDs []string        // parallel subflow IDs, sorted

	// StartBlocks are top-level blocks with no incoming edges; they seed the
	// first ready batch.
	StartBlocks []string
}

// Compile validates a graph and builds the execution indexes.
// Validation covers edge endpoints, duplicate edges, subflow membership, and
// cycles outside loop subflows (a loop's internal back-path is legal).
func Compile(g *schema.Graph) (*CompiledGraph, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}
	if len(g.Blocks) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no blocks")
	}

	cg := &CompiledGraph{
		Graph:     g,
		Incoming:  make(map[string][]schema.Edge, len(g.Blocks)),
		Outgoing:  make(map[string][]schema.Edge, len(g.Blocks)),
		SubflowOf: make(map[string]string, len(g.Blocks)),
	}

	for id, block := range g.Blocks {
		if block == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "block %q is nil", id)
		}
		if block.ID == "" || block.ID != id {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"block map key %q does not match block ID %q", id, block.ID)
		}
		if block.Type == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "block %q has no type", id)
		}
	}

	// Subflow membership: every referenced block must exist, and a block
	// belongs to at most one subflow.
	for subflowID, loop := range g.Loops {
		if loop == nil || len(loop.Nodes) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "loop %q has no nodes", subflowID)
		}
		if loop.Iterations <= 0 && loop.ForEach == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"loop %q must have iterations > 0 or a forEach collection", subflowID)
		}
		if err := cg.claimMembers(subflowID, loop.Nodes); err != nil {
			return nil, err
		}
		cg.LoopIDs = append(cg.LoopIDs, subflowID)
	}
	for subflowID, par := range g.Parallels {
		if par == nil || len(par.Nodes) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parallel %q has no nodes", subflowID)
		}
		if par.Count <= 0 && par.Distribution == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parallel %q must have count > 0 or a distribution collection", subflowID)
		}
		if err := cg.claimMembers(subflowID, par.Nodes); err != nil {
			return nil, err
		}
		cg.ParallelIDs = append(cg.ParallelIDs, subflowID)
	}
	sort.Strings(cg.LoopIDs)
	sort.Strings(cg.ParallelIDs)

	// Edge validation and adjacency.
	seenEdges := make(map[string]bool, len(g.Edges))
	for i, edge := range g.Edges {
		if _, ok := g.Blocks[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"edge %d references non-existent source block %q", i, edge.Source)
		}
		if _, ok := g.Blocks[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"edge %d references non-existent target block %q", i, edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"block %q has an edge to itself", edge.Source)
		}
		key := edge.Key()
		if seenEdges[key] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate edge %q", key)
		}
		seenEdges[key] = true

		cg.Incoming[edge.Target] = append(cg.Incoming[edge.Target], edge)
		cg.Outgoing[edge.Source] = append(cg.Outgoing[edge.Source], edge)
	}

	if err := cg.detectCycles(); err != nil {
		return nil, err
	}

	for id := range g.Blocks {
		if cg.SubflowOf[id] == "" && len(cg.Incoming[id]) == 0 {
			cg.StartBlocks = append(cg.StartBlocks, id)
		}
	}
	sort.Strings(cg.StartBlocks)

	// A subflow whose members receive no edges from outside is itself a
	// start unit.
	hasStart := len(cg.StartBlocks) > 0
	if !hasStart {
		for _, id := range cg.LoopIDs {
			if len(cg.EntryEdges(id)) == 0 {
				hasStart = true
				break
			}
		}
	}
	if !hasStart {
		for _, id := range cg.ParallelIDs {
			if len(cg.EntryEdges(id)) == 0 {
				hasStart = true
				break
			}
		}
	}
	if !hasStart {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"graph has no start unit: every block has incoming edges")
	}

	return cg, nil
}

// claimMembers records subflow ownership, rejecting double membership.
func (cg *CompiledGraph) claimMembers(subflowID string, nodes []string) error {
	seen := make(map[string]bool, len(nodes))
	for _, blockID := range nodes {
		if _, ok := cg.Graph.Blocks[blockID]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"subflow %q references non-existent block %q", subflowID, blockID)
		}
		if seen[blockID] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"subflow %q lists block %q twice", subflowID, blockID)
		}
		seen[blockID] = true
		if owner, claimed := cg.SubflowOf[blockID]; claimed && owner != "" {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"block %q belongs to both subflow %q and %q", blockID, owner, subflowID)
		}
		cg.SubflowOf[blockID] = subflowID
	}
	return nil
}

// IsLoop reports whether the subflow ID names a loop.
func (cg *CompiledGraph) IsLoop(subflowID string) bool {
	_, ok := cg.Graph.Loops[subflowID]
	return ok
}

// SubflowMembers returns the member block IDs of a subflow, sorted.
func (cg *CompiledGraph) SubflowMembers(subflowID string) []string {
	var nodes []string
	if loop, ok := cg.Graph.Loops[subflowID]; ok {
		nodes = loop.Nodes
	} else if par, ok := cg.Graph.Parallels[subflowID]; ok {
		nodes = par.Nodes
	}
	sorted := make([]string, len(nodes))
	copy(sorted, nodes)
	sort.Strings(sorted)
	return sorted
}

// EntryEdges returns the edges crossing from outside a subflow to one of its
// members. The subflow becomes eligible once all of them are resolved.
func (cg *CompiledGraph) EntryEdges(subflowID string) []schema.Edge {
	var entries []schema.Edge
	for _, blockID := range cg.SubflowMembers(subflowID) {
		for _, edge := range cg.Incoming[blockID] {
			if cg.SubflowOf[edge.Source] != subflowID {
				entries = append(entries, edge)
			}
		}
	}
	return entries
}

// ExitEdges returns the edges crossing from a member of a subflow to a block
// outside it. They are activated when the whole subflow completes.
func (cg *CompiledGraph) ExitEdges(subflowID string) []schema.Edge {
	var exits []schema.Edge
	for _, blockID := range cg.SubflowMembers(subflowID) {
		for _, edge := range cg.Outgoing[blockID] {
			if cg.SubflowOf[edge.Target] != subflowID {
				exits = append(exits, edge)
			}
		}
	}
	return exits
}

// detectCycles runs Kahn's algorithm over the collapsed graph where each
// subflow is a single node. Edges fully inside a loop subflow are excluded:
// a loop's internal back-path is how iteration is expressed, not a defect.
func (cg *CompiledGraph) detectCycles() error {
	// Collapsed node ID for a block.
	nodeOf := func(blockID string) string {
		if sub := cg.SubflowOf[blockID]; sub != "" {
			return "subflow:" + sub
		}
		return blockID
	}

	nodes := make(map[string]bool, len(cg.Graph.Blocks))
	for id := range cg.Graph.Blocks {
		nodes[nodeOf(id)] = true
	}

	adj := make(map[string][]string)
	inDegree := make(map[string]int, len(nodes))
	for n := range nodes {
		inDegree[n] = 0
	}

	seen := make(map[[2]string]bool)
	for _, edge := range cg.Graph.Edges {
		src, dst := nodeOf(edge.Source), nodeOf(edge.Target)
		if src == dst {
			if sub := cg.SubflowOf[edge.Source]; sub != "" && cg.IsLoop(sub) {
				continue
			}
			// Self edges on blocks are rejected earlier; a same-node edge here
			// means an internal parallel edge, which is fine for cycles only
			// if it does not close a loop among members. Parallel members run
			// a DAG per branch, so detect member-level cycles separately.
			continue
		}
		pair := [2]string{src, dst}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		adj[src] = append(adj[src], dst)
		inDegree[dst]++
	}

	queue := make([]string, 0, len(nodes))
	for n, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, n)
		}
	}

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(nodes) {
		return schema.NewError(schema.ErrCodeCycleDetected,
			"graph contains a cycle outside loop subflows")
	}

	// Member-level check inside parallel subflows: each branch executes the
	// member edges as a DAG, so cycles among members are invalid.
	for _, subflowID := range cg.ParallelIDs {
		if err := cg.detectMemberCycle(subflowID); err != nil {
			return err
		}
	}
	return nil
}

func (cg *CompiledGraph) detectMemberCycle(subflowID string) error {
	members := cg.SubflowMembers(subflowID)
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	inDegree := make(map[string]int, len(members))
	adj := make(map[string][]string)
	for _, m := range members {
		inDegree[m] = 0
	}
	for _, edge := range cg.Graph.Edges {
		if memberSet[edge.Source] && memberSet[edge.Target] {
			adj[edge.Source] = append(adj[edge.Source], edge.Target)
			inDegree[edge.Target]++
		}
	}

	queue := make([]string, 0, len(members))
	for m, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, m)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(members) {
		return schema.NewErrorf(schema.ErrCodeCycleDetected,
			"parallel subflow %q contains a cycle among its members", subflowID)
	}
	return nil
}
