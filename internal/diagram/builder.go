package diagram

import (
	"fmt"
	"sort"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/pkg/schema"
)

// Build constructs a Model from a workflow graph and optional per-unit
// status overlays keyed by block or subflow ID. It compiles the graph
// for topology, collapses each loop/parallel subflow into a single
// cluster node, and adds virtual start/end nodes.
func Build(g *schema.Graph, overlays map[string]StatusOverlay) (*Model, error) {
	cg, err := engine.Compile(g)
	if err != nil {
		return nil, fmt.Errorf("diagram: compile graph: %w", err)
	}

	// Collapsed unit ID for a block: the owning subflow, or the block itself.
	unitOf := func(blockID string) string {
		if sub := cg.SubflowOf[blockID]; sub != "" {
			return sub
		}
		return blockID
	}

	nodes := []*Node{{ID: "__start__", Label: "Start", Kind: NodeKindStart}}

	unitIDs := topLevelUnits(cg)
	for _, unitID := range unitIDs {
		var node *Node
		switch {
		case cg.IsLoop(unitID):
			node = subflowNode(cg, unitID, NodeKindLoop)
		case isParallel(cg, unitID):
			node = subflowNode(cg, unitID, NodeKindParallel)
		default:
			node = blockNode(cg.Graph.Blocks[unitID])
		}
		applyOverlay(node, overlays)
		if node.Cluster != nil {
			for _, member := range node.Cluster.Nodes {
				applyOverlay(member, overlays)
			}
		}
		nodes = append(nodes, node)
	}

	nodes = append(nodes, &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd})

	edges := collapsedEdges(cg, unitOf)
	levels := buildLevels(unitIDs, edges)

	return &Model{
		Title:  graphTitle(g),
		Nodes:  nodes,
		Edges:  edges,
		Levels: levels,
	}, nil
}

// topLevelUnits returns the collapsed scheduling units in a stable order:
// top-level block IDs plus subflow IDs, sorted.
func topLevelUnits(cg *engine.CompiledGraph) []string {
	units := make([]string, 0, len(cg.Graph.Blocks))
	for id := range cg.Graph.Blocks {
		if cg.SubflowOf[id] == "" {
			units = append(units, id)
		}
	}
	units = append(units, cg.LoopIDs...)
	units = append(units, cg.ParallelIDs...)
	sort.Strings(units)
	return units
}

func isParallel(cg *engine.CompiledGraph, subflowID string) bool {
	_, ok := cg.Graph.Parallels[subflowID]
	return ok
}

func blockNode(block *schema.BlockDescriptor) *Node {
	kind := NodeKindBlock
	if block.Type == "condition" {
		kind = NodeKindCondition
	}
	return &Node{ID: block.ID, Label: blockLabel(block), Kind: kind}
}

func blockLabel(block *schema.BlockDescriptor) string {
	if block.Name != "" {
		return fmt.Sprintf("%s (%s)", block.Name, block.Type)
	}
	return fmt.Sprintf("%s (%s)", block.ID, block.Type)
}

// subflowNode builds a cluster node for a loop or parallel subflow:
// member blocks become cluster nodes, member-to-member edges become
// cluster edges.
func subflowNode(cg *engine.CompiledGraph, subflowID string, kind NodeKind) *Node {
	members := cg.SubflowMembers(subflowID)
	memberSet := make(map[string]bool, len(members))
	cluster := &Cluster{Label: string(kind)}
	for _, m := range members {
		cluster.Nodes = append(cluster.Nodes, blockNode(cg.Graph.Blocks[m]))
		memberSet[m] = true
	}
	for _, edge := range cg.Graph.Edges {
		if memberSet[edge.Source] && memberSet[edge.Target] {
			cluster.Edges = append(cluster.Edges, Edge{
				From:  edge.Source,
				To:    edge.Target,
				Label: edge.SourceHandle,
			})
		}
	}
	return &Node{
		ID:      subflowID,
		Label:   fmt.Sprintf("%s (%s)", subflowID, kind),
		Kind:    kind,
		Cluster: cluster,
	}
}

func applyOverlay(node *Node, overlays map[string]StatusOverlay) {
	if overlays == nil {
		return
	}
	if ov, ok := overlays[node.ID]; ok {
		node.Status = &StatusOverlay{
			Status:     ov.Status,
			DurationMs: ov.DurationMs,
			Error:      ov.Error,
		}
	}
}

// collapsedEdges maps graph edges onto collapsed units, deduplicating
// parallel edges between the same unit pair, and adds virtual
// start/end edges.
func collapsedEdges(cg *engine.CompiledGraph, unitOf func(string) string) []Edge {
	var edges []Edge
	seen := make(map[string]bool)
	add := func(e Edge) {
		key := e.From + "->" + e.To + ":" + e.Label
		if seen[key] {
			return
		}
		seen[key] = true
		edges = append(edges, e)
	}

	hasIncoming := make(map[string]bool)
	hasOutgoing := make(map[string]bool)
	for _, edge := range cg.Graph.Edges {
		src, dst := unitOf(edge.Source), unitOf(edge.Target)
		if src == dst {
			continue // internal subflow edge, rendered inside the cluster
		}
		add(Edge{From: src, To: dst, Label: edge.SourceHandle})
		hasIncoming[dst] = true
		hasOutgoing[src] = true
	}

	for _, unitID := range topLevelUnits(cg) {
		if !hasIncoming[unitID] {
			add(Edge{From: "__start__", To: unitID})
		}
		if !hasOutgoing[unitID] {
			add(Edge{From: unitID, To: "__end__"})
		}
	}
	return edges
}

// buildLevels layers the collapsed units with Kahn's algorithm so
// renderers can lay out units wave by wave. Virtual start/end get
// their own levels.
func buildLevels(unitIDs []string, edges []Edge) [][]string {
	inDegree := make(map[string]int, len(unitIDs))
	adj := make(map[string][]string)
	for _, id := range unitIDs {
		inDegree[id] = 0
	}
	for _, e := range edges {
		if e.From == "__start__" || e.To == "__end__" {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		inDegree[e.To]++
	}

	levels := [][]string{{"__start__"}}
	current := make([]string, 0, len(unitIDs))
	for _, id := range unitIDs {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		var next []string
		for _, id := range current {
			for _, dst := range adj[id] {
				inDegree[dst]--
				if inDegree[dst] == 0 {
					next = append(next, dst)
				}
			}
		}
		current = next
	}
	levels = append(levels, []string{"__end__"})
	return levels
}

func graphTitle(g *schema.Graph) string {
	if g.Name != "" {
		return g.Name
	}
	if g.ID != "" {
		return g.ID
	}
	return "Workflow"
}
