package diagram

// NodeKind classifies a diagram node by the kind of execution unit it
// represents.
type NodeKind string

const (
	NodeKindBlock     NodeKind = "block"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindParallel  NodeKind = "parallel"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents one scheduling unit: a top-level block or a whole
// loop/parallel subflow. Subflow nodes carry their members as a Cluster.
type Node struct {
	ID      string
	Label   string
	Kind    NodeKind
	Status  *StatusOverlay
	Cluster *Cluster
}

// Cluster holds the member blocks and internal edges of a subflow.
type Cluster struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries runtime state for a node, typically sourced
// from a finished or in-flight execution.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge represents a directed connection between two diagram nodes.
// Label carries the source handle of conditional edges.
type Edge struct {
	From  string
	To    string
	Label string
}
