package graph

// Edge is a directed dependency between two nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Relationship string `json:"relationship,omitempty"`
}

// Clone returns a copy of the edge. Edges carry no reference types, so a
// value copy is already deep; the method exists for symmetry with Node.
func (e Edge) Clone() Edge {
	return e
}

// CloneNodes deep-copies a node slice.
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// CloneEdges copies an edge slice.
func CloneEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}
