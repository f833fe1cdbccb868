package engine

import (
	"github.com/convohq/automation/pkg/schema"
)

// Graph is an indexed view of a workflow definition's nodes and edges.
type Graph struct {
	nodes    map[string]*schema.Node
	outgoing map[string][]schema.Edge
}

// BuildGraph indexes a definition for traversal. Edges referencing unknown
// nodes are dropped; the validator catches them at authoring time, and the
// executor must not crash on a definition that slipped past it.
func BuildGraph(def *schema.WorkflowDefinition) *Graph {
	g := &Graph{
		nodes:    make(map[string]*schema.Node, len(def.Nodes)),
		outgoing: make(map[string][]schema.Edge, len(def.Edges)),
	}
	for i := range def.Nodes {
		node := &def.Nodes[i]
		g.nodes[node.ID] = node
	}
	for _, edge := range def.Edges {
		if _, ok := g.nodes[edge.Source]; !ok {
			continue
		}
		if _, ok := g.nodes[edge.Target]; !ok {
			continue
		}
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
	}
	return g
}

// Node returns the node by ID.
func (g *Graph) Node(id string) (*schema.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// OutEdges returns the outgoing edges of a node with the given kind, in
// definition order.
func (g *Graph) OutEdges(nodeID string, kind schema.EdgeKind) []schema.Edge {
	var out []schema.Edge
	for _, e := range g.outgoing[nodeID] {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// HasOutEdges reports whether a node has any outgoing edge of the kind.
func (g *Graph) HasOutEdges(nodeID string, kind schema.EdgeKind) bool {
	for _, e := range g.outgoing[nodeID] {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
