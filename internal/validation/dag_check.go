package validation

import (
	"fmt"
	"sort"

	"github.com/convohq/automation/pkg/schema"
)

// validateGraph performs structural graph analysis: cycle detection via
// Kahn's algorithm and reachability from the trigger nodes. Cycles are
// errors (the executor would hit its step budget); unreachable nodes are
// warnings (dead authoring, not a runtime hazard).
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(def.Nodes) == 0 {
		return result
	}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	// outgoing[source] = targets, dedup of parallel edges.
	outgoing := make(map[string][]string, len(def.Edges))
	inDegree := make(map[string]int, len(def.Nodes))
	for id := range nodeIDs {
		inDegree[id] = 0
	}
	seen := make(map[string]bool, len(def.Edges))
	for _, e := range def.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue // caught by semantic stage
		}
		key := e.Source + "->" + e.Target
		if seen[key] {
			continue
		}
		seen[key] = true
		outgoing[e.Source] = append(outgoing[e.Source], e.Target)
		inDegree[e.Target]++
	}

	// Kahn's algorithm.
	queue := make([]string, 0, len(def.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, target := range outgoing[id] {
			inDegree[target]--
			if inDegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}
	if visited < len(def.Nodes) {
		cyclic := make([]string, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		result.AddError("/edges", schema.ErrCodeValidation,
			fmt.Sprintf("graph contains a cycle through nodes %v", cyclic))
		return result
	}

	// Reachability from When nodes.
	reachable := make(map[string]bool, len(def.Nodes))
	frontier := make([]string, 0)
	for _, n := range def.Nodes {
		if n.Kind == schema.NodeKindWhen {
			reachable[n.ID] = true
			frontier = append(frontier, n.ID)
		}
	}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, target := range outgoing[id] {
			if !reachable[target] {
				reachable[target] = true
				frontier = append(frontier, target)
			}
		}
	}
	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("/nodes/%s", n.ID), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from any trigger", n.ID))
		}
	}

	return result
}
