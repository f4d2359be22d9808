package wdl

import (
	"fmt"
)

// Validate runs structural checks over a definition and returns every
// discovered problem. An empty slice means the definition is
// structurally sound. Validate never panics and never stops at the
// first problem.
func Validate(def *Definition) []string {
	var problems []string

	if def == nil {
		return []string{"definition is nil"}
	}

	if len(def.StartNodes()) == 0 {
		problems = append(problems, "workflow has no START node")
	}
	if len(def.EndNodes()) == 0 {
		problems = append(problems, "workflow has no END node")
	}

	for _, edge := range def.Edges {
		if _, ok := def.Nodes[edge.From]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: unknown from_node %q", edge.ID, edge.From))
		}
		if _, ok := def.Nodes[edge.To]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: unknown to_node %q", edge.ID, edge.To))
		}
	}

	for id, node := range def.Nodes {
		for _, dep := range node.DependsOn {
			if _, ok := def.Nodes[dep]; !ok {
				problems = append(problems, fmt.Sprintf("node %s: depends_on references unknown node %q", id, dep))
			}
		}
		problems = append(problems, validateNodeConfig(def, id, node)...)
	}

	problems = append(problems, detectEscapingCycles(def)...)

	return problems
}

// validateNodeConfig checks variant-specific node references.
func validateNodeConfig(def *Definition, id string, node *Node) []string {
	var problems []string

	checkRefs := func(kind string, ids []string) {
		for _, ref := range ids {
			if _, ok := def.Nodes[ref]; !ok {
				problems = append(problems, fmt.Sprintf("node %s: %s references unknown node %q", id, kind, ref))
			}
		}
	}

	switch node.Type {
	case NodeTypeCondition:
		if node.Condition != nil {
			checkRefs("true_path", node.Condition.TruePath)
			checkRefs("false_path", node.Condition.FalsePath)
		}
	case NodeTypeParallel:
		if node.Parallel != nil {
			for _, branch := range node.Parallel.Branches {
				checkRefs("branch", branch)
			}
		}
	case NodeTypeLoop:
		if node.Loop != nil {
			checkRefs("loop_body", node.Loop.Body)
		}
	}
	return problems
}

// detectEscapingCycles rejects any cycle that is not fully contained in
// a single loop node's declared body. Loop bodies legitimately return
// to their loop node; every other cycle is a structural error.
func detectEscapingCycles(def *Definition) []string {
	// Collect the node sets inside which cycles are permitted: each
	// loop body plus the loop node itself.
	loopSets := make([]map[string]bool, 0)
	for id, node := range def.Nodes {
		if node.Type != NodeTypeLoop || node.Loop == nil {
			continue
		}
		set := map[string]bool{id: true}
		for _, body := range node.Loop.Body {
			set[body] = true
		}
		loopSets = append(loopSets, set)
	}

	inSameLoop := func(a, b string) bool {
		for _, set := range loopSets {
			if set[a] && set[b] {
				return true
			}
		}
		return false
	}

	// Adjacency over edges, dropping edges whose endpoints share a
	// loop body set.
	adjacency := make(map[string][]string)
	for _, edge := range def.Edges {
		if _, ok := def.Nodes[edge.From]; !ok {
			continue
		}
		if _, ok := def.Nodes[edge.To]; !ok {
			continue
		}
		if inSameLoop(edge.From, edge.To) {
			continue
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var problems []string

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range adjacency[id] {
			if !visited[next] {
				if visit(next) {
					return true
				}
			} else if onStack[next] {
				problems = append(problems, fmt.Sprintf("cycle detected outside loop body involving node %q", next))
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for id := range def.Nodes {
		if !visited[id] {
			visit(id)
		}
	}

	return problems
}
