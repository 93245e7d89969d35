package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/recipesync/internal/ir"
)

// CycleWarning represents a potential cycle among rules.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - Retry logic with error-output matching
//   - Recursive workflows with termination conditions
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on rules.
//
// It builds a dependency graph with an edge A -> B whenever an operation in
// A's then clause appears in one of B's when clauses, and reports every
// strongly connected component (Tarjan) that is a real cycle. At runtime
// the step quota stops a cycle that never terminates; this catches them
// before anything runs.
//
// Nodes are visited in rule order, so the result is deterministic.
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(rules []ir.Rule) []CycleWarning {
	warnings := []CycleWarning{}
	if len(rules) == 0 {
		return warnings
	}

	graph, order := buildDependencyGraph(rules)

	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph, order))
		}
	}

	return warnings
}

// dependencyGraph maps rule name -> names of rules its then clause can trigger.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the rule dependency graph and returns the
// node order (rule declaration order).
func buildDependencyGraph(rules []ir.Rule) (dependencyGraph, []string) {
	graph := make(dependencyGraph, len(rules))
	order := make([]string, 0, len(rules))

	// Which rules listen for each operation, in rule order.
	listeners := make(map[ir.OpRef][]string)
	for _, r := range rules {
		seen := make(map[ir.OpRef]bool)
		for _, w := range r.When {
			if !seen[w.Op] {
				seen[w.Op] = true
				listeners[w.Op] = append(listeners[w.Op], r.Name)
			}
		}
	}

	for _, r := range rules {
		order = append(order, r.Name)
		edges := []string{}
		added := make(map[string]bool)
		for _, t := range r.Then {
			for _, target := range listeners[t.Op] {
				if !added[target] {
					added[target] = true
					edges = append(edges, target)
				}
			}
		}
		graph[r.Name] = edges
	}

	return graph, order
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of rule names.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit all nodes
	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// The path shows the cycle sequence by reconstructing a path through the SCC.
// For self-loops, the path is [rule, rule].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []string, graph dependencyGraph, order []string) CycleWarning {
	if len(scc) == 1 {
		// Self-loop
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-triggering rule detected: %s → %s", name, name),
			Level:   "warning",
		}
	}

	// Start from the member declared first.
	slices.SortFunc(scc, func(a, b string) int {
		return slices.Index(order, a) - slices.Index(order, b)
	})
	path := reconstructCyclePath(scc, graph)

	pathStr := strings.Join(path, " → ")
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", pathStr),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}
