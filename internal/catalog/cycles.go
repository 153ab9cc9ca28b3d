package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// CycleWarning reports entities that are, through relations, their own
// ancestors. The engine still terminates on such data because parent
// resolution is one level deep, but records for the cycle flip between
// standalone and variant roles on every edit.
type CycleWarning struct {
	Path    []int64 `json:"path"` // [10, 11, 10]
	Message string  `json:"message"`
	Level   string  `json:"level"`
}

// relationGraph maps parent id -> child ids across all relation kinds.
type relationGraph map[int64][]int64

// AnalyzeCycles finds relation cycles in the snapshot.
//
// The algorithm:
//  1. Build a parent -> child graph over every relation kind
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as a warning
//
// Output is ordered by the smallest entity id of each cycle.
func AnalyzeCycles(snap Snapshot) []CycleWarning {
	graph := buildRelationGraph(snap.Relations)
	if len(graph) == 0 {
		return []CycleWarning{}
	}

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && slices.Contains(graph[scc[0]], scc[0])) {
			warnings = append(warnings, cycleWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return cmp.Compare(slices.Min(a.Path), slices.Min(b.Path))
	})
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

func buildRelationGraph(relations []Relation) relationGraph {
	graph := make(relationGraph)
	for _, rel := range relations {
		if graph[rel.Parent] == nil {
			graph[rel.Parent] = []int64{}
		}
		for _, child := range rel.Children {
			if !slices.Contains(graph[rel.Parent], child) {
				graph[rel.Parent] = append(graph[rel.Parent], child)
			}
		}
	}
	for _, children := range graph {
		slices.Sort(children)
	}
	return graph
}

// tarjanSCC finds strongly connected components.
// Nodes are visited in ascending id order so results are deterministic.
func tarjanSCC(graph relationGraph) [][]int64 {
	var (
		index   = 0
		stack   []int64
		indices = make(map[int64]int)
		lowlink = make(map[int64]int)
		onStack = make(map[int64]bool)
		sccs    [][]int64
	)

	var strongConnect func(int64)
	strongConnect = func(v int64) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int64
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

	nodes := make([]int64, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleWarning(scc []int64, graph relationGraph) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []int64{id, id},
			Message: fmt.Sprintf("entity %d is its own child", id),
			Level:   "warning",
		}
	}

	path := cyclePath(scc, graph)
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = fmt.Sprint(id)
	}
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("relation cycle: %s", strings.Join(parts, " -> ")),
		Level:   "warning",
	}
}

// cyclePath walks edges inside the SCC from its smallest member until it
// returns to the start.
func cyclePath(scc []int64, graph relationGraph) []int64 {
	members := make(map[int64]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}

	start := slices.Min(scc)
	current := start
	path := []int64{current}
	visited := make(map[int64]bool)
	for {
		visited[current] = true
		var next int64
		found := false
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next, found = w, true
				break
			}
		}
		if !found {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
