package graph

import (
	"slices"

	"github.com/aretw0/weft/pkg/domain"
)

// BackEdges returns the indices of edges that close a cycle. They are found by
// a depth-first walk from the start node, visiting successors in edge
// declaration order; nodes the walk cannot reach are walked afterwards in node
// declaration order so every edge is classified.
func BackEdges(g *domain.Graph) []int {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.Nodes)+1)
	var back []int

	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		for _, ei := range g.Outgoing(id) {
			to := g.Edges[ei].To
			switch state[to] {
			case onStack:
				back = append(back, ei)
			case unvisited:
				visit(to)
			}
		}
		state[id] = done
	}

	visit(g.Start())
	for _, n := range g.Nodes {
		if state[n.ID] == unvisited {
			visit(n.ID)
		}
	}
	slices.Sort(back)
	return back
}

