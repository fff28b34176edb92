package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Validate(t *testing.T) {
	valid := &Graph{
		Name:  "ok",
		Nodes: []Node{{ID: "a", Type: NodeTypeLiteral}, {ID: "b", Type: NodeTypePassthrough}},
		Edges: []Edge{{From: "start", To: "a"}, {From: "a", To: "b"}, {From: "b", To: "a"}},
		EndNodeID: "b",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		graph *Graph
	}{
		{"duplicate ids", &Graph{
			Nodes: []Node{{ID: "a", Type: "x"}, {ID: "a", Type: "x"}},
			Edges: []Edge{{From: "start", To: "a"}},
		}},
		{"unknown edge target", &Graph{
			Nodes: []Node{{ID: "a", Type: "x"}},
			Edges: []Edge{{From: "start", To: "a"}, {From: "a", To: "ghost"}},
		}},
		{"edge into start", &Graph{
			Nodes: []Node{{ID: "a", Type: "x"}},
			Edges: []Edge{{From: "start", To: "a"}, {From: "a", To: "start"}},
		}},
		{"unknown end", &Graph{
			Nodes:     []Node{{ID: "a", Type: "x"}},
			Edges:     []Edge{{From: "start", To: "a"}},
			EndNodeID: "z",
		}},
		{"subgraph without child", &Graph{
			Nodes: []Node{{ID: "s", Type: NodeTypeSubgraph}},
			Edges: []Edge{{From: "start", To: "s"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.graph.Validate(), ErrInvalidGraph)
		})
	}
}

func TestGraph_CloneIsDeep(t *testing.T) {
	child := &Graph{Name: "child", Nodes: []Node{{ID: "c", Type: NodeTypeLiteral, Config: map[string]any{"content": "x"}}}}
	g := &Graph{
		Name:      "parent",
		Nodes:     []Node{{ID: "s", Type: NodeTypeSubgraph, Config: map[string]any{"k": "v"}}},
		Edges:     []Edge{{From: "start", To: "s"}},
		Subgraphs: map[string]*Graph{"s": child},
	}
	c := g.Clone()
	c.Nodes[0].Config["k"] = "changed"
	c.Subgraphs["s"].Nodes[0].Config["content"] = "y"
	c.Edges[0].To = "other"

	assert.Equal(t, "v", g.Nodes[0].Config["k"])
	assert.Equal(t, "x", child.Nodes[0].Config["content"])
	assert.Equal(t, "s", g.Edges[0].To)
}

func TestGraph_IncomingOutgoingOrder(t *testing.T) {
	g := &Graph{Edges: []Edge{{From: "start", To: "a"}, {From: "b", To: "a"}, {From: "a", To: "b"}, {From: "c", To: "a"}}}
	assert.Equal(t, []int{0, 1, 3}, g.Incoming("a"))
	assert.Equal(t, []int{2}, g.Outgoing("a"))
	assert.Equal(t, DefaultStartNodeID, g.Start())
}
