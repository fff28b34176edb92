package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/weft/internal/presentation/graph"
	"github.com/aretw0/weft/pkg/domain"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		graph    *domain.Graph
		contains []string
		excludes []string
	}{
		{
			name: "Node Shapes",
			graph: &domain.Graph{
				Nodes: []domain.Node{
					{ID: "writer", Type: domain.NodeTypeAgent},
					{ID: "review", Type: domain.NodeTypeHuman},
					{ID: "code", Type: domain.NodeTypePython},
					{ID: "child", Type: domain.NodeTypeSubgraph},
					{ID: "gate", Type: domain.NodeTypeLoopCounter},
				},
			},
			contains: []string{
				`start(("start"))`,
				`writer["writer <br/> <small>agent</small>"]`,
				`review[/"review <br/> <small>human</small>"/]`,
				`code[("code <br/> <small>python</small>")]`,
				`child[["child <br/> <small>subgraph</small>"]]`,
				`gate{{"gate <br/> <small>loop_counter</small>"}}`,
			},
		},
		{
			name: "ID Sanitization",
			graph: &domain.Graph{
				Nodes: []domain.Node{{ID: "path/to/file.md"}, {ID: "hyphen-ated"}},
			},
			contains: []string{
				`path_to_file_md["path/to/file.md"]`,
				`hyphen_ated["hyphen-ated"]`,
			},
		},
		{
			name: "Back Edges Dashed",
			graph: &domain.Graph{
				Nodes: []domain.Node{
					{ID: "draft", Type: domain.NodeTypeAgent},
					{ID: "review", Type: domain.NodeTypeHuman},
				},
				Edges: []domain.Edge{
					{From: "start", To: "draft"},
					{From: "draft", To: "review"},
					{From: "review", To: "draft"},
				},
			},
			contains: []string{
				"start --> draft",
				"draft --> review",
				"review -.-> draft",
			},
			excludes: []string{"review --> draft"},
		},
		{
			name: "End Marker",
			graph: &domain.Graph{
				Nodes:     []domain.Node{{ID: "done", Type: domain.NodeTypePassthrough}},
				EndNodeID: "done",
			},
			contains: []string{`done{{"done <br/> <small>passthrough</small> <br/> ⏹"}}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.graph, nil)
			assert.True(t, strings.HasPrefix(got, "graph TD\n"))
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{{ID: "a"}, {ID: "b-1"}},
		Edges: []domain.Edge{{From: "start", To: "a"}, {From: "a", To: "b-1"}},
	}
	got := graph.GenerateMermaid(g, &graph.GraphOverlay{
		VisitedNodes: []string{"a", "a", "b-1"},
		FinalNode:    "b-1",
	})

	assert.Equal(t, 1, strings.Count(got, "class a visited;"))
	assert.Contains(t, got, "class b_1 visited;")
	assert.Contains(t, got, "class b_1 final;")
	assert.Contains(t, got, "classDef final")
}

func TestGenerateMermaid_Nil(t *testing.T) {
	assert.Equal(t, "graph TD\n", graph.GenerateMermaid(nil, nil))
}
