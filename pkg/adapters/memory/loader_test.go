package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
	contract "github.com/aretw0/weft/pkg/ports/tests"
)

func literalGraph(name string) *domain.Graph {
	return &domain.Graph{
		Name: name,
		Nodes: []domain.Node{
			{ID: "hello", Type: "literal", Config: map[string]any{"content": "Hello World"}},
			{ID: "end", Type: "passthrough"},
		},
		Edges:     []domain.Edge{{From: "start", To: "hello"}, {From: "hello", To: "end"}},
		EndNodeID: "end",
	}
}

func TestInMemoryLoader_Contract(t *testing.T) {
	graphs := map[string]*domain.Graph{
		"hello":   literalGraph("hello"),
		"goodbye": literalGraph("goodbye"),
	}
	contract.GraphLoaderContractTest(t, memory.NewLoader(graphs), graphs, "missing")
}

func TestInMemoryLoader_Copies(t *testing.T) {
	l := memory.NewLoader(nil)
	g := literalGraph("copy")
	require.NoError(t, l.Add("copy", g))
	g.Nodes[0].Config["content"] = "mutated"

	got, err := l.Load(context.Background(), "copy")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", got.Nodes[0].Config["content"])
	assert.Equal(t, []string{"copy"}, l.Refs())

	assert.ErrorIs(t, l.Add("broken", &domain.Graph{Nodes: []domain.Node{{ID: "x"}}}), domain.ErrInvalidGraph)
}
