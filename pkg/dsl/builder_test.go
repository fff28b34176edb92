package dsl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
)

func TestBuilder_ReviewLoop(t *testing.T) {
	b := New("review")

	b.Agent("writer").
		Role("Draft a release note.").
		Provider("echo").
		InputMode("messages").
		To("review")

	b.Human("review").
		Role("Approve the draft.").
		To("gate")

	b.LoopCounter("gate", 3).
		To("writer")

	b.Start("writer").End("review").Var("lang", "en")

	g, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, "review", g.Name)
	assert.Equal(t, "review", g.EndNodeID)
	assert.Equal(t, map[string]any{"lang": "en"}, g.Vars)

	require.Len(t, g.Nodes, 3)
	assert.Equal(t, []string{"writer", "review", "gate"}, []string{g.Nodes[0].ID, g.Nodes[1].ID, g.Nodes[2].ID})
	assert.Equal(t, domain.NodeTypeAgent, g.Nodes[0].Type)
	assert.Equal(t, "echo", g.Nodes[0].Config["provider"])
	assert.Equal(t, 3, g.Nodes[2].Config["max_iterations"])

	assert.Equal(t, []domain.Edge{
		{From: "start", To: "writer"},
		{From: "writer", To: "review"},
		{From: "review", To: "gate"},
		{From: "gate", To: "writer"},
	}, g.Edges)

	require.NoError(t, executor.DefaultRegistry().ValidateGraph(g))
}

func TestBuilder_AddReturnsExisting(t *testing.T) {
	b := New("g")
	first := b.Add("a")
	assert.Same(t, first, b.Add("a"))
}

func TestBuilder_Subgraph(t *testing.T) {
	child := New("child")
	child.Passthrough("inner")
	child.Start("inner")

	b := New("parent")
	b.Subgraph("nested", child).To("done")
	b.Passthrough("done")
	b.Start("nested")

	g, err := b.Build()
	require.NoError(t, err)
	require.Contains(t, g.Subgraphs, "nested")
	assert.Equal(t, "child", g.Subgraphs["nested"].Name)
}

func TestBuilder_Invalid(t *testing.T) {
	b := New("broken")
	b.Agent("a").To("missing")
	b.Start("a")

	_, err := b.Build()
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	_, err = b.Loader()
	assert.Error(t, err)
}

func TestBuilder_Loader(t *testing.T) {
	b := New("hello")
	b.Literal("greet", "hi")
	b.Start("greet")

	loader, err := b.Loader()
	require.NoError(t, err)

	g, err := loader.Load(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", g.Nodes[0].Config["content"])
}

func TestNodeBuilder_Tools(t *testing.T) {
	n := New("g").Agent("a").Tools("search", "fetch").Build()
	tooling, ok := n.Config["tooling"].([]any)
	require.True(t, ok)
	require.Len(t, tooling, 1)
	entry := tooling[0].(map[string]any)
	assert.Equal(t, "function", entry["type"])
	assert.Equal(t, []any{"search", "fetch"}, entry["names"])
}
