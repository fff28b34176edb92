package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/ports/tests"
)

const pipelineYAML = `
name: pipeline
end: done
nodes:
  - id: draft
    type: literal
    config:
      content: hello
  - id: review
    type: subgraph
    config:
      path: review.yaml
  - id: done
    type: passthrough
edges:
  - {from: start, to: draft}
  - {from: draft, to: review}
  - {from: review, to: done}
`

const reviewYAML = `
graph:
  nodes:
    - id: check
      type: passthrough
  edges:
    - {from: start, to: check}
`

func TestLoadGraph_ResolvesSubgraphFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pipeline.yaml", pipelineYAML)
	writeFile(t, dir, "review.yaml", reviewYAML)

	g, err := LoadGraph(path)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", g.Name)
	assert.Equal(t, dir, g.Directory)
	assert.Equal(t, "done", g.EndNodeID)

	sub := g.Subgraphs["review"]
	require.NotNil(t, sub)
	assert.Equal(t, "review", sub.Name, "name defaults to the file stem")
	assert.Len(t, sub.Nodes, 1)
	require.NoError(t, executor.DefaultRegistry().ValidateGraph(g))
}

func TestLoadGraph_InlineSubgraph(t *testing.T) {
	path := writeFile(t, t.TempDir(), "inline.yaml", `
name: inline
nodes:
  - id: child
    type: subgraph
edges:
  - {from: start, to: child}
subgraphs:
  child:
    name: inner
    nodes:
      - id: echo
        type: passthrough
    edges:
      - {from: start, to: echo}
`)
	g, err := LoadGraph(path)
	require.NoError(t, err)
	require.NotNil(t, g.Subgraphs["child"])
	assert.Equal(t, g.Directory, g.Subgraphs["child"].Directory)
}

func TestLoadGraph_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("cycle", func(t *testing.T) {
		a := writeFile(t, dir, "a.yaml", `
nodes:
  - {id: b, type: subgraph, config: {path: b.yaml}}
edges:
  - {from: start, to: b}
`)
		writeFile(t, dir, "b.yaml", `
nodes:
  - {id: a, type: subgraph, config: {path: a.yaml}}
edges:
  - {from: start, to: a}
`)
		_, err := LoadGraph(a)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidGraph)
	})

	t.Run("missing subgraph", func(t *testing.T) {
		path := writeFile(t, dir, "orphan.yaml", `
nodes:
  - {id: s, type: subgraph}
edges:
  - {from: start, to: s}
`)
		_, err := LoadGraph(path)
		assert.ErrorIs(t, err, domain.ErrMissingSubgraph)
	})

	t.Run("empty", func(t *testing.T) {
		path := writeFile(t, dir, "empty.yaml", "name: nothing\n")
		_, err := LoadGraph(path)
		assert.Error(t, err)
	})

	t.Run("bad edge", func(t *testing.T) {
		path := writeFile(t, dir, "edge.yaml", `
nodes:
  - {id: x, type: passthrough}
edges:
  - {from: start, to: y}
`)
		_, err := LoadGraph(path)
		assert.ErrorIs(t, err, domain.ErrInvalidGraph)
	})
}

func TestGraphLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pipeline.yaml", pipelineYAML)
	writeFile(t, dir, "review.yaml", reviewYAML)
	writeFile(t, dir, "flows/short.yml", `
name: short
nodes:
  - {id: only, type: literal, config: {content: hi}}
edges:
  - {from: start, to: only}
`)

	loader := NewGraphLoader(dir, executor.DefaultRegistry())
	pipeline := &domain.Graph{Name: "pipeline", Nodes: make([]domain.Node, 3), Edges: make([]domain.Edge, 3)}
	tests.GraphLoaderContractTest(t, loader, map[string]*domain.Graph{
		"pipeline":      pipeline,
		"pipeline.yaml": pipeline,
		"flows/short":   {Name: "short", Nodes: make([]domain.Node, 1), Edges: make([]domain.Edge, 1)},
		"review.yaml":   {Name: "review", Nodes: make([]domain.Node, 1), Edges: make([]domain.Edge, 1)},
		filepath.Join(dir, "pipeline.yaml"): pipeline,
	}, "nope")

	t.Run("registry rejects bad config", func(t *testing.T) {
		writeFile(t, dir, "badcfg.yaml", `
nodes:
  - {id: p, type: python, config: {timeout_seconds: -1}}
edges:
  - {from: start, to: p}
`)
		_, err := loader.Load(context.Background(), "badcfg")
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		writeFile(t, dir, "unknown.yaml", `
nodes:
  - {id: q, type: quantum}
edges:
  - {from: start, to: q}
`)
		_, err := loader.Load(context.Background(), "unknown")
		assert.ErrorIs(t, err, domain.ErrUnknownNodeType)
	})
}
