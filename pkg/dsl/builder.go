package dsl

import (
	"fmt"

	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
)

// Builder manages the graph construction. Nodes keep their declaration order.
type Builder struct {
	graph     domain.Graph
	nodes     map[string]*NodeBuilder
	order     []string
	subgraphs map[string]*Builder
}

// New creates a new graph builder.
func New(name string) *Builder {
	return &Builder{
		graph:     domain.Graph{Name: name},
		nodes:     make(map[string]*NodeBuilder),
		subgraphs: make(map[string]*Builder),
	}
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.Node{ID: id},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Agent adds an agent node.
func (b *Builder) Agent(id string) *NodeBuilder {
	return b.Add(id).Type(domain.NodeTypeAgent)
}

// Human adds a human node.
func (b *Builder) Human(id string) *NodeBuilder {
	return b.Add(id).Type(domain.NodeTypeHuman)
}

// Python adds a python node.
func (b *Builder) Python(id string) *NodeBuilder {
	return b.Add(id).Type(domain.NodeTypePython)
}

// Passthrough adds a passthrough node.
func (b *Builder) Passthrough(id string) *NodeBuilder {
	return b.Add(id).Type(domain.NodeTypePassthrough)
}

// Literal adds a node that emits content, ignoring its inputs.
func (b *Builder) Literal(id, content string) *NodeBuilder {
	return b.Add(id).Type(domain.NodeTypeLiteral).Set("content", content)
}

// LoopCounter adds a loop counter that lets max iterations through.
func (b *Builder) LoopCounter(id string, max int) *NodeBuilder {
	return b.Add(id).Type(domain.NodeTypeLoopCounter).Set("max_iterations", max)
}

// Subgraph adds a node running the graph built by child.
func (b *Builder) Subgraph(id string, child *Builder) *NodeBuilder {
	b.subgraphs[id] = child
	return b.Add(id).Type(domain.NodeTypeSubgraph)
}

// Start connects the start node to each target.
func (b *Builder) Start(targets ...string) *Builder {
	for _, t := range targets {
		b.graph.Edges = append(b.graph.Edges, domain.Edge{From: b.graph.Start(), To: t})
	}
	return b
}

// End names the node whose output is the run's final message.
func (b *Builder) End(id string) *Builder {
	b.graph.EndNodeID = id
	return b
}

// Var sets a run variable.
func (b *Builder) Var(key string, value any) *Builder {
	if b.graph.Vars == nil {
		b.graph.Vars = make(map[string]any)
	}
	b.graph.Vars[key] = value
	return b
}

// LogLevel sets the run log threshold (DEBUG, INFO, WARNING or ERROR).
func (b *Builder) LogLevel(level string) *Builder {
	b.graph.LogLevel = level
	return b
}

// Build assembles and validates the graph.
func (b *Builder) Build() (*domain.Graph, error) {
	g := b.graph.Clone()
	g.Nodes = make([]domain.Node, 0, len(b.order))
	for _, id := range b.order {
		nb := b.nodes[id]
		g.Nodes = append(g.Nodes, nb.node.Clone())
		for _, to := range nb.targets {
			g.Edges = append(g.Edges, domain.Edge{From: id, To: to})
		}
	}
	for id, child := range b.subgraphs {
		sub, err := child.Build()
		if err != nil {
			return nil, fmt.Errorf("subgraph %s: %w", id, err)
		}
		if g.Subgraphs == nil {
			g.Subgraphs = make(map[string]*domain.Graph)
		}
		g.Subgraphs[id] = sub
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Loader builds the graph and serves it under its name.
func (b *Builder) Loader() (*memory.Loader, error) {
	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build memory loader: %w", err)
	}
	return memory.NewLoader(map[string]*domain.Graph{g.Name: g}), nil
}
