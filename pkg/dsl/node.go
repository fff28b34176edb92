package dsl

import (
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/tooling"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	targets []string
	builder *Builder
}

// Type sets the node type.
func (n *NodeBuilder) Type(t string) *NodeBuilder {
	n.node.Type = t
	return n
}

// Role sets the node's instruction: the system prompt of an agent or the
// task shown to a human.
func (n *NodeBuilder) Role(text string) *NodeBuilder {
	n.node.Role = text
	return n
}

// Set adds a raw config value.
func (n *NodeBuilder) Set(key string, value any) *NodeBuilder {
	if n.node.Config == nil {
		n.node.Config = make(map[string]any)
	}
	n.node.Config[key] = value
	return n
}

// Provider selects the model provider of an agent node.
func (n *NodeBuilder) Provider(name string) *NodeBuilder {
	return n.Set("provider", name)
}

// Model selects the model of an agent node.
func (n *NodeBuilder) Model(name string) *NodeBuilder {
	return n.Set("model", name)
}

// InputMode sets how an agent receives its inputs ("prompt" or "messages").
func (n *NodeBuilder) InputMode(mode string) *NodeBuilder {
	return n.Set("input_mode", mode)
}

// Tools exposes function tools to an agent node.
func (n *NodeBuilder) Tools(names ...string) *NodeBuilder {
	items := make([]any, len(names))
	for i, name := range names {
		items[i] = name
	}
	return n.Set("tooling", []any{map[string]any{"type": tooling.SourceFunction, "names": items}})
}

// To adds an edge to each target.
func (n *NodeBuilder) To(targets ...string) *NodeBuilder {
	n.targets = append(n.targets, targets...)
	return n
}

// Build returns the underlying domain.Node.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() domain.Node {
	return n.node.Clone()
}
