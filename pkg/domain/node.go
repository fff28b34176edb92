package domain

import (
	"errors"
	"fmt"
)

// Built-in node types.
const (
	NodeTypeAgent       = "agent"
	NodeTypeHuman       = "human"
	NodeTypeSubgraph    = "subgraph"
	NodeTypePython      = "python"
	NodeTypePassthrough = "passthrough"
	NodeTypeLiteral     = "literal"
	NodeTypeLoopCounter = "loop_counter"
)

// DefaultStartNodeID is the synthetic Start node used when a graph does not name one.
const DefaultStartNodeID = "start"

// Node is a vertex in a workflow graph.
// Config is the raw configuration; the executor registry decodes it into a typed value.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Role   string         `json:"role,omitempty" yaml:"role,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	n.Config = CloneMap(n.Config)
	return n
}

// Edge is a directed connection. It carries no payload; messages flow as the
// source node's output.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Graph is the workflow topology handed to the graph executor.
type Graph struct {
	Name        string            `json:"name" yaml:"name"`
	Directory   string            `json:"directory,omitempty" yaml:"directory,omitempty"`
	Nodes       []Node            `json:"nodes" yaml:"nodes"`
	Edges       []Edge            `json:"edges" yaml:"edges"`
	StartNodeID string            `json:"start,omitempty" yaml:"start,omitempty"`
	EndNodeID   string            `json:"end,omitempty" yaml:"end,omitempty"`
	Vars        map[string]any    `json:"vars,omitempty" yaml:"vars,omitempty"`
	LogLevel    string            `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	Subgraphs   map[string]*Graph `json:"subgraphs,omitempty" yaml:"subgraphs,omitempty"`
}

// Start returns the synthetic Start node id.
func (g *Graph) Start() string {
	if g.StartNodeID == "" {
		return DefaultStartNodeID
	}
	return g.StartNodeID
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Incoming returns the indices of edges that end at id, in declaration order.
func (g *Graph) Incoming(id string) []int {
	var out []int
	for i, e := range g.Edges {
		if e.To == id {
			out = append(out, i)
		}
	}
	return out
}

// Outgoing returns the indices of edges that start at id, in declaration order.
func (g *Graph) Outgoing(id string) []int {
	var out []int
	for i, e := range g.Edges {
		if e.From == id {
			out = append(out, i)
		}
	}
	return out
}

// Clone deep-copies the graph including nested subgraphs.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	c := *g
	c.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		c.Nodes[i] = n.Clone()
	}
	c.Edges = append([]Edge(nil), g.Edges...)
	c.Vars = CloneMap(g.Vars)
	if g.Subgraphs != nil {
		c.Subgraphs = make(map[string]*Graph, len(g.Subgraphs))
		for k, sub := range g.Subgraphs {
			c.Subgraphs[k] = sub.Clone()
		}
	}
	return &c
}

// Validate checks structural invariants: unique node ids, edges between known
// nodes, no edge into Start, a known End node, and child graphs for subgraph nodes.
func (g *Graph) Validate() error {
	var errs []error
	start := g.Start()
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		switch {
		case n.ID == "":
			errs = append(errs, errors.New("node with empty id"))
		case n.ID == start:
			errs = append(errs, fmt.Errorf("node %q collides with the start node id", n.ID))
		case seen[n.ID]:
			errs = append(errs, fmt.Errorf("duplicate node id %q", n.ID))
		}
		if n.Type == "" {
			errs = append(errs, fmt.Errorf("node %q has no type", n.ID))
		}
		if n.Type == NodeTypeSubgraph {
			if sub, ok := g.Subgraphs[n.ID]; !ok || sub == nil {
				errs = append(errs, fmt.Errorf("node %q: %w", n.ID, ErrMissingSubgraph))
			} else if err := sub.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("subgraph %q: %w", n.ID, err))
			}
		}
		seen[n.ID] = true
	}
	for i, e := range g.Edges {
		if e.From != start && !seen[e.From] {
			errs = append(errs, fmt.Errorf("edge %d: unknown source %q", i, e.From))
		}
		if e.To == start {
			errs = append(errs, fmt.Errorf("edge %d: start node cannot have incoming edges", i))
		} else if !seen[e.To] {
			errs = append(errs, fmt.Errorf("edge %d: unknown target %q", i, e.To))
		}
	}
	if g.EndNodeID != "" && !seen[g.EndNodeID] {
		errs = append(errs, fmt.Errorf("end node %q is not declared", g.EndNodeID))
	}
	if len(g.Outgoing(start)) == 0 && len(g.Nodes) > 0 {
		errs = append(errs, fmt.Errorf("start node %q has no outgoing edges", start))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}
	return nil
}
