package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/weft/pkg/domain"
)

var subgraphSchema = map[string]any{"type": "object"}

// ErrNoGraphRunner is returned when a subgraph node runs without a graph runner.
var ErrNoGraphRunner = errors.New("no graph runner configured")

// Subgraph runs the child graph attached to its node id.
type Subgraph struct {
	rc *Context
}

// NewSubgraph is the subgraph factory.
func NewSubgraph(rc *Context, _ domain.Node) (Executor, error) {
	return &Subgraph{rc: rc}, nil
}

func (s *Subgraph) Execute(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error) {
	if err := s.rc.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	var child *domain.Graph
	if s.rc.Graph != nil {
		child = s.rc.Graph.Subgraphs[node.ID]
	}
	if child == nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, domain.ErrMissingSubgraph)
	}
	if s.rc.Runner == nil {
		return nil, ErrNoGraphRunner
	}

	// Parallel siblings may run the same child; each gets its own copy.
	child = child.Clone()
	start := time.Now()
	outputs, err := s.rc.Runner.RunSubgraph(ctx, child, domain.CloneMessages(inputs), s.rc)
	if err != nil {
		s.rc.Log.Error(node.ID, "subgraph failed", map[string]any{"subgraph": child.Name, "error": err.Error()})
		return nil, err
	}

	tagged := make([]domain.Message, len(outputs))
	for i, m := range outputs {
		tagged[i] = m.WithMeta(domain.MetaSource, node.ID)
	}
	s.rc.Log.Info(node.ID, "subgraph completed", map[string]any{
		"subgraph":    child.Name,
		"nodes":       len(child.Nodes),
		"inputs":      len(inputs),
		"outputs":     len(tagged),
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
	return tagged, nil
}
