package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/weft/pkg/domain"
)

// Loader implements ports.GraphLoader over graphs registered in memory.
// Graphs are deep-copied on the way in and out, so callers cannot mutate
// what the loader holds.
type Loader struct {
	mu     sync.RWMutex
	graphs map[string]*domain.Graph
}

// NewLoader creates a loader holding graphs keyed by ref.
func NewLoader(graphs map[string]*domain.Graph) *Loader {
	l := &Loader{graphs: make(map[string]*domain.Graph, len(graphs))}
	for ref, g := range graphs {
		l.graphs[ref] = g.Clone()
	}
	return l
}

// Add registers g under ref, replacing any previous graph.
func (l *Loader) Add(ref string, g *domain.Graph) error {
	if g == nil {
		return fmt.Errorf("graph %s: %w: nil graph", ref, domain.ErrInvalidGraph)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("graph %s: %w", ref, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.graphs[ref] = g.Clone()
	return nil
}

// Load returns a copy of the graph registered under ref.
func (l *Loader) Load(ctx context.Context, ref string) (*domain.Graph, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	g, ok := l.graphs[ref]
	if !ok {
		return nil, fmt.Errorf("graph not found: %s", ref)
	}
	return g.Clone(), nil
}

// Refs lists the registered refs, sorted.
func (l *Loader) Refs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	refs := make([]string, 0, len(l.graphs))
	for ref := range l.graphs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
