package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
)

// SubgraphPathKey is the subgraph node config key naming a child graph file,
// resolved relative to the parent file.
const SubgraphPathKey = "path"

// graphFile is the on-disk shape of a graph. A file may wrap the definition
// in a top-level "graph" key.
type graphFile struct {
	Graph *domain.Graph `yaml:"graph"`
}

// LoadGraph reads a graph file, inlines the child graphs referenced by
// subgraph nodes and checks the structure.
func LoadGraph(path string) (*domain.Graph, error) {
	return loadGraph(path, nil)
}

func loadGraph(path string, stack []string) (*domain.Graph, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, p := range stack {
		if p == abs {
			return nil, fmt.Errorf("%w: subgraph cycle through %s", domain.ErrInvalidGraph, abs)
		}
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	g, err := ParseGraph(b)
	if err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	g.Directory = filepath.Dir(abs)
	if g.Name == "" {
		g.Name = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	if err := resolveSubgraphs(g, append(stack, abs)); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph %s: %w", path, err)
	}
	return g, nil
}

// ParseGraph decodes a YAML graph definition without touching the filesystem.
func ParseGraph(b []byte) (*domain.Graph, error) {
	var wrapped graphFile
	if err := yaml.Unmarshal(b, &wrapped); err == nil && wrapped.Graph != nil {
		return wrapped.Graph, nil
	}
	var g domain.Graph
	if err := yaml.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	if len(g.Nodes) == 0 && len(g.Edges) == 0 {
		return nil, errors.New("graph has no nodes")
	}
	return &g, nil
}

func resolveSubgraphs(g *domain.Graph, stack []string) error {
	for _, n := range g.Nodes {
		if n.Type != domain.NodeTypeSubgraph {
			continue
		}
		if sub := g.Subgraphs[n.ID]; sub != nil {
			if sub.Directory == "" {
				sub.Directory = g.Directory
			}
			if err := resolveSubgraphs(sub, stack); err != nil {
				return err
			}
			continue
		}
		rel, _ := n.Config[SubgraphPathKey].(string)
		if rel == "" {
			continue
		}
		if !filepath.IsAbs(rel) {
			rel = filepath.Join(g.Directory, rel)
		}
		child, err := loadGraph(rel, stack)
		if err != nil {
			return fmt.Errorf("subgraph %s: %w", n.ID, err)
		}
		if g.Subgraphs == nil {
			g.Subgraphs = make(map[string]*domain.Graph)
		}
		g.Subgraphs[n.ID] = child
	}
	return nil
}

// GraphLoader implements ports.GraphLoader over YAML files below a root
// directory. With a registry set, node configs are validated as well.
type GraphLoader struct {
	root     string
	registry *executor.Registry
}

// NewGraphLoader creates a loader resolving refs against root. A nil
// registry limits validation to the graph structure.
func NewGraphLoader(root string, registry *executor.Registry) *GraphLoader {
	return &GraphLoader{root: root, registry: registry}
}

// Load reads the graph at ref. Refs without an extension try .yaml then .yml.
func (l *GraphLoader) Load(ctx context.Context, ref string) (*domain.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	g, err := LoadGraph(path)
	if err != nil {
		return nil, err
	}
	if l.registry != nil {
		if err := l.registry.ValidateGraph(g); err != nil {
			return nil, fmt.Errorf("graph %s: %w", ref, err)
		}
	}
	return g, nil
}

func (l *GraphLoader) resolve(ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, ref)
	}
	candidates := []string{path}
	if filepath.Ext(path) == "" {
		candidates = []string{path + ".yaml", path + ".yml"}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("graph not found: %s", ref)
}
