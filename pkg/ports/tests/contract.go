package tests

import (
	"context"
	"testing"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

// GraphLoaderContractTest is a reusable test suite that verifies if an adapter complies with ports.GraphLoader.
// expected maps a loadable ref to the graph the loader must produce for it.
func GraphLoaderContractTest(t *testing.T, loader ports.GraphLoader, expected map[string]*domain.Graph, missing string) {
	t.Helper()
	ctx := context.Background()

	t.Run("Load_Success", func(t *testing.T) {
		for ref, want := range expected {
			got, err := loader.Load(ctx, ref)
			if err != nil {
				t.Fatalf("unexpected error loading %s: %v", ref, err)
			}
			if got.Name != want.Name {
				t.Errorf("name mismatch for %s. got %q, want %q", ref, got.Name, want.Name)
			}
			if len(got.Nodes) != len(want.Nodes) {
				t.Errorf("node count mismatch for %s. got %d, want %d", ref, len(got.Nodes), len(want.Nodes))
			}
			if len(got.Edges) != len(want.Edges) {
				t.Errorf("edge count mismatch for %s. got %d, want %d", ref, len(got.Edges), len(want.Edges))
			}
			if err := got.Validate(); err != nil {
				t.Errorf("loaded graph %s does not validate: %v", ref, err)
			}
		}
	})

	t.Run("Load_NotFound", func(t *testing.T) {
		if _, err := loader.Load(ctx, missing); err == nil {
			t.Error("expected error for missing graph, got nil")
		}
	})
}
