package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// GraphLoader defines how the runtime retrieves graph definitions.
// This allows the definition format (YAML files, embedded builders) to be decoupled.
type GraphLoader interface {
	// Load reads and validates the graph identified by ref (e.g. a file path).
	Load(ctx context.Context, ref string) (*domain.Graph, error)
}
