package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

func TestMemoryQueue_Contract(t *testing.T) {
	ports.RunEventQueueContract(t, memory.NewQueue())
}

func TestMemoryQueue_Isolation(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	event := domain.ArtifactEvent{FileName: "a.txt", Extra: map[string]any{"hook": "x"}}
	require.NoError(t, q.Append(ctx, "s1", event))

	event.Extra["hook"] = "changed"
	got, err := q.List(ctx, "s1")
	require.NoError(t, err)
	got[0].Extra["hook"] = "changed again"

	again, err := q.List(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "x", again[0].Extra["hook"])
}
