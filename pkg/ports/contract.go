package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunEventQueueContract runs a suite of tests to verify that an EventQueue implementation
// adheres to the defined interface contract.
func RunEventQueueContract(t *testing.T, queue EventQueue) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405.000000")

	event := func(name string) domain.ArtifactEvent {
		return domain.ArtifactEvent{
			NodeID:       "n1",
			AttachmentID: "att-" + name,
			FileName:     name,
			RelativePath: name,
			Size:         int64(len(name)),
			CreatedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			ChangeType:   domain.ChangeCreated,
			Extra:        map[string]any{"hook": domain.ArtifactHookName},
		}
	}

	t.Run("Append and List", func(t *testing.T) {
		require.NoError(t, queue.Append(ctx, sessionID, event("a.txt"), event("b.txt")))
		require.NoError(t, queue.Append(ctx, sessionID, event("c.txt")))

		got, err := queue.List(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "a.txt", got[0].FileName)
		assert.Equal(t, "b.txt", got[1].FileName)
		assert.Equal(t, "c.txt", got[2].FileName)
		assert.Equal(t, domain.ChangeCreated, got[0].ChangeType)
		assert.True(t, got[0].CreatedAt.Equal(event("a.txt").CreatedAt))

		// List does not consume.
		again, err := queue.List(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, again, 3)
	})

	t.Run("Sessions", func(t *testing.T) {
		ids, err := queue.Sessions(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, sessionID)
	})

	t.Run("Drain", func(t *testing.T) {
		got, err := queue.Drain(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, got, 3)

		rest, err := queue.List(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, rest)
	})

	t.Run("Unknown Session", func(t *testing.T) {
		got, err := queue.List(ctx, "non-existent-"+sessionID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, queue.Append(ctx, sessionID, event("d.txt")))
		require.NoError(t, queue.Delete(ctx, sessionID))

		got, err := queue.List(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, got)

		// Idempotent
		assert.NoError(t, queue.Delete(ctx, sessionID))
	})
}
