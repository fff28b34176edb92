package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "graph.yaml"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "child.yml"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("c"), 0o644))

	before, err := digestTree(dir)
	require.NoError(t, err)
	assert.Len(t, before, 2)
	assert.Contains(t, before, "sub/child.yml")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "child.yml"), []byte("changed"), 0o644))
	after, err := digestTree(dir)
	require.NoError(t, err)
	assert.Equal(t, "sub/child.yml", firstChanged(before, after))
	assert.Empty(t, firstChanged(after, after))

	require.NoError(t, os.Remove(filepath.Join(dir, "graph.yaml")))
	removed, err := digestTree(dir)
	require.NoError(t, err)
	assert.Equal(t, "graph.yaml (removed)", firstChanged(after, removed))
}

func TestWatchTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := watchTree(ctx, dir, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	select {
	case file := <-changed:
		assert.Equal(t, "graph.yaml", file)
	case <-time.After(2 * time.Second):
		t.Fatal("change not detected")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	quiet := watchTree(ctx2, dir, 10*time.Millisecond)
	cancel2()
	_, ok := <-quiet
	assert.False(t, ok)
}
