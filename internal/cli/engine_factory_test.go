package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/internal/logging"
)

func TestResolveGraphPath(t *testing.T) {
	// Helper to create a temp dir with specific files
	createDir := func(t *testing.T, files []string) string {
		dir := t.TempDir()
		for _, f := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("content"), 0o644))
		}
		return dir
	}

	t.Run("Prefer graph.yaml", func(t *testing.T) {
		dir := createDir(t, []string{"graph.yaml", "main.yaml"})
		got, err := ResolveGraphPath(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "graph.yaml"), got)
	})

	t.Run("Fallback to main", func(t *testing.T) {
		dir := createDir(t, []string{"main.yml", "workflow.yaml"})
		got, err := ResolveGraphPath(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "main.yml"), got)
	})

	t.Run("Fallback to DirectoryName", func(t *testing.T) {
		root := t.TempDir()
		moduleDir := filepath.Join(root, "checkout")
		require.NoError(t, os.Mkdir(moduleDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(moduleDir, "checkout.yaml"), []byte("content"), 0o644))

		got, err := ResolveGraphPath(moduleDir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(moduleDir, "checkout.yaml"), got)
	})

	t.Run("Error if nothing matches", func(t *testing.T) {
		dir := createDir(t, []string{"other.md"})
		_, err := ResolveGraphPath(dir)
		assert.Error(t, err)
	})

	t.Run("Files pass through", func(t *testing.T) {
		got, err := ResolveGraphPath("flows/review.yaml")
		require.NoError(t, err)
		assert.Equal(t, "flows/review.yaml", got)
	})
}

func TestNewEngine(t *testing.T) {
	dir := t.TempDir()
	tools := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(tools, []byte(`
tools:
  - name: greet
    command: echo
    args: ["hello"]
    description: Says hello
`), 0o644))

	cfg := config.Default()
	cfg.Warehouse = filepath.Join(dir, "runs")
	cfg.ToolsFile = tools

	engine, err := NewEngine(cfg, logging.NewNop())
	require.NoError(t, err)
	defer engine.Close()
	assert.Equal(t, cfg.Warehouse, engine.Warehouse())

	require.NoError(t, os.WriteFile(tools, []byte("tools: [unterminated"), 0o644))
	_, err = NewEngine(cfg, logging.NewNop())
	assert.Error(t, err)
}
