package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/pkg/adapters/process"
	"github.com/aretw0/weft/pkg/observability"
	"github.com/aretw0/weft/pkg/tooling"
	"github.com/aretw0/weft/pkg/workspace"
)

// NewEngine builds an Engine from the runtime configuration. Command tools
// from cfg.ToolsFile are registered as agent function tools. extra options
// are applied last.
func NewEngine(cfg config.Runtime, logger *slog.Logger, extra ...weft.Option) (*weft.Engine, error) {
	runner := process.NewRunner(process.WithLogger(logger))
	tools := tooling.NewManager(tooling.WithLogger(logger))
	if cfg.ToolsFile != "" {
		defs, err := process.LoadTools(cfg.ToolsFile)
		if err != nil {
			return nil, err
		}
		for _, def := range process.Definitions(runner, defs) {
			if err := tools.Register(def); err != nil {
				return nil, fmt.Errorf("tool %s: %w", def.Name, err)
			}
		}
		logger.Debug("Tools loaded", "path", cfg.ToolsFile, "count", len(defs))
	}

	opts := []weft.Option{
		weft.WithLogger(logger),
		weft.WithMaxParallel(cfg.MaxParallel),
		weft.WithTools(tools),
		weft.WithProcessRunner(runner),
		weft.WithRetryPolicy(cfg.Retry),
		weft.WithPythonInterpreter(cfg.PythonInterpreter),
		weft.WithHumanTimeout(cfg.HumanTimeout),
		weft.WithWatcherOptions(
			workspace.WithWatchedTypes(cfg.Watcher.NodeTypes...),
			workspace.WithExcludes(cfg.Watcher.Excludes...),
			workspace.WithLimits(cfg.Watcher.Limits()),
		),
		weft.WithLifecycleHooks(observability.LoggingHooks(logger)),
	}
	engine, err := weft.New(cfg.Warehouse, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, nil
}

// entryNames are the graph files tried, in order, when a run points at a directory.
var entryNames = []string{"graph", "main", "workflow"}

// ResolveGraphPath turns a directory into the graph file it holds: graph.yaml,
// main.yaml, workflow.yaml, then a file named after the directory. Files are
// returned unchanged.
func ResolveGraphPath(ref string) (string, error) {
	info, err := os.Stat(ref)
	if err != nil || !info.IsDir() {
		return ref, nil
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", err
	}
	names := append(append([]string(nil), entryNames...), filepath.Base(abs))
	for _, name := range names {
		for _, ext := range []string{".yaml", ".yml"} {
			candidate := filepath.Join(abs, name+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("no graph file found in %s", ref)
}
