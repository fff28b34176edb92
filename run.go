package weft

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/weft/internal/adapters/file"
	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/dispatch"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/provider"
	"github.com/aretw0/weft/pkg/runlog"
	"github.com/aretw0/weft/pkg/workspace"
)

// Session directory layout below the warehouse.
const (
	GraphDir         = "graph"
	LogsDir          = "logs"
	CodeWorkspaceDir = "code_workspace"
	AttachmentsDir   = "attachments"
	GraphSnapshot    = "graph.yaml"
)

// EnvAutoCleanAttachments removes a session's attachment directory on Cleanup
// when set to 1, true or yes.
const EnvAutoCleanAttachments = "MAC_AUTO_CLEAN_ATTACHMENTS"

// Run statuses reported to metrics.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// MetaInfo describes where a run left its files.
type MetaInfo struct {
	SessionName string                    `json:"session_name"`
	YAMLPath    string                    `json:"yaml_path"`
	LogID       string                    `json:"log_id"`
	Outputs     map[string]domain.Message `json:"outputs"`
	TokenUsage  map[string]any            `json:"token_usage"`
	OutputDir   string                    `json:"output_dir"`
}

// WorkflowRunResult is the outcome of Engine.Run.
type WorkflowRunResult struct {
	FinalMessage *domain.Message `json:"final_message,omitempty"`
	MetaInfo     MetaInfo        `json:"meta_info"`
	Cancelled    bool            `json:"cancelled"`
}

type runConfig struct {
	session    string
	channel    human.PromptChannel
	dispatcher *dispatch.Dispatcher
	vars       map[string]any
}

// RunOption configures a single run.
type RunOption func(*runConfig)

// WithSessionName stores the run under name instead of a generated one.
func WithSessionName(name string) RunOption {
	return func(c *runConfig) { c.session = name }
}

// WithChannel prompts human nodes of this run on ch.
func WithChannel(ch human.PromptChannel) RunOption {
	return func(c *runConfig) { c.channel = ch }
}

// WithDispatcher emits the run's workspace artifacts through d. Its session
// id then names the event stream.
func WithDispatcher(d *dispatch.Dispatcher) RunOption {
	return func(c *runConfig) { c.dispatcher = d }
}

// WithVars seeds run variables on top of the graph's own.
func WithVars(vars map[string]any) RunOption {
	return func(c *runConfig) {
		if c.vars == nil {
			c.vars = make(map[string]any, len(vars))
		}
		for k, v := range vars {
			c.vars[k] = v
		}
	}
}

// SessionDir returns the directory of session below the warehouse.
func (e *Engine) SessionDir(session string) string {
	return filepath.Join(e.warehouse, session)
}

// NewSessionName returns "{graph}_{timestamp}", safe for use as a directory name.
func (e *Engine) NewSessionName(graphName string) string {
	if graphName == "" {
		graphName = "workflow"
	}
	return executor.SafeID(graphName) + "_" + e.now().Format("20060102-150405")
}

// Run loads ref with the engine's loader and runs it.
func (e *Engine) Run(ctx context.Context, ref string, task TaskInput, opts ...RunOption) (WorkflowRunResult, error) {
	g, err := e.loader.Load(ctx, ref)
	if err != nil {
		return WorkflowRunResult{}, fmt.Errorf("failed to load graph %s: %w", ref, err)
	}
	return e.RunGraph(ctx, g, task, opts...)
}

// RunGraph executes g to completion. On cancellation the partial result is
// returned with Cancelled set, together with an error matching
// domain.ErrWorkflowCancelled.
func (e *Engine) RunGraph(ctx context.Context, g *domain.Graph, task TaskInput, opts ...RunOption) (WorkflowRunResult, error) {
	if g == nil {
		return WorkflowRunResult{}, fmt.Errorf("%w: nil graph", domain.ErrInvalidGraph)
	}
	cfg := runConfig{channel: e.channel}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.session == "" {
		cfg.session = e.NewSessionName(g.Name)
	}

	dir := e.SessionDir(cfg.session)
	codeDir := filepath.Join(dir, CodeWorkspaceDir)
	for _, d := range []string{filepath.Join(dir, GraphDir), filepath.Join(dir, LogsDir), codeDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return WorkflowRunResult{}, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	logger := e.logger.With("session", cfg.session, "graph", g.Name)

	yamlPath, err := e.snapshot(dir, g)
	if err != nil {
		return WorkflowRunResult{}, err
	}

	store, err := attachment.New(filepath.Join(codeDir, AttachmentsDir), attachment.WithLogger(logger))
	if err != nil {
		return WorkflowRunResult{}, err
	}
	messages, err := task.Resolve(store)
	if err != nil {
		return WorkflowRunResult{}, err
	}

	log := runlog.New(
		runlog.WithLevel(domain.ParseLogLevel(g.LogLevel)),
		runlog.WithLogger(logger),
		runlog.WithLogID(ulid.Make().String()),
	)

	if web, ok := cfg.channel.(*human.WebChannel); ok {
		web.SetRunStore(store)
	}
	humanOpts := []human.Option{human.WithRecorder(log), human.WithLogger(logger)}
	if e.humanTimeout > 0 {
		humanOpts = append(humanOpts, human.WithTimeout(e.humanTimeout))
	}

	dispatcher := cfg.dispatcher
	if dispatcher == nil {
		dopts := []dispatch.Option{dispatch.WithLogger(logger)}
		if e.broadcaster != nil {
			dopts = append(dopts, dispatch.WithBroadcaster(e.broadcaster))
		}
		if e.metrics != nil {
			dopts = append(dopts, dispatch.WithObserver(e.metrics.ObserveArtifacts))
		}
		dispatcher = dispatch.New(cfg.session, e.queue, dopts...)
	}
	watcherOpts := append([]workspace.Option{workspace.WithLogger(logger)}, e.watcherOpts...)
	watcherOpts = append(watcherOpts, workspace.WithEmitter(dispatcher.Handle))

	rc := executor.NewContext(g)
	rc.Workspace = codeDir
	rc.Attachments = store
	rc.Human = human.NewService(cfg.channel, humanOpts...)
	rc.Log = log
	rc.Logger = logger
	rc.Hook = workspace.NewWatcher(store, watcherOpts...)
	rc.Providers = e.providers
	rc.Tools = e.tools
	rc.Memories = e.memories
	rc.Thinkers = e.thinkers
	rc.Tokens = provider.NewTokenTracker()
	rc.Retry = e.retry
	rc.Process = e.process
	if e.python != "" {
		rc.SetVar("python_interpreter", e.python)
	}
	for k, v := range cfg.vars {
		rc.SetVar(k, v)
	}

	logger.Info("Workflow started", "log_id", log.LogID(), "nodes", len(g.Nodes))
	res, runErr := e.graphs.Run(ctx, g, messages, rc)

	result := WorkflowRunResult{
		FinalMessage: res.FinalMessage,
		Cancelled:    res.Cancelled || errors.Is(runErr, domain.ErrWorkflowCancelled),
		MetaInfo: MetaInfo{
			SessionName: cfg.session,
			YAMLPath:    yamlPath,
			LogID:       log.LogID(),
			Outputs:     res.Outputs,
			TokenUsage:  rc.Tokens.Summary(),
			OutputDir:   dir,
		},
	}

	logPath := filepath.Join(dir, LogsDir, log.LogID()+".jsonl")
	if err := log.Flush(logPath); err != nil {
		logger.Warn("Failed to write run log", "path", logPath, "err", err)
	}

	status := StatusCompleted
	switch {
	case result.Cancelled:
		status = StatusCancelled
		if runErr == nil {
			runErr = domain.ErrWorkflowCancelled
		}
	case runErr != nil:
		status = StatusFailed
	}
	if e.metrics != nil {
		e.metrics.ObserveRun(status)
	}
	logger.Info("Workflow finished", "status", status, "err", runErr)

	if runErr != nil && !result.Cancelled {
		return result, fmt.Errorf("workflow %s failed: %w", g.Name, runErr)
	}
	return result, runErr
}

// snapshot writes the graph as run to the session's graph directory.
func (e *Engine) snapshot(dir string, g *domain.Graph) (string, error) {
	b, err := yaml.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to encode graph snapshot: %w", err)
	}
	path := filepath.Join(dir, GraphDir, GraphSnapshot)
	if err := file.WriteAtomic(path, b); err != nil {
		return "", fmt.Errorf("failed to write graph snapshot: %w", err)
	}
	return path, nil
}

// Cleanup removes the attachment directory of session when
// MAC_AUTO_CLEAN_ATTACHMENTS asks for it. It reports whether anything was removed.
func (e *Engine) Cleanup(session string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvAutoCleanAttachments))) {
	case "1", "true", "yes":
	default:
		return false, nil
	}
	dir := filepath.Join(e.SessionDir(session), CodeWorkspaceDir, AttachmentsDir)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove attachments of %s: %w", session, err)
	}
	e.logger.Info("Removed session attachments", "session", session, "dir", dir)
	return true, nil
}
