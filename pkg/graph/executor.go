// Package graph drives a workflow graph to completion. It owns the per-edge
// message queues, decides which nodes are ready, and runs them on a bounded
// pool of goroutines.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/runlog"
)

// Result is the terminal state of a graph run.
type Result struct {
	// FinalMessage is the last message emitted by the End node, or by the
	// most recently completed sink node when the graph has no End.
	FinalMessage *domain.Message
	// Outputs maps each node id to the last message it emitted.
	Outputs map[string]domain.Message
	// Terminal holds the messages a parent graph receives when this run is a
	// subgraph: the End node's emission, or the last emission of every sink.
	Terminal  []domain.Message
	Cancelled bool
}

// Executor schedules graph nodes. One Executor may run many graphs
// concurrently; every run gets its own worker pool while the resource
// limiter is shared.
type Executor struct {
	registry    *executor.Registry
	maxParallel int
	hook        executor.WorkspaceHook
	hooks       domain.LifecycleHooks
	log         *runlog.Manager
	logger      *slog.Logger
	limiter     *Limiter
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		maxParallel: runtime.NumCPU(),
		logger:      slog.Default(),
		limiter:     NewLimiter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = executor.DefaultRegistry()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Registry returns the registry nodes are built from.
func (e *Executor) Registry() *executor.Registry {
	return e.registry
}

// Run executes g with task as the Start node's output. rc carries the run's
// collaborators; a nil rc gets a bare context. The returned error is
// ErrWorkflowCancelled-compatible on cancellation, ErrSchedulerStalled when
// queued input can never be consumed, or a validation error.
func (e *Executor) Run(ctx context.Context, g *domain.Graph, task []domain.Message, rc *executor.Context) (Result, error) {
	if g == nil {
		return Result{}, fmt.Errorf("%w: nil graph", domain.ErrInvalidGraph)
	}
	return e.run(ctx, g, task, e.prepare(g, rc, true))
}

func (e *Executor) run(ctx context.Context, g *domain.Graph, task []domain.Message, rc *executor.Context) (Result, error) {
	if err := e.registry.ValidateGraph(g); err != nil {
		return Result{}, err
	}

	r, err := newRun(e, g, rc)
	if err != nil {
		return Result{}, err
	}
	return r.execute(ctx, task)
}

// RunSubgraph runs a child graph with a context derived from parent and
// returns its terminal messages.
func (e *Executor) RunSubgraph(ctx context.Context, g *domain.Graph, task []domain.Message, parent *executor.Context) ([]domain.Message, error) {
	if g == nil {
		return nil, domain.ErrMissingSubgraph
	}
	var rc *executor.Context
	if parent != nil {
		rc = e.prepare(g, parent.Child(g), false)
	} else {
		rc = e.prepare(g, nil, true)
	}
	res, err := e.run(ctx, g, task, rc)
	if err != nil {
		return nil, err
	}
	if res.Cancelled {
		return nil, domain.ErrWorkflowCancelled
	}
	return res.Terminal, nil
}

// prepare fills the collaborators rc lacks. Executor hooks are merged only for
// top-level runs; child contexts inherit them from the parent.
func (e *Executor) prepare(g *domain.Graph, rc *executor.Context, top bool) *executor.Context {
	if rc == nil {
		rc = executor.NewContext(g)
	}
	rc.Graph = g
	if rc.Runner == nil {
		rc.Runner = e
	}
	if rc.Hook == nil {
		rc.Hook = e.hook
	}
	if rc.Logger == nil {
		rc.Logger = e.logger
	}
	if rc.Log == nil {
		rc.Log = e.log
	}
	if rc.Log == nil {
		rc.Log = runlog.New(runlog.WithLevel(domain.ParseLogLevel(g.LogLevel)), runlog.WithLogger(rc.Logger))
	}
	if top {
		rc.Hooks = rc.Hooks.Merge(e.hooks)
	}
	return rc
}

// isCancellation reports whether a node error ends the run.
func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrWorkflowCancelled) || ctx.Err() != nil
}
