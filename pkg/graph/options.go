package graph

import (
	"log/slog"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/runlog"
)

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry sets the node executor registry. Defaults to executor.DefaultRegistry().
func WithRegistry(r *executor.Registry) Option {
	return func(e *Executor) {
		e.registry = r
	}
}

// WithMaxParallel bounds how many nodes of one run execute at once.
// Values below 1 keep the default of runtime.NumCPU().
func WithMaxParallel(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithWorkspaceHook sets the hook invoked around every node when the run
// context does not carry its own.
func WithWorkspaceHook(h executor.WorkspaceHook) Option {
	return func(e *Executor) {
		e.hook = h
	}
}

// WithLifecycleHooks adds observability hooks. They run after any hooks
// already present on the run context.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = e.hooks.Merge(h)
	}
}

// WithRunLog sets the run log used when the run context has none.
func WithRunLog(m *runlog.Manager) Option {
	return func(e *Executor) {
		e.log = m
	}
}

// WithLogger sets the logger for the executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithLimiter shares a resource limiter between executors.
func WithLimiter(l *Limiter) Option {
	return func(e *Executor) {
		if l != nil {
			e.limiter = l
		}
	}
}
