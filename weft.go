package weft

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/adapters/process"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/graph"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/observability"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/provider"
	"github.com/aretw0/weft/pkg/tooling"
	"github.com/aretw0/weft/pkg/workspace"
)

// Engine is the high-level entry point of the weft library. It owns the
// collaborators shared by every run and lays each run out on disk under the
// warehouse directory.
type Engine struct {
	warehouse    string
	loader       ports.GraphLoader
	registry     *executor.Registry
	graphs       *graph.Executor
	maxParallel  int
	providers    *provider.Registry
	tools        *tooling.Manager
	process      *process.Runner
	memories     map[string]ports.Memory
	thinkers     map[string]ports.Thinking
	channel      human.PromptChannel
	humanTimeout time.Duration
	metrics      *observability.Metrics
	queue        ports.EventQueue
	broadcaster  ports.Broadcaster
	watcherOpts  []workspace.Option
	hooks        domain.LifecycleHooks
	retry        *provider.RetryPolicy
	python       string
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithLoader resolves graph references for Run. Defaults to a YAML loader
// rooted at the working directory.
func WithLoader(l ports.GraphLoader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithRegistry sets the node executor registry.
func WithRegistry(r *executor.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithMaxParallel bounds how many nodes of one run execute at once.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

// WithProviders sets the LLM provider registry agents build their clients from.
func WithProviders(r *provider.Registry) Option {
	return func(e *Engine) { e.providers = r }
}

// WithTools sets the tool manager offered to agent nodes.
func WithTools(m *tooling.Manager) Option {
	return func(e *Engine) { e.tools = m }
}

// WithProcessRunner sets the runner used by python nodes and command tools.
func WithProcessRunner(r *process.Runner) Option {
	return func(e *Engine) { e.process = r }
}

// WithMemory registers a memory backend under name.
func WithMemory(name string, m ports.Memory) Option {
	return func(e *Engine) {
		if e.memories == nil {
			e.memories = make(map[string]ports.Memory)
		}
		e.memories[name] = m
	}
}

// WithThinking registers a thinking mode under name.
func WithThinking(name string, t ports.Thinking) Option {
	return func(e *Engine) {
		if e.thinkers == nil {
			e.thinkers = make(map[string]ports.Thinking)
		}
		e.thinkers[name] = t
	}
}

// WithHumanChannel sets the default channel human nodes prompt on.
// Defaults to the terminal.
func WithHumanChannel(ch human.PromptChannel) Option {
	return func(e *Engine) { e.channel = ch }
}

// WithHumanTimeout bounds every human prompt. Zero waits forever.
func WithHumanTimeout(d time.Duration) Option {
	return func(e *Engine) { e.humanTimeout = d }
}

// WithMetrics records node, tool, artifact and run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEventQueue sets where artifact events are queued. Defaults to memory.
func WithEventQueue(q ports.EventQueue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithBroadcaster mirrors artifact events to live subscribers.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// WithWatcherOptions tunes the workspace watcher of every run.
func WithWatcherOptions(opts ...workspace.Option) Option {
	return func(e *Engine) { e.watcherOpts = append(e.watcherOpts, opts...) }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = e.hooks.Merge(hooks) }
}

// WithRetryPolicy sets the retry policy agents start from.
func WithRetryPolicy(p provider.RetryPolicy) Option {
	return func(e *Engine) { e.retry = &p }
}

// WithPythonInterpreter sets the interpreter of python nodes that name none.
func WithPythonInterpreter(path string) Option {
	return func(e *Engine) { e.python = path }
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces time.Now when naming sessions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine whose runs are stored under warehouse.
func New(warehouse string, opts ...Option) (*Engine, error) {
	if warehouse == "" {
		return nil, errors.New("warehouse is required")
	}
	abs, err := filepath.Abs(warehouse)
	if err != nil {
		return nil, fmt.Errorf("invalid warehouse path: %w", err)
	}

	e := &Engine{
		warehouse: abs,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.registry == nil {
		e.registry = executor.DefaultRegistry()
	}
	if e.loader == nil {
		e.loader = config.NewGraphLoader("", e.registry)
	}
	if e.providers == nil {
		e.providers = provider.DefaultRegistry()
	}
	if e.tools == nil {
		e.tools = tooling.NewManager(tooling.WithLogger(e.logger))
	}
	if e.process == nil {
		e.process = process.NewRunner(process.WithLogger(e.logger))
	}
	if e.queue == nil {
		e.queue = memory.NewQueue()
	}
	if e.channel == nil {
		e.channel = human.NewCLIChannel(nil, nil)
	}

	hooks := e.hooks
	if e.metrics != nil {
		hooks = hooks.Merge(e.metrics.Hooks())
	}
	e.graphs = graph.New(
		graph.WithRegistry(e.registry),
		graph.WithMaxParallel(e.maxParallel),
		graph.WithLifecycleHooks(hooks),
		graph.WithLogger(e.logger),
	)
	return e, nil
}

// Warehouse returns the absolute directory runs are stored under.
func (e *Engine) Warehouse() string {
	return e.warehouse
}

// Registry returns the node executor registry.
func (e *Engine) Registry() *executor.Registry {
	return e.registry
}

// Loader returns the graph loader used by Run.
func (e *Engine) Loader() ports.GraphLoader {
	return e.loader
}

// Queue returns the artifact event queue.
func (e *Engine) Queue() ports.EventQueue {
	return e.queue
}

// Close releases the tool sources opened by runs.
func (e *Engine) Close() error {
	return e.tools.Close()
}
