package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/weft/pkg/adapters/process"
	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/provider"
	"github.com/aretw0/weft/pkg/runlog"
	"github.com/aretw0/weft/pkg/tooling"
)

// WorkspaceHook observes the workspace around nodes that may write files.
// AfterNode receives the token BeforeNode returned for the same invocation.
type WorkspaceHook interface {
	Watches(nodeType string) bool
	BeforeNode(ctx context.Context, node domain.Node, workspace string) string
	AfterNode(ctx context.Context, node domain.Node, workspace, token string, success bool) []domain.WorkspaceArtifact
}

// GraphRunner runs a child graph. The graph executor implements it; the
// subgraph executor only sees this interface.
type GraphRunner interface {
	RunSubgraph(ctx context.Context, g *domain.Graph, task []domain.Message, parent *Context) ([]domain.Message, error)
}

// Context is the run-wide state shared by every executor of one graph run.
// The collaborators are set before the run starts and are read-only afterwards;
// the mutable cells are guarded by mu.
type Context struct {
	Graph       *domain.Graph
	Workspace   string
	Attachments *attachment.Store
	Human       *human.Service
	Log         *runlog.Manager
	Logger      *slog.Logger
	Hook        WorkspaceHook
	Providers   *provider.Registry
	Tools       *tooling.Manager
	Memories    map[string]ports.Memory
	Thinkers    map[string]ports.Thinking
	Tokens      *provider.TokenTracker
	Retry       *provider.RetryPolicy
	Process     *process.Runner
	Runner      GraphRunner
	Hooks       domain.LifecycleHooks

	mu          sync.Mutex
	currentNode string
	counters    map[string]int
	vars        map[string]any
}

// NewContext returns a context for g with empty mutable state.
func NewContext(g *domain.Graph) *Context {
	rc := &Context{
		Graph:    g,
		Logger:   slog.Default(),
		counters: make(map[string]int),
		vars:     make(map[string]any),
	}
	if g != nil {
		for k, v := range domain.CloneMap(g.Vars) {
			rc.vars[k] = v
		}
	}
	return rc
}

// Child returns a context for a nested graph run. Collaborators are shared;
// counters and vars start fresh from the child graph.
func (c *Context) Child(g *domain.Graph) *Context {
	child := NewContext(g)
	child.Workspace = c.Workspace
	child.Attachments = c.Attachments
	child.Human = c.Human
	child.Log = c.Log
	child.Logger = c.Logger
	child.Hook = c.Hook
	child.Providers = c.Providers
	child.Tools = c.Tools
	child.Memories = c.Memories
	child.Thinkers = c.Thinkers
	child.Tokens = c.Tokens
	child.Retry = c.Retry
	child.Process = c.Process
	child.Runner = c.Runner
	child.Hooks = c.Hooks
	return child
}

// CheckCancelled returns the cancellation error once ctx is done.
func (c *Context) CheckCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return domain.Cancelled(ctx)
	}
	return nil
}

// Increment bumps the counter for key and returns the new value.
func (c *Context) Increment(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = make(map[string]int)
	}
	c.counters[key]++
	return c.counters[key]
}

// Counter returns the current value of key.
func (c *Context) Counter(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key]
}

// ResetCounter sets key back to zero.
func (c *Context) ResetCounter(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, key)
}

// SetVar stores a shared variable.
func (c *Context) SetVar(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vars == nil {
		c.vars = make(map[string]any)
	}
	c.vars[key] = value
}

// Var reads a shared variable.
func (c *Context) Var(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[key]
	return v, ok
}

// SetCurrentNode records id as the node doing work and returns a func that
// restores the previous value.
func (c *Context) SetCurrentNode(id string) func() {
	c.mu.Lock()
	prev := c.currentNode
	c.currentNode = id
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.currentNode = prev
		c.mu.Unlock()
	}
}

// CurrentNode returns the node last marked as doing work.
func (c *Context) CurrentNode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentNode
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// retryBase is the policy agents start from: the run-wide default when one
// is set, provider.DefaultRetryPolicy otherwise.
func (c *Context) retryBase() provider.RetryPolicy {
	if c.Retry != nil {
		return *c.Retry
	}
	return provider.DefaultRetryPolicy()
}
