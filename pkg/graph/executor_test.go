package graph_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/internal/testutils"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/graph"
)

// recorder collects the inputs every "record" node was fired with.
type recorder struct {
	mu    sync.Mutex
	calls map[string][][]domain.Message
}

func (r *recorder) inputs(id string) [][]domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func testRegistry(rec *recorder) *executor.Registry {
	reg := executor.DefaultRegistry()
	reg.MustRegister("record", executor.Spec{
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(_ context.Context, node domain.Node, in []domain.Message) ([]domain.Message, error) {
				rec.mu.Lock()
				if rec.calls == nil {
					rec.calls = make(map[string][][]domain.Message)
				}
				rec.calls[node.ID] = append(rec.calls[node.ID], domain.CloneMessages(in))
				rec.mu.Unlock()
				return domain.CloneMessages(in), nil
			}), nil
		},
	})
	reg.MustRegister("fail", executor.Spec{
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(context.Context, domain.Node, []domain.Message) ([]domain.Message, error) {
				return nil, errors.New("boom")
			}), nil
		},
	})
	reg.MustRegister("panic", executor.Spec{
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(context.Context, domain.Node, []domain.Message) ([]domain.Message, error) {
				panic("kaboom")
			}), nil
		},
	})
	reg.MustRegister("mutate", executor.Spec{
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(_ context.Context, node domain.Node, in []domain.Message) ([]domain.Message, error) {
				for _, m := range in {
					m.Metadata["k"] = "mutated by " + node.ID
				}
				return in, nil
			}), nil
		},
	})
	return reg
}

func newExecutor(rec *recorder, opts ...graph.Option) *graph.Executor {
	opts = append([]graph.Option{graph.WithRegistry(testRegistry(rec)), graph.WithLogger(logging.NewNop())}, opts...)
	return graph.New(opts...)
}

func user(text string) domain.Message {
	return domain.NewMessage(domain.RoleUser, text)
}

func TestRun_LiteralEmitter(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "lit", Type: "literal", Config: map[string]any{"content": "hi", "role": "user"}},
			{ID: "end", Type: "passthrough"},
		},
		Edges:     []domain.Edge{{From: "start", To: "lit"}, {From: "lit", To: "end"}},
		EndNodeID: "end",
	}
	rc := testutils.NewRunContext(t, g)

	res, err := newExecutor(nil).Run(context.Background(), g, []domain.Message{user("anything")}, rc)
	require.NoError(t, err)
	require.NotNil(t, res.FinalMessage)
	assert.False(t, res.Cancelled)
	assert.Equal(t, "hi", res.FinalMessage.Content)
	assert.Equal(t, domain.RoleUser, res.FinalMessage.Role)
	assert.True(t, res.FinalMessage.PreserveRole)
	assert.Equal(t, "lit", res.FinalMessage.Source())
	assert.Equal(t, "hi", res.Outputs["lit"].Content)

	begins := rc.Log.Filter(domain.KindNodeBegin)
	ends := rc.Log.Filter(domain.KindNodeEnd)
	assert.Len(t, begins, 2)
	assert.Len(t, ends, 2)
}

func TestRun_PassthroughReceivesWholeTask(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "p", Type: "passthrough", Config: map[string]any{"only_last_message": true}},
			{ID: "end", Type: "passthrough"},
		},
		Edges:     []domain.Edge{{From: "start", To: "p"}, {From: "p", To: "end"}},
		EndNodeID: "end",
	}
	res, err := newExecutor(nil).Run(context.Background(), g, []domain.Message{user("a"), user("b")}, testutils.NewRunContext(t, g))
	require.NoError(t, err)
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "b", res.FinalMessage.Content)
	assert.Equal(t, "start", res.FinalMessage.Source(), "task messages are tagged with the start node")
}

func TestRun_LoopGate(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "A", Type: "literal", Config: map[string]any{"content": "tick"}},
			{ID: "gate", Type: "loop_counter", Config: map[string]any{"max_iterations": 3, "reset_on_emit": true, "message": "go"}},
			{ID: "end", Type: "passthrough"},
		},
		Edges: []domain.Edge{
			{From: "start", To: "A"},
			{From: "A", To: "gate"},
			{From: "A", To: "A"},
			{From: "gate", To: "end"},
		},
		EndNodeID: "end",
	}
	rc := testutils.NewRunContext(t, g)

	res, err := newExecutor(nil).Run(context.Background(), g, []domain.Message{user("go around")}, rc)
	require.NoError(t, err)
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "go", res.FinalMessage.Content)
	assert.Equal(t, domain.RoleAssistant, res.FinalMessage.Role)
	assert.Equal(t, map[string]any{"count": 3, "max": 3, "reset_on_emit": true}, res.FinalMessage.Metadata["loop_counter"])

	endRuns := 0
	for _, e := range rc.Log.Filter(domain.KindNodeBegin) {
		if e.NodeID == "end" {
			endRuns++
		}
	}
	assert.Equal(t, 1, endRuns, "end sees nothing on iterations one and two")
}

func TestRun_JoinWaitsForAllBranches(t *testing.T) {
	rec := &recorder{}
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "a", Type: "literal", Config: map[string]any{"content": "A"}},
			{ID: "b", Type: "literal", Config: map[string]any{"content": "B"}},
			{ID: "join", Type: "record"},
		},
		Edges: []domain.Edge{
			{From: "start", To: "a"},
			{From: "start", To: "b"},
			{From: "a", To: "join"},
			{From: "b", To: "join"},
		},
		EndNodeID: "join",
	}
	_, err := newExecutor(rec).Run(context.Background(), g, nil, testutils.NewRunContext(t, g))
	require.NoError(t, err)

	calls := rec.inputs("join")
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, "A", calls[0][0].Content, "inputs follow edge declaration order")
	assert.Equal(t, "B", calls[0][1].Content)
}

func TestRun_SuppressedBranchDoesNotBlockJoin(t *testing.T) {
	rec := &recorder{}
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "a", Type: "literal", Config: map[string]any{"content": "A"}},
			{ID: "quiet", Type: "loop_counter", Config: map[string]any{"max_iterations": 5}},
			{ID: "join", Type: "record"},
		},
		Edges: []domain.Edge{
			{From: "start", To: "a"},
			{From: "start", To: "quiet"},
			{From: "a", To: "join"},
			{From: "quiet", To: "join"},
		},
		EndNodeID: "join",
	}
	res, err := newExecutor(rec).Run(context.Background(), g, nil, testutils.NewRunContext(t, g))
	require.NoError(t, err)

	calls := rec.inputs("join")
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1)
	assert.Equal(t, "A", calls[0][0].Content)
	assert.Equal(t, "A", res.FinalMessage.Content)
	_, emitted := res.Outputs["quiet"]
	assert.False(t, emitted)
}

func TestRun_FanOutDeliversIndependentClones(t *testing.T) {
	rec := &recorder{}
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "src", Type: "passthrough"},
			{ID: "left", Type: "mutate"},
			{ID: "right", Type: "record"},
		},
		Edges: []domain.Edge{
			{From: "start", To: "src"},
			{From: "src", To: "left"},
			{From: "src", To: "right"},
		},
	}
	task := []domain.Message{user("shared").WithMeta("k", "original")}

	res, err := newExecutor(rec, graph.WithMaxParallel(1)).Run(context.Background(), g, task, testutils.NewRunContext(t, g))
	require.NoError(t, err)

	assert.Equal(t, "mutated by left", res.Outputs["left"].Metadata["k"])
	calls := rec.inputs("right")
	require.Len(t, calls, 1)
	assert.Equal(t, "original", calls[0][0].Metadata["k"])
	assert.Equal(t, "original", task[0].Metadata["k"], "the caller's task is never mutated")
	assert.Len(t, res.Terminal, 2, "both sinks contribute terminal messages")
}

func TestRun_NodeErrorsFlowDownstream(t *testing.T) {
	rec := &recorder{}
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "bad", Type: "fail"},
			{ID: "worse", Type: "panic"},
			{ID: "sink", Type: "record"},
		},
		Edges: []domain.Edge{
			{From: "start", To: "bad"},
			{From: "start", To: "worse"},
			{From: "bad", To: "sink"},
			{From: "worse", To: "sink"},
		},
		EndNodeID: "sink",
	}
	rc := testutils.NewRunContext(t, g)

	res, err := newExecutor(rec).Run(context.Background(), g, nil, rc)
	require.NoError(t, err)
	assert.False(t, res.Cancelled)

	calls := rec.inputs("sink")
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, "Error executing node bad: boom", calls[0][0].Content)
	assert.Equal(t, domain.RoleAssistant, calls[0][0].Role)
	assert.Equal(t, "bad", calls[0][0].Source())
	assert.Equal(t, "Error executing node worse: panic: kaboom", calls[0][1].Content)
	assert.Len(t, rc.Log.Filter(domain.KindError), 2)
}

func TestRun_Cancellation(t *testing.T) {
	started := make(chan struct{})
	reg := executor.DefaultRegistry()
	reg.MustRegister("block", executor.Spec{
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(ctx context.Context, _ domain.Node, _ []domain.Message) ([]domain.Message, error) {
				close(started)
				<-ctx.Done()
				return nil, domain.Cancelled(ctx)
			}), nil
		},
	})
	g := &domain.Graph{
		Nodes: []domain.Node{{ID: "wait", Type: "block"}},
		Edges: []domain.Edge{{From: "start", To: "wait"}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := graph.New(graph.WithRegistry(reg), graph.WithLogger(logging.NewNop())).Run(ctx, g, nil, testutils.NewRunContext(t, g))
	assert.ErrorIs(t, err, domain.ErrWorkflowCancelled)
	assert.True(t, res.Cancelled)
	assert.Nil(t, res.FinalMessage)
}

func TestRun_CancellationRaisedByNode(t *testing.T) {
	reg := executor.DefaultRegistry()
	reg.MustRegister("quit", executor.Spec{
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(context.Context, domain.Node, []domain.Message) ([]domain.Message, error) {
				return nil, domain.ErrWorkflowCancelled
			}), nil
		},
	})
	g := &domain.Graph{
		Nodes: []domain.Node{{ID: "q", Type: "quit"}, {ID: "after", Type: "passthrough"}},
		Edges: []domain.Edge{{From: "start", To: "q"}, {From: "q", To: "after"}},
	}
	rc := testutils.NewRunContext(t, g)
	res, err := graph.New(graph.WithRegistry(reg)).Run(context.Background(), g, nil, rc)
	assert.ErrorIs(t, err, domain.ErrWorkflowCancelled)
	assert.True(t, res.Cancelled)
	_, ran := res.Outputs["after"]
	assert.False(t, ran)
}

func concurrencyProbe(reg *executor.Registry, name string, caps executor.Capabilities, peak *int32) {
	var current int32
	reg.MustRegister(name, executor.Spec{
		Capabilities: caps,
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(context.Context, domain.Node, []domain.Message) ([]domain.Message, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(peak)
					if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil, nil
			}), nil
		},
	})
}

func fanOut(nodeType string, n int) *domain.Graph {
	g := &domain.Graph{}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		g.Nodes = append(g.Nodes, domain.Node{ID: id, Type: nodeType})
		g.Edges = append(g.Edges, domain.Edge{From: "start", To: id})
	}
	return g
}

func TestRun_ResourceKeySerializesNodes(t *testing.T) {
	var peak int32
	reg := executor.DefaultRegistry()
	concurrencyProbe(reg, "operator", executor.Capabilities{ResourceKey: "human", ResourceLimit: 1}, &peak)
	g := fanOut("operator", 4)

	_, err := graph.New(graph.WithRegistry(reg), graph.WithMaxParallel(8)).Run(context.Background(), g, nil, testutils.NewRunContext(t, g))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestRun_MaxParallelBoundsThePool(t *testing.T) {
	var peak int32
	reg := executor.DefaultRegistry()
	concurrencyProbe(reg, "work", executor.Capabilities{}, &peak)
	g := fanOut("work", 5)

	_, err := graph.New(graph.WithRegistry(reg), graph.WithMaxParallel(2)).Run(context.Background(), g, nil, testutils.NewRunContext(t, g))
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_QuiescenceWithoutEnd(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{{ID: "only", Type: "literal", Config: map[string]any{"content": "done"}}},
		Edges: []domain.Edge{{From: "start", To: "only"}},
	}
	res, err := newExecutor(nil).Run(context.Background(), g, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "done", res.FinalMessage.Content)
	require.Len(t, res.Terminal, 1)
}

func TestRun_RejectsInvalidGraphs(t *testing.T) {
	ex := newExecutor(nil)
	_, err := ex.Run(context.Background(), &domain.Graph{
		Nodes: []domain.Node{{ID: "x", Type: "warp"}},
		Edges: []domain.Edge{{From: "start", To: "x"}},
	}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownNodeType)

	_, err = ex.Run(context.Background(), &domain.Graph{
		Nodes: []domain.Node{{ID: "x", Type: "passthrough"}},
		Edges: []domain.Edge{{From: "start", To: "ghost"}},
	}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	_, err = ex.Run(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}

type hookRecorder struct {
	mu     sync.Mutex
	before []string
	after  map[string]bool
}

func (h *hookRecorder) Watches(string) bool { return true }

func (h *hookRecorder) BeforeNode(_ context.Context, node domain.Node, _ string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = append(h.before, node.ID)
	return "tok-" + node.ID
}

func (h *hookRecorder) AfterNode(_ context.Context, node domain.Node, _, token string, success bool) []domain.WorkspaceArtifact {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.after == nil {
		h.after = make(map[string]bool)
	}
	h.after[node.ID] = success && token == "tok-"+node.ID
	return nil
}

func TestRun_HooksWrapEveryNode(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "ok", Type: "passthrough"},
			{ID: "bad", Type: "fail"},
		},
		Edges: []domain.Edge{{From: "start", To: "ok"}, {From: "ok", To: "bad"}},
	}
	hook := &hookRecorder{}
	var mu sync.Mutex
	var entered, left []string
	var leaveErr error
	lifecycle := domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			entered = append(entered, e.NodeID)
		},
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			left = append(left, e.NodeID)
			if e.Err != nil {
				leaveErr = e.Err
			}
		},
	}
	rc := testutils.NewRunContext(t, g)

	_, err := newExecutor(&recorder{}, graph.WithWorkspaceHook(hook), graph.WithLifecycleHooks(lifecycle)).Run(context.Background(), g, nil, rc)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok", "bad"}, hook.before)
	assert.Equal(t, map[string]bool{"ok": true, "bad": false}, hook.after)
	assert.Equal(t, []string{"ok", "bad"}, entered)
	assert.Equal(t, []string{"ok", "bad"}, left)
	assert.EqualError(t, leaveErr, "boom")
}

func TestRun_Subgraph(t *testing.T) {
	child := &domain.Graph{
		Name:      "child",
		Nodes:     []domain.Node{{ID: "inner", Type: "literal", Config: map[string]any{"content": "from child", "role": "assistant"}}},
		Edges:     []domain.Edge{{From: "start", To: "inner"}},
		EndNodeID: "inner",
	}
	g := &domain.Graph{
		Nodes: []domain.Node{
			{ID: "sub", Type: "subgraph"},
			{ID: "end", Type: "passthrough"},
		},
		Edges:     []domain.Edge{{From: "start", To: "sub"}, {From: "sub", To: "end"}},
		EndNodeID: "end",
		Subgraphs: map[string]*domain.Graph{"sub": child},
	}
	var mu sync.Mutex
	var entered []string
	rc := testutils.NewRunContext(t, g)

	ex := newExecutor(nil, graph.WithLifecycleHooks(domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			entered = append(entered, e.NodeID)
		},
	}))
	res, err := ex.Run(context.Background(), g, []domain.Message{user("delegate")}, rc)
	require.NoError(t, err)
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "from child", res.FinalMessage.Content)
	assert.Equal(t, "sub", res.FinalMessage.Source())
	assert.Equal(t, []string{"sub", "inner", "end"}, entered, "nested nodes fire the same hooks once")
}

func TestBackEdges(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{{ID: "a", Type: "passthrough"}, {ID: "b", Type: "passthrough"}, {ID: "c", Type: "passthrough"}},
		Edges: []domain.Edge{
			{From: "start", To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
			{From: "b", To: "b"},
			{From: "b", To: "c"},
		},
	}
	assert.Equal(t, []int{2, 3}, graph.BackEdges(g))
}

func TestLimiter(t *testing.T) {
	l := graph.NewLimiter()
	ctx := context.Background()

	free, err := l.Acquire(ctx, "", 0)
	require.NoError(t, err)
	free()

	release, err := l.Acquire(ctx, "human", 1)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "human", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	again, err := l.Acquire(ctx, "human", 1)
	require.NoError(t, err)
	again()
}
