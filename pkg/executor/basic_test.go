package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/internal/testutils"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/human"
)

func build(t *testing.T, rc *executor.Context, node domain.Node) executor.Executor {
	t.Helper()
	ex, err := executor.DefaultRegistry().Build(rc, node)
	require.NoError(t, err)
	return ex
}

func TestRegistry_Validate(t *testing.T) {
	r := executor.DefaultRegistry()
	assert.Equal(t, []string{"agent", "human", "literal", "loop_counter", "passthrough", "python", "subgraph"}, r.Types())

	err := r.Validate(domain.Node{ID: "x", Type: "quantum"})
	assert.ErrorIs(t, err, domain.ErrUnknownNodeType)

	assert.Error(t, r.Validate(domain.Node{ID: "lc", Type: "loop_counter", Config: map[string]any{"max_iterations": 0}}))
	assert.Error(t, r.Validate(domain.Node{ID: "lc", Type: "loop_counter"}), "max_iterations is required")
	assert.NoError(t, r.Validate(domain.Node{ID: "lc", Type: "loop_counter", Config: map[string]any{"max_iterations": 3}}))
	assert.Error(t, r.Validate(domain.Node{ID: "l", Type: "literal", Config: map[string]any{"content": "x", "role": "system"}}))
	assert.Error(t, r.Validate(domain.Node{ID: "a", Type: "agent", Config: map[string]any{"input_mode": "telepathy", "provider": "echo"}}))
	assert.NoError(t, r.Validate(domain.Node{ID: "p", Type: "python", Config: map[string]any{"args": []string{"-u"}, "timeout_seconds": 1.5}}))

	assert.Equal(t, executor.Capabilities{ResourceKey: "human", ResourceLimit: 1}, r.Capabilities("human"))
	assert.Equal(t, executor.Capabilities{}, r.Capabilities("agent"))
}

func TestRegistry_ValidateGraphRecursesIntoSubgraphs(t *testing.T) {
	g := &domain.Graph{
		Nodes: []domain.Node{{ID: "sub", Type: "subgraph"}},
		Edges: []domain.Edge{{From: "start", To: "sub"}},
		Subgraphs: map[string]*domain.Graph{
			"sub": {
				Nodes: []domain.Node{{ID: "bad", Type: "literal"}},
				Edges: []domain.Edge{{From: "start", To: "bad"}},
			},
		},
	}
	err := executor.DefaultRegistry().ValidateGraph(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subgraph sub")
}

func TestRegistry_CustomType(t *testing.T) {
	r := executor.NewRegistry()
	require.NoError(t, r.Register("upper", executor.Spec{
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) {
			return executor.Func(func(ctx context.Context, node domain.Node, in []domain.Message) ([]domain.Message, error) {
				return []domain.Message{domain.NewMessage(domain.RoleAssistant, "UP")}, nil
			}), nil
		},
	}))
	ex, err := r.Build(executor.NewContext(nil), domain.Node{ID: "u", Type: "upper"})
	require.NoError(t, err)
	out, err := ex.Execute(context.Background(), domain.Node{ID: "u"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "UP", out[0].Content)

	assert.Error(t, r.Register("nofactory", executor.Spec{}))
	assert.Error(t, r.Register("badschema", executor.Spec{
		Schema:  map[string]any{"type": 7},
		Factory: func(*executor.Context, domain.Node) (executor.Executor, error) { return nil, nil },
	}))
}

func TestDecodeConfig_WeakTyping(t *testing.T) {
	var cfg struct {
		N       int           `mapstructure:"n"`
		Wait    time.Duration `mapstructure:"wait"`
		Enabled bool          `mapstructure:"enabled"`
	}
	require.NoError(t, executor.DecodeConfig(map[string]any{"n": "3", "wait": "250ms", "enabled": "true"}, &cfg))
	assert.Equal(t, 3, cfg.N)
	assert.Equal(t, 250*time.Millisecond, cfg.Wait)
	assert.True(t, cfg.Enabled)
}

func TestPassthrough(t *testing.T) {
	rc := testutils.NewRunContext(t, nil)
	node := domain.Node{ID: "p", Type: "passthrough"}
	ex := build(t, rc, node)

	out, err := ex.Execute(context.Background(), node, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.RoleUser, out[0].Role)
	assert.Equal(t, "", out[0].Content)

	in := []domain.Message{
		domain.NewMessage(domain.RoleUser, "one").WithMeta("k", "v"),
		domain.NewMessage(domain.RoleAssistant, "two"),
	}
	out, err = ex.Execute(context.Background(), node, in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	out[0].Metadata["k"] = "changed"
	assert.Equal(t, "v", in[0].Metadata["k"], "outputs are clones")

	node.Config = map[string]any{"only_last_message": true}
	ex = build(t, rc, node)
	out, err = ex.Execute(context.Background(), node, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "two", out[0].Content)
	assert.NotEmpty(t, rc.Log.Filter(domain.KindWarning))
}

func TestLiteral(t *testing.T) {
	rc := testutils.NewRunContext(t, nil)
	node := domain.Node{ID: "lit", Type: "literal", Config: map[string]any{"content": "hello", "role": "assistant"}}
	out, err := build(t, rc, node).Execute(context.Background(), node, []domain.Message{domain.NewMessage(domain.RoleUser, "ignored")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", out[0].Content)
	assert.Equal(t, domain.RoleAssistant, out[0].Role)
	assert.True(t, out[0].PreserveRole)
	assert.Equal(t, "lit", out[0].Source())
}

func TestLoopCounter(t *testing.T) {
	rc := testutils.NewRunContext(t, nil)
	node := domain.Node{ID: "loop", Type: "loop_counter", Config: map[string]any{"max_iterations": 3}}
	ex := build(t, rc, node)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := ex.Execute(ctx, node, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	}
	out, err := ex.Execute(ctx, node, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, executor.DefaultLoopMessage, out[0].Content)
	assert.Equal(t, domain.RoleAssistant, out[0].Role)
	assert.Equal(t, map[string]any{"count": 3, "max": 3, "reset_on_emit": true}, out[0].Metadata["loop_counter"])

	out, err = ex.Execute(ctx, node, nil)
	require.NoError(t, err)
	assert.Empty(t, out, "counter resets after emitting")

	sticky := domain.Node{ID: "sticky", Type: "loop_counter", Config: map[string]any{"max_iterations": 1, "reset_on_emit": false, "message": "go"}}
	ex = build(t, rc, sticky)
	for i := 1; i <= 2; i++ {
		out, err := ex.Execute(ctx, sticky, nil)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "go", out[0].Content)
		assert.Equal(t, i, rc.Counter("loop_counter:sticky"))
	}
}

func TestHuman(t *testing.T) {
	rc := testutils.NewRunContext(t, nil)
	replies := testutils.NewHumanReplies("approved")
	rc.Human = human.NewService(replies, human.WithRecorder(rc.Log), human.WithLogger(logging.NewNop()))
	node := domain.Node{ID: "review", Type: "human", Config: map[string]any{"description": "Approve the plan"}}

	in := []domain.Message{domain.NewMessage(domain.RoleAssistant, "the plan").WithMeta("source", "planner")}
	out, err := build(t, rc, node).Execute(context.Background(), node, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.RoleUser, out[0].Role)
	assert.Equal(t, "approved", out[0].TextContent())
	assert.Equal(t, "review", out[0].Source())

	prompts := replies.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, "Approve the plan", prompts[0].Task)
	assert.Equal(t, "[planner] the plan", prompts[0].Inputs)
	assert.Len(t, rc.Log.Filter(domain.KindHuman), 1)
}

type stuckChannel struct{}

func (stuckChannel) Request(ctx context.Context, _ human.PromptRequest) (human.PromptResult, error) {
	<-ctx.Done()
	return human.PromptResult{}, ctx.Err()
}

func TestHuman_TimeoutPropagates(t *testing.T) {
	rc := testutils.NewRunContext(t, nil)
	rc.Human = human.NewService(stuckChannel{}, human.WithTimeout(20*time.Millisecond), human.WithLogger(logging.NewNop()))
	node := domain.Node{ID: "h", Type: "human"}
	_, err := build(t, rc, node).Execute(context.Background(), node, nil)
	assert.ErrorIs(t, err, domain.ErrPromptTimeout)

	rc.Human = nil
	_, err = build(t, rc, node).Execute(context.Background(), node, nil)
	assert.ErrorIs(t, err, executor.ErrNoHumanService)
}

type fakeRunner struct {
	got  *domain.Graph
	task []domain.Message
	err  error
}

func (f *fakeRunner) RunSubgraph(_ context.Context, g *domain.Graph, task []domain.Message, _ *executor.Context) ([]domain.Message, error) {
	f.got = g
	f.task = task
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Message{domain.NewMessage(domain.RoleAssistant, "child says hi").WithMeta("source", "inner")}, nil
}

func TestSubgraph(t *testing.T) {
	child := &domain.Graph{
		Name:  "child",
		Nodes: []domain.Node{{ID: "inner", Type: "literal", Config: map[string]any{"content": "x"}}},
		Edges: []domain.Edge{{From: "start", To: "inner"}},
	}
	g := &domain.Graph{Subgraphs: map[string]*domain.Graph{"sub": child}}
	rc := testutils.NewRunContext(t, g)
	runner := &fakeRunner{}
	rc.Runner = runner
	node := domain.Node{ID: "sub", Type: "subgraph"}

	out, err := build(t, rc, node).Execute(context.Background(), node, []domain.Message{domain.NewMessage(domain.RoleUser, "task")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sub", out[0].Source())
	assert.Equal(t, "task", runner.task[0].Content)

	runner.got.Nodes[0].Config["content"] = "mutated"
	assert.Equal(t, "x", child.Nodes[0].Config["content"], "the child graph is deep-copied per run")

	missing := domain.Node{ID: "other", Type: "subgraph"}
	_, err = build(t, rc, missing).Execute(context.Background(), missing, nil)
	assert.ErrorIs(t, err, domain.ErrMissingSubgraph)

	runner.err = errors.New("child blew up")
	_, err = build(t, rc, node).Execute(context.Background(), node, nil)
	assert.EqualError(t, err, "child blew up")
	assert.NotEmpty(t, rc.Log.Filter(domain.KindError))
}
