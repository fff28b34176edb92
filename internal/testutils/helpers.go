// Package testutils holds fakes and fixtures shared by package tests.
package testutils

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/provider"
	"github.com/aretw0/weft/pkg/runlog"
	"github.com/aretw0/weft/pkg/tooling"
)

// SetupWorkspace creates a temporary code workspace with an attachment store
// under workspace/attachments. It fails the test immediately on error.
func SetupWorkspace(t *testing.T) (string, *attachment.Store) {
	t.Helper()

	absPath, err := filepath.Abs(t.TempDir())
	require.NoError(t, err, "Failed to get absolute path for temp dir")

	store, err := attachment.New(filepath.Join(absPath, "attachments"), attachment.WithLogger(logging.NewNop()))
	require.NoError(t, err, "Failed to create attachment store")

	return absPath, store
}

// NewRunContext returns a run context for g backed by a temporary workspace,
// a debug-level run log and an empty tool manager.
func NewRunContext(t *testing.T, g *domain.Graph) *executor.Context {
	t.Helper()
	workspace, store := SetupWorkspace(t)
	rc := executor.NewContext(g)
	rc.Workspace = workspace
	rc.Attachments = store
	rc.Logger = logging.NewNop()
	rc.Log = runlog.New(runlog.WithLevel(domain.LevelDebug))
	rc.Tools = tooling.NewManager(tooling.WithLogger(logging.NewNop()))
	rc.Tokens = provider.NewTokenTracker()
	rc.Memories = map[string]ports.Memory{}
	rc.Thinkers = map[string]ports.Thinking{}
	return rc
}

// ScriptedName is the provider name ScriptedProvider registers under.
const ScriptedName = "scripted"

// Step produces one provider response.
type Step func(req provider.Request) (provider.Response, error)

// Reply answers with plain text.
func Reply(text string) Step {
	return ReplyMessage(domain.NewMessage(domain.RoleAssistant, text))
}

// ReplyMessage answers with msg.
func ReplyMessage(msg domain.Message) Step {
	return func(provider.Request) (provider.Response, error) {
		return provider.Response{Message: msg.Clone(), Usage: provider.Usage{InputTokens: 1, OutputTokens: 1}}, nil
	}
}

// CallTools answers with an assistant message requesting calls.
func CallTools(calls ...domain.ToolCall) Step {
	return func(provider.Request) (provider.Response, error) {
		msg := domain.NewMessage(domain.RoleAssistant, "")
		msg.ToolCalls = append([]domain.ToolCall(nil), calls...)
		return provider.Response{Message: msg}, nil
	}
}

// Fail answers with err.
func Fail(err error) Step {
	return func(provider.Request) (provider.Response, error) {
		return provider.Response{}, err
	}
}

// ErrScriptExhausted is returned once a ScriptedProvider has no steps left.
var ErrScriptExhausted = errors.New("scripted provider exhausted")

// ScriptedProvider replays steps in order and records every request.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Step
	requests []provider.Request
	// Repeat replays the last step forever instead of failing.
	Repeat bool
}

// NewScriptedProvider returns a provider that replays steps.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

func (p *ScriptedProvider) Name() string { return ScriptedName }

func (p *ScriptedProvider) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return provider.Response{}, err
	}
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	var step Step
	switch {
	case n < len(p.steps):
		step = p.steps[n]
	case p.Repeat && len(p.steps) > 0:
		step = p.steps[len(p.steps)-1]
	}
	p.mu.Unlock()
	if step == nil {
		return provider.Response{}, ErrScriptExhausted
	}
	return step(req)
}

// Requests returns the requests seen so far.
func (p *ScriptedProvider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.requests...)
}

// Registry returns a provider registry whose "scripted" entry is p.
func (p *ScriptedProvider) Registry() *provider.Registry {
	r := provider.DefaultRegistry()
	r.Register(ScriptedName, func(provider.Config) (provider.Provider, error) { return p, nil })
	return r
}

// RecordingMemory returns Formatted on every retrieval and records updates.
type RecordingMemory struct {
	Formatted string

	mu         sync.Mutex
	retrievals []ports.MemoryStage
	updates    []ports.MemoryWritePayload
}

func (m *RecordingMemory) Retrieve(_ context.Context, _ ports.MemoryQuery, stage ports.MemoryStage) (*ports.MemoryRetrieval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievals = append(m.retrievals, stage)
	return &ports.MemoryRetrieval{
		Items:     []ports.MemoryItem{{Content: m.Formatted}},
		Formatted: m.Formatted,
	}, nil
}

func (m *RecordingMemory) Update(_ context.Context, payload ports.MemoryWritePayload, _ ports.MemoryStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, payload)
	return nil
}

// Retrievals lists the stages retrieved at, in order.
func (m *RecordingMemory) Retrievals() []ports.MemoryStage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.MemoryStage(nil), m.retrievals...)
}

// Updates lists the write payloads received.
func (m *RecordingMemory) Updates() []ports.MemoryWritePayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.MemoryWritePayload(nil), m.updates...)
}

// StaticThinking runs Fn before and/or after generation.
type StaticThinking struct {
	Before bool
	After  bool
	Fn     func(ctx context.Context, req ports.ThinkingRequest) (ports.ThinkingResult, error)
}

func (s StaticThinking) BeforeGeneration() bool { return s.Before }
func (s StaticThinking) AfterGeneration() bool  { return s.After }

func (s StaticThinking) Think(ctx context.Context, req ports.ThinkingRequest) (ports.ThinkingResult, error) {
	return s.Fn(ctx, req)
}

// HumanReplies is a prompt channel that answers from a fixed list and records
// the prompts it was shown.
type HumanReplies struct {
	mu      sync.Mutex
	replies []string
	prompts []human.PromptRequest
}

// NewHumanReplies returns a channel answering with replies in order.
func NewHumanReplies(replies ...string) *HumanReplies {
	return &HumanReplies{replies: replies}
}

func (h *HumanReplies) Request(ctx context.Context, req human.PromptRequest) (human.PromptResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = append(h.prompts, req)
	if err := ctx.Err(); err != nil {
		return human.PromptResult{}, err
	}
	if len(h.replies) == 0 {
		return human.PromptResult{}, errors.New("no scripted human reply left")
	}
	text := h.replies[0]
	h.replies = h.replies[1:]
	return human.PromptResult{Text: text}, nil
}

// Prompts returns the prompts shown so far.
func (h *HumanReplies) Prompts() []human.PromptRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]human.PromptRequest(nil), h.prompts...)
}
