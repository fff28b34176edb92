package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/provider"
	"github.com/aretw0/weft/pkg/runlog"
	"github.com/aretw0/weft/pkg/tooling"
)

// Agent input modes.
const (
	InputModePrompt   = "prompt"
	InputModeMessages = "messages"
)

// DefaultToolLoopLimit caps provider round trips caused by tool calls.
const DefaultToolLoopLimit = 50

// ToolLoopLimitParam is the params key overriding DefaultToolLoopLimit. It is
// never sent to the provider.
const ToolLoopLimitParam = "tool_loop_limit"

const errorInputPrefixLen = 200

var agentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"provider":   map[string]any{"type": "string", "minLength": 1},
		"model":      map[string]any{"type": "string"},
		"base_url":   map[string]any{"type": "string"},
		"api_key":    map[string]any{"type": "string"},
		"input_mode": map[string]any{"enum": []any{InputModePrompt, InputModeMessages}},
		"params":     map[string]any{"type": "object"},
		"memory":     map[string]any{"type": "string"},
		"thinking":   map[string]any{"type": "string"},
		"tooling": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":   map[string]any{"type": "string"},
					"names":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"prefix": map[string]any{"type": "string"},
					"server": map[string]any{"type": "object"},
				},
			},
		},
		"retry": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"enabled":      map[string]any{"type": "boolean"},
				"max_attempts": map[string]any{"type": "integer", "minimum": 1},
				"min_wait":     map[string]any{"type": "number", "minimum": 0},
				"max_wait":     map[string]any{"type": "number", "minimum": 0},
				"multiplier":   map[string]any{"type": "number", "minimum": 1},
			},
		},
	},
	"required": []any{"provider"},
}

// RetryConfig is an agent's retry block. Waits are in seconds.
type RetryConfig struct {
	Enabled     *bool   `mapstructure:"enabled"`
	MaxAttempts int     `mapstructure:"max_attempts"`
	MinWait     float64 `mapstructure:"min_wait"`
	MaxWait     float64 `mapstructure:"max_wait"`
	Multiplier  float64 `mapstructure:"multiplier"`
}

// Policy turns the config into a retry policy on top of base.
func (c *RetryConfig) Policy(base provider.RetryPolicy) provider.RetryPolicy {
	if c == nil {
		return base
	}
	if c.Enabled != nil && !*c.Enabled {
		base.MaxAttempts = 1
		return base
	}
	if c.MaxAttempts > 0 {
		base.MaxAttempts = c.MaxAttempts
	}
	if c.MinWait > 0 {
		base.MinWait = seconds(c.MinWait)
	}
	if c.MaxWait > 0 {
		base.MaxWait = seconds(c.MaxWait)
	}
	if c.Multiplier > 0 {
		base.Multiplier = c.Multiplier
	}
	return base
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// AgentConfig configures an agent node. The system prompt is the node's role.
type AgentConfig struct {
	Provider  string           `mapstructure:"provider"`
	Model     string           `mapstructure:"model"`
	BaseURL   string           `mapstructure:"base_url"`
	APIKey    string           `mapstructure:"api_key"`
	InputMode string           `mapstructure:"input_mode"`
	Params    map[string]any   `mapstructure:"params"`
	Tooling   []tooling.Config `mapstructure:"tooling"`
	Memory    string           `mapstructure:"memory"`
	Thinking  string           `mapstructure:"thinking"`
	Retry     *RetryConfig     `mapstructure:"retry"`
}

// Agent runs one LLM turn: thinking, memory, the provider call and its tool loop.
type Agent struct {
	rc        *Context
	cfg       AgentConfig
	provider  provider.Provider
	policy    provider.RetryPolicy
	memory    ports.Memory
	thinker   ports.Thinking
	params    map[string]any
	loopLimit int
}

// NewAgent is the agent factory.
func NewAgent(rc *Context, node domain.Node) (Executor, error) {
	var cfg AgentConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		return nil, fmt.Errorf("agent %s: %w", node.ID, err)
	}
	if cfg.InputMode == "" {
		cfg.InputMode = InputModePrompt
	}

	providers := rc.Providers
	if providers == nil {
		providers = provider.DefaultRegistry()
	}
	p, err := providers.Build(provider.Config{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", node.ID, err)
	}

	a := &Agent{
		rc:        rc,
		cfg:       cfg,
		provider:  p,
		policy:    cfg.Retry.Policy(rc.retryBase()),
		loopLimit: DefaultToolLoopLimit,
	}
	a.params, a.loopLimit = splitParams(cfg.Params)

	if cfg.Memory != "" {
		if a.memory = rc.Memories[cfg.Memory]; a.memory == nil {
			return nil, fmt.Errorf("agent %s: unknown memory %q", node.ID, cfg.Memory)
		}
	}
	if cfg.Thinking != "" {
		if a.thinker = rc.Thinkers[cfg.Thinking]; a.thinker == nil {
			return nil, fmt.Errorf("agent %s: unknown thinking mode %q", node.ID, cfg.Thinking)
		}
	}
	return a, nil
}

// splitParams copies params without the tool loop limit and returns the limit.
func splitParams(params map[string]any) (map[string]any, int) {
	out := domain.CloneMap(params)
	limit := DefaultToolLoopLimit
	raw, ok := out[ToolLoopLimitParam]
	if !ok {
		return out, limit
	}
	delete(out, ToolLoopLimitParam)
	switch v := raw.(type) {
	case int:
		limit = v
	case int64:
		limit = int(v)
	case float64:
		limit = int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			limit = n
		}
	}
	if limit < 0 {
		limit = 0
	}
	return out, limit
}

func (a *Agent) modelName() string {
	if a.cfg.Model != "" {
		return a.cfg.Model
	}
	return a.provider.Name()
}

func (a *Agent) Execute(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error) {
	rc := a.rc
	if err := rc.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	conversation, inputText := a.buildConversation(node, inputs)
	query := ports.MemoryQuery{
		NodeID:    node.ID,
		Role:      node.Role,
		InputText: inputText,
		Inputs:    domain.CloneMessages(inputs),
	}

	var specs []tooling.Spec
	if len(a.cfg.Tooling) > 0 {
		tools := rc.Tools
		if tools == nil {
			return nil, fmt.Errorf("agent %s: tooling configured but no tool manager", node.ID)
		}
		var err error
		if specs, err = tools.Specs(ctx, a.cfg.Tooling); err != nil {
			return nil, fmt.Errorf("agent %s: %w", node.ID, err)
		}
	}

	if a.thinker != nil && a.thinker.BeforeGeneration() {
		var err error
		if conversation, err = a.think(ctx, node, conversation, inputText, query, ports.MemoryStagePreGenThinking, nil); err != nil {
			return nil, err
		}
	}

	if a.memory != nil {
		if err := rc.CheckCancelled(ctx); err != nil {
			return nil, err
		}
		if mem := a.retrieve(ctx, node, query, ports.MemoryStageGen); !mem.Empty() {
			conversation = a.injectMemory(conversation, mem.Formatted)
		}
	}

	if err := rc.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	final, trace, complete, err := a.generate(ctx, node, conversation, specs)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrWorkflowCancelled) {
			return nil, domain.Cancelled(ctx)
		}
		rc.logger().Error("model call failed", "node", node.ID, "model", a.modelName(), "err", err)
		rc.Log.Error(node.ID, "model call failed", map[string]any{"model": a.modelName(), "error": err.Error()})
		return []domain.Message{a.errorMessage(node, err, inputText)}, nil
	}

	final = a.persistAttachments(node, final)

	if a.thinker != nil && a.thinker.AfterGeneration() {
		if err := rc.CheckCancelled(ctx); err != nil {
			return nil, err
		}
		final, err = a.rethink(ctx, node, conversation, inputText, query, final)
		if err != nil {
			return nil, err
		}
	}

	if a.memory != nil {
		if err := rc.CheckCancelled(ctx); err != nil {
			return nil, err
		}
		a.update(ctx, node, inputText, inputs, final)
	}

	final.Role = domain.RoleAssistant
	final = final.
		WithMeta(domain.MetaSource, node.ID).
		WithMeta("context_trace", domain.CloneMessages(trace)).
		WithMeta("context_trace_complete", complete)
	return []domain.Message{final}, nil
}

// buildConversation returns the turns sent to the model and the flattened input text.
func (a *Agent) buildConversation(node domain.Node, inputs []domain.Message) ([]domain.Message, string) {
	var conv []domain.Message
	if node.Role != "" {
		conv = append(conv, domain.NewMessage(domain.RoleSystem, node.Role))
	}
	flat := FlattenInputs(inputs)
	if a.cfg.InputMode == InputModeMessages {
		conv = append(conv, domain.CloneMessages(inputs)...)
		if len(inputs) == 0 {
			conv = append(conv, domain.NewMessage(domain.RoleUser, ""))
		}
		return conv, flat
	}
	return append(conv, domain.NewMessage(domain.RoleUser, flat)), flat
}

// FlattenInputs renders inputs as one prompt, each under an INPUT FROM header.
func FlattenInputs(inputs []domain.Message) string {
	parts := make([]string, 0, len(inputs))
	for _, m := range inputs {
		src := m.Source()
		if src == "" {
			src = "unknown"
		}
		parts = append(parts, fmt.Sprintf("=== INPUT FROM %s (%s) ===\n\n%s", src, m.Role, m.TextContent()))
	}
	return strings.Join(parts, "\n\n")
}

func lastUserIndex(conv []domain.Message) int {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == domain.RoleUser {
			return i
		}
	}
	return -1
}

func (a *Agent) injectMemory(conv []domain.Message, formatted string) []domain.Message {
	if a.cfg.InputMode == InputModeMessages {
		at := 0
		for at < len(conv) && conv[at].Role == domain.RoleSystem {
			at++
		}
		out := make([]domain.Message, 0, len(conv)+1)
		out = append(out, conv[:at]...)
		out = append(out, domain.NewMessage(domain.RoleUser, formatted).WithMeta("memory", true))
		return append(out, conv[at:]...)
	}
	i := lastUserIndex(conv)
	if i < 0 {
		return append(conv, domain.NewMessage(domain.RoleUser, formatted))
	}
	conv[i] = conv[i].WithContent(formatted + "\n\n" + conv[i].TextContent())
	return conv
}

func (a *Agent) retrieve(ctx context.Context, node domain.Node, query ports.MemoryQuery, stage ports.MemoryStage) *ports.MemoryRetrieval {
	a.rc.Log.MemoryOp(node.ID, domain.StageBefore, map[string]any{"op": "retrieve", "stage": string(stage)}, nil)
	timer := runlog.StartTimer("memory")
	mem, err := a.memory.Retrieve(ctx, query, stage)
	timings := timer.Stop()
	if err != nil {
		a.rc.logger().Warn("memory retrieval failed", "node", node.ID, "stage", stage, "err", err)
		a.rc.Log.MemoryOp(node.ID, domain.StageAfter, map[string]any{"op": "retrieve", "stage": string(stage), "error": err.Error()}, timings)
		return nil
	}
	payload := map[string]any{"op": "retrieve", "stage": string(stage), "items": 0, "chars": 0}
	if mem != nil {
		payload["items"] = len(mem.Items)
		payload["chars"] = len(mem.Formatted)
	}
	a.rc.Log.MemoryOp(node.ID, domain.StageAfter, payload, timings)
	return mem
}

func (a *Agent) update(ctx context.Context, node domain.Node, inputText string, inputs []domain.Message, final domain.Message) {
	out := final.Clone()
	payload := ports.MemoryWritePayload{
		NodeID:         node.ID,
		Role:           node.Role,
		InputsText:     inputText,
		InputSnapshot:  domain.CloneMessages(inputs),
		OutputSnapshot: &out,
	}
	timer := runlog.StartTimer("memory")
	err := a.memory.Update(ctx, payload, ports.MemoryStageFinished)
	logged := map[string]any{
		"op":               "update",
		"stage":            string(ports.MemoryStageFinished),
		"input_count":      len(inputs),
		"input_chars":      len(inputText),
		"output_chars":     len(out.TextContent()),
		"attachment_count": len(out.Attachments()),
	}
	if err != nil {
		a.rc.logger().Warn("memory update failed", "node", node.ID, "err", err)
		logged["error"] = err.Error()
	}
	a.rc.Log.MemoryOp(node.ID, domain.StageAfter, logged, timer.Stop())
}

// think runs the pre-generation pass and applies its result to the conversation.
func (a *Agent) think(ctx context.Context, node domain.Node, conv []domain.Message, inputText string, query ports.MemoryQuery, stage ports.MemoryStage, generated *domain.Message) ([]domain.Message, error) {
	if err := a.rc.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	var mem *ports.MemoryRetrieval
	if a.memory != nil {
		mem = a.retrieve(ctx, node, query, stage)
	}
	res, ok, err := a.runThinking(ctx, node, conv, inputText, mem, generated, stage)
	if err != nil || !ok {
		return conv, err
	}

	if a.cfg.InputMode == InputModeMessages {
		if res.Message != nil {
			return append(conv, res.Message.Clone()), nil
		}
		return append(conv, domain.NewMessage(domain.RoleUser, res.Text).WithMeta("thinking", true)), nil
	}
	i := lastUserIndex(conv)
	switch {
	case i < 0 && res.Message != nil:
		return append(conv, res.Message.WithRole(domain.RoleUser)), nil
	case i < 0:
		return append(conv, domain.NewMessage(domain.RoleUser, res.Text)), nil
	case res.Message != nil:
		conv[i] = conv[i].WithBlocks(res.Message.BlockList())
	default:
		conv[i] = conv[i].WithContent(res.Text)
	}
	return conv, nil
}

// rethink runs the post-generation pass. Its result becomes the final output.
func (a *Agent) rethink(ctx context.Context, node domain.Node, conv []domain.Message, inputText string, query ports.MemoryQuery, final domain.Message) (domain.Message, error) {
	var mem *ports.MemoryRetrieval
	if a.memory != nil {
		mem = a.retrieve(ctx, node, query, ports.MemoryStagePostGen)
	}
	generated := final.Clone()
	res, ok, err := a.runThinking(ctx, node, conv, inputText, mem, &generated, ports.MemoryStagePostGen)
	if err != nil || !ok {
		return final, err
	}
	if res.Message != nil {
		return res.Message.WithRole(domain.RoleAssistant), nil
	}
	return final.WithContent(res.Text), nil
}

// runThinking invokes the thinker. A failed pass is logged and skipped unless
// the run was cancelled.
func (a *Agent) runThinking(ctx context.Context, node domain.Node, conv []domain.Message, inputText string, mem *ports.MemoryRetrieval, generated *domain.Message, stage ports.MemoryStage) (ports.ThinkingResult, bool, error) {
	a.rc.Log.Thinking(node.ID, domain.StageBefore, map[string]any{"stage": string(stage)}, nil)
	timer := runlog.StartTimer("thinking")
	res, err := a.thinker.Think(ctx, ports.ThinkingRequest{
		Invoker:      a.invoker(node),
		Conversation: domain.CloneMessages(conv),
		InputText:    inputText,
		Role:         node.Role,
		Memory:       mem,
		Generated:    generated,
	})
	timings := timer.Stop()
	if err != nil {
		if ctx.Err() != nil {
			return res, false, domain.Cancelled(ctx)
		}
		a.rc.logger().Warn("thinking failed", "node", node.ID, "stage", stage, "err", err)
		a.rc.Log.Thinking(node.ID, domain.StageAfter, map[string]any{"stage": string(stage), "error": err.Error()}, timings)
		return res, false, nil
	}
	chars := len(res.Text)
	if res.Message != nil {
		chars = len(res.Message.TextContent())
	}
	a.rc.Log.Thinking(node.ID, domain.StageAfter, map[string]any{"stage": string(stage), "chars": chars}, timings)
	return res, true, nil
}

func (a *Agent) invoker(node domain.Node) ports.Invoker {
	return func(ctx context.Context, conv []domain.Message) (domain.Message, error) {
		resp, err := a.call(ctx, node, conv, provider.Timeline(conv), nil)
		if err != nil {
			return domain.Message{}, err
		}
		return resp.Message, nil
	}
}

// generate calls the provider and services tool calls until the model answers
// without any or the loop limit is hit.
func (a *Agent) generate(ctx context.Context, node domain.Node, conv []domain.Message, specs []tooling.Spec) (domain.Message, []domain.Message, bool, error) {
	conv = domain.CloneMessages(conv)
	timeline := provider.Timeline(conv)
	var trace []domain.Message

	resp, err := a.call(ctx, node, conv, timeline, specs)
	if err != nil {
		return domain.Message{}, nil, false, err
	}
	for iteration := 0; ; iteration++ {
		assistant := resp.Message
		if len(assistant.ToolCalls) == 0 {
			return assistant, trace, true, nil
		}
		conv = append(conv, assistant.Clone())
		timeline = append(timeline, provider.MessageItem(assistant))
		trace = append(trace, assistant.Clone())

		if iteration >= a.loopLimit {
			a.rc.logger().Warn("tool loop limit reached", "node", node.ID, "limit", a.loopLimit)
			a.rc.Log.Warn(node.ID, "tool loop limit reached", map[string]any{"limit": a.loopLimit})
			return assistant, trace, false, nil
		}

		for _, call := range assistant.ToolCalls {
			if err := a.rc.CheckCancelled(ctx); err != nil {
				return domain.Message{}, nil, false, err
			}
			msg, event := a.runTool(ctx, node, specs, call)
			conv = append(conv, msg)
			timeline = append(timeline, provider.OutputItem(event))
			trace = append(trace, msg.Clone())
		}

		if err := a.rc.CheckCancelled(ctx); err != nil {
			return domain.Message{}, nil, false, err
		}
		if resp, err = a.call(ctx, node, conv, timeline, specs); err != nil {
			return domain.Message{}, nil, false, err
		}
	}
}

func (a *Agent) call(ctx context.Context, node domain.Node, conv []domain.Message, timeline []provider.TimelineItem, specs []tooling.Spec) (provider.Response, error) {
	tools := make([]domain.Tool, len(specs))
	for i, s := range specs {
		tools[i] = s.Tool
	}
	req := provider.Request{
		Model:        a.cfg.Model,
		Conversation: domain.CloneMessages(conv),
		Timeline:     timeline,
		Options:      domain.CloneMap(a.params),
		Tools:        tools,
	}
	a.rc.Log.ModelCall(node.ID, domain.StageBefore, map[string]any{
		"provider": a.provider.Name(),
		"model":    a.cfg.Model,
		"messages": len(req.Conversation),
		"tools":    len(tools),
	}, nil)

	timer := runlog.StartTimer("model")
	var resp provider.Response
	err := a.policy.Do(ctx, func(ctx context.Context) error {
		r, err := a.provider.Call(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		a.rc.logger().Warn("retrying model call", "node", node.ID, "attempt", attempt, "delay", delay, "err", err)
		a.rc.Log.Warn(node.ID, "retrying model call", map[string]any{
			"attempt":  attempt,
			"delay_ms": runlog.Millis(delay),
			"error":    err.Error(),
		})
	})
	timings := timer.Stop()
	if err != nil {
		a.rc.Log.ModelCall(node.ID, domain.StageAfter, map[string]any{"provider": a.provider.Name(), "error": err.Error()}, timings)
		return provider.Response{}, err
	}
	if resp.Message.Role == "" {
		resp.Message.Role = domain.RoleAssistant
	}
	if a.rc.Tokens != nil {
		a.rc.Tokens.Record(node.ID, resp.Usage)
	}
	a.rc.Log.ModelCall(node.ID, domain.StageAfter, map[string]any{
		"provider":      a.provider.Name(),
		"tool_calls":    len(resp.Message.ToolCalls),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}, timings)
	return resp, nil
}

func (a *Agent) runTool(ctx context.Context, node domain.Node, specs []tooling.Spec, call domain.ToolCall) (domain.Message, provider.FunctionCallOutputEvent) {
	args := tooling.ParseArguments(call.Arguments)
	a.rc.Log.ToolCall(node.ID, domain.StageBefore, map[string]any{"tool": call.Name, "call_id": call.ID, "arguments": args}, nil)
	if h := a.rc.Hooks.OnToolCall; h != nil {
		h(ctx, &domain.ToolEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventToolCall, RunID: a.runID()},
			NodeID:    node.ID,
			ToolName:  call.Name,
			Input:     args,
		})
	}

	start := time.Now()
	var out any
	var err error
	if spec, ok := tooling.Resolve(specs, call.Name); !ok {
		err = fmt.Errorf("%w: %s", tooling.ErrToolNotFound, call.Name)
	} else {
		restore := a.rc.SetCurrentNode(node.ID)
		out, err = a.rc.Tools.Execute(tooling.WithNodeID(ctx, node.ID), spec, args)
		restore()
	}
	elapsed := time.Since(start)

	msg := domain.Message{Role: domain.RoleTool, Name: call.Name, ToolCallID: call.ID}
	if err != nil {
		msg.Content = fmt.Sprintf("Tool %s error: %v", call.Name, err)
	} else {
		msg = withToolOutput(msg, out)
	}
	event := provider.FunctionCallOutputEvent{
		CallID:  call.ID,
		Name:    call.Name,
		Output:  msg.TextContent(),
		IsError: err != nil,
	}

	a.rc.Log.ToolCall(node.ID, domain.StageAfter, map[string]any{
		"tool":         call.Name,
		"call_id":      call.ID,
		"is_error":     event.IsError,
		"output_chars": len(event.Output),
	}, map[string]float64{"tool": runlog.Millis(elapsed)})
	if h := a.rc.Hooks.OnToolReturn; h != nil {
		h(ctx, &domain.ToolEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventToolReturn, RunID: a.runID()},
			NodeID:    node.ID,
			ToolName:  call.Name,
			Output:    event.Output,
			IsError:   event.IsError,
			Duration:  elapsed,
		})
	}
	return msg, event
}

func (a *Agent) runID() string {
	if a.rc.Log == nil {
		return ""
	}
	return a.rc.Log.LogID()
}

// withToolOutput sets the content of a tool message from whatever the tool returned.
func withToolOutput(msg domain.Message, out any) domain.Message {
	switch v := out.(type) {
	case nil:
		msg.Content = ""
	case string:
		msg.Content = v
	case domain.Message:
		msg.Blocks = v.BlockList()
	case *domain.Message:
		msg.Blocks = v.BlockList()
	case domain.Block:
		msg.Blocks = []domain.Block{v.Clone()}
	case []domain.Block:
		msg.Blocks = domain.NewBlockMessage(domain.RoleTool, v...).Blocks
	case fmt.Stringer:
		msg.Content = v.String()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			msg.Content = fmt.Sprintf("%v", v)
		} else {
			msg.Content = string(raw)
		}
	}
	return msg
}

func (a *Agent) errorMessage(node domain.Node, err error, inputText string) domain.Message {
	prefix := inputText
	if r := []rune(prefix); len(r) > errorInputPrefixLen {
		prefix = string(r[:errorInputPrefixLen])
	}
	text := fmt.Sprintf("Error calling model %s: %v", a.modelName(), err)
	if prefix != "" {
		text += "\n\nInput: " + prefix
	}
	return domain.NewMessage(domain.RoleAssistant, text).
		WithMeta(domain.MetaSource, node.ID).
		WithMeta("error", err.Error())
}
