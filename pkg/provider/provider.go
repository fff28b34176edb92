// Package provider defines the model provider port used by agent nodes, along
// with the retry policy, error classification and token accounting around it.
package provider

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// FunctionCallOutputEvent is the output of one tool call as submitted back to the model.
type FunctionCallOutputEvent struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// TimelineItem is either a message or a tool output. Exactly one field is set.
type TimelineItem struct {
	Message *domain.Message          `json:"message,omitempty"`
	Output  *FunctionCallOutputEvent `json:"output,omitempty"`
}

// MessageItem wraps a clone of m.
func MessageItem(m domain.Message) TimelineItem {
	c := m.Clone()
	return TimelineItem{Message: &c}
}

// OutputItem wraps a tool output.
func OutputItem(e FunctionCallOutputEvent) TimelineItem {
	return TimelineItem{Output: &e}
}

// Timeline builds the timeline for a conversation.
func Timeline(conversation []domain.Message) []TimelineItem {
	out := make([]TimelineItem, 0, len(conversation))
	for _, m := range conversation {
		out = append(out, MessageItem(m))
	}
	return out
}

// Request is one call to a model.
type Request struct {
	Model        string
	Conversation []domain.Message
	Timeline     []TimelineItem
	Options      map[string]any
	Tools        []domain.Tool
}

// Usage counts the tokens of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// Response is the model's reply. Message carries any tool calls.
type Response struct {
	Message domain.Message
	Usage   Usage
}

// Provider is a model backend.
type Provider interface {
	Name() string
	Call(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function into a Provider.
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) (Response, error)
}

func (f Func) Name() string { return f.ProviderName }

func (f Func) Call(ctx context.Context, req Request) (Response, error) {
	return f.Fn(ctx, req)
}
