package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// Invoker submits a conversation to the agent's model and returns the reply.
type Invoker func(ctx context.Context, conversation []domain.Message) (domain.Message, error)

// ThinkingRequest carries everything a thinking pass may look at.
// Generated is nil before generation.
type ThinkingRequest struct {
	Invoker      Invoker
	Conversation []domain.Message
	InputText    string
	Role         string
	Memory       *MemoryRetrieval
	Generated    *domain.Message
}

// ThinkingResult is either a bare string or a full message. Message wins when both are set.
type ThinkingResult struct {
	Text    string
	Message *domain.Message
}

// Thinking is a reasoning pass wrapped around the main provider call.
type Thinking interface {
	// BeforeGeneration reports whether Think runs before the provider call.
	BeforeGeneration() bool
	// AfterGeneration reports whether Think runs on the generated reply.
	AfterGeneration() bool
	Think(ctx context.Context, req ThinkingRequest) (ThinkingResult, error)
}
