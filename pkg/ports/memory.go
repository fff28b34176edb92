package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// MemoryStage tells a memory backend which phase of an agent turn is asking.
type MemoryStage string

const (
	MemoryStagePreGenThinking MemoryStage = "pre_gen_thinking"
	MemoryStageGen            MemoryStage = "gen"
	MemoryStagePostGen        MemoryStage = "post_gen_thinking"
	MemoryStageFinished       MemoryStage = "finished"
)

// MemoryQuery is the snapshot of an agent turn a retrieval is based on.
type MemoryQuery struct {
	NodeID    string
	Role      string
	InputText string
	Inputs    []domain.Message
}

// MemoryItem is one retrieved memory.
type MemoryItem struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemoryRetrieval is the result of a retrieval. Formatted is the text injected into prompts.
type MemoryRetrieval struct {
	Items     []MemoryItem
	Formatted string
}

// Empty reports whether the retrieval carries no prompt text.
func (r *MemoryRetrieval) Empty() bool {
	return r == nil || r.Formatted == ""
}

// MemoryWritePayload is what an agent hands to the memory backend at the end of a turn.
type MemoryWritePayload struct {
	NodeID         string
	Role           string
	InputsText     string
	InputSnapshot  []domain.Message
	OutputSnapshot *domain.Message
}

// Memory is a retrieval-and-update store consulted around generation.
type Memory interface {
	Retrieve(ctx context.Context, query MemoryQuery, stage MemoryStage) (*MemoryRetrieval, error)
	Update(ctx context.Context, payload MemoryWritePayload, stage MemoryStage) error
}
