package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/weft/pkg/domain"
)

var humanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"description": map[string]any{"type": "string"},
	},
}

// ErrNoHumanService is returned when a human node runs without a prompt service.
var ErrNoHumanService = errors.New("no human prompt service configured")

// HumanConfig configures a human node.
type HumanConfig struct {
	Description string `mapstructure:"description"`
}

// Human asks the operator for input.
type Human struct {
	rc  *Context
	cfg HumanConfig
}

// NewHuman is the human factory.
func NewHuman(rc *Context, node domain.Node) (Executor, error) {
	var cfg HumanConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		return nil, fmt.Errorf("human %s: %w", node.ID, err)
	}
	if cfg.Description == "" {
		cfg.Description = node.Role
	}
	return &Human{rc: rc, cfg: cfg}, nil
}

func (h *Human) Execute(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error) {
	if err := h.rc.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	if h.rc.Human == nil {
		return nil, ErrNoHumanService
	}
	res, err := h.rc.Human.Request(ctx, node.ID, h.cfg.Description, Preview(inputs), map[string]any{"node_type": node.Type})
	if err != nil {
		return nil, err
	}
	msg := domain.NewBlockMessage(domain.RoleUser, res.Blocks...).WithMeta(domain.MetaSource, node.ID)
	if len(res.Metadata) > 0 {
		msg = msg.WithMeta("human", domain.CloneMap(res.Metadata))
	}
	return []domain.Message{msg}, nil
}

// Preview renders inputs as the text shown to an operator, one paragraph per message.
func Preview(inputs []domain.Message) string {
	parts := make([]string, 0, len(inputs))
	for _, m := range inputs {
		text := strings.TrimSpace(m.TextContent())
		if text == "" {
			continue
		}
		if src := m.Source(); src != "" {
			text = fmt.Sprintf("[%s] %s", src, text)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}
