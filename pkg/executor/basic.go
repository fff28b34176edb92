package executor

import (
	"context"
	"fmt"

	"github.com/aretw0/weft/pkg/domain"
)

var passthroughSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"only_last_message": map[string]any{"type": "boolean"},
	},
}

// PassthroughConfig configures a passthrough node.
type PassthroughConfig struct {
	OnlyLastMessage bool `mapstructure:"only_last_message"`
}

// Passthrough forwards its inputs unchanged.
type Passthrough struct {
	rc  *Context
	cfg PassthroughConfig
}

// NewPassthrough is the passthrough factory.
func NewPassthrough(rc *Context, node domain.Node) (Executor, error) {
	var cfg PassthroughConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		return nil, fmt.Errorf("passthrough %s: %w", node.ID, err)
	}
	return &Passthrough{rc: rc, cfg: cfg}, nil
}

func (p *Passthrough) Execute(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error) {
	if len(inputs) == 0 {
		return []domain.Message{domain.NewMessage(domain.RoleUser, "")}, nil
	}
	if p.cfg.OnlyLastMessage {
		if len(inputs) > 1 {
			p.rc.logger().Warn("passthrough dropping earlier inputs", "node", node.ID, "inputs", len(inputs))
			p.rc.Log.Warn(node.ID, "only_last_message dropped earlier inputs", map[string]any{"dropped": len(inputs) - 1})
		}
		return []domain.Message{inputs[len(inputs)-1].Clone()}, nil
	}
	return domain.CloneMessages(inputs), nil
}

var literalSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"content": map[string]any{"type": "string"},
		"role":    map[string]any{"enum": []any{"user", "assistant"}},
	},
	"required": []any{"content"},
}

// LiteralConfig configures a literal node.
type LiteralConfig struct {
	Content string `mapstructure:"content"`
	Role    string `mapstructure:"role"`
}

// Literal ignores its inputs and emits a fixed message.
type Literal struct {
	msg domain.Message
}

// NewLiteral is the literal factory. Role defaults to user.
func NewLiteral(_ *Context, node domain.Node) (Executor, error) {
	var cfg LiteralConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		return nil, fmt.Errorf("literal %s: %w", node.ID, err)
	}
	role := domain.RoleUser
	if cfg.Role == string(domain.RoleAssistant) {
		role = domain.RoleAssistant
	}
	msg := domain.NewMessage(role, cfg.Content)
	msg.PreserveRole = true
	return &Literal{msg: msg}, nil
}

func (l *Literal) Execute(ctx context.Context, node domain.Node, _ []domain.Message) ([]domain.Message, error) {
	return []domain.Message{l.msg.WithMeta(domain.MetaSource, node.ID)}, nil
}

var loopCounterSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"max_iterations": map[string]any{"type": "integer", "minimum": 1},
		"reset_on_emit":  map[string]any{"type": "boolean"},
		"message":        map[string]any{"type": "string"},
	},
	"required": []any{"max_iterations"},
}

// DefaultLoopMessage is emitted by a loop counter with no message configured.
const DefaultLoopMessage = "Loop limit reached"

// LoopCounterConfig configures a loop_counter node.
type LoopCounterConfig struct {
	MaxIterations int    `mapstructure:"max_iterations"`
	ResetOnEmit   *bool  `mapstructure:"reset_on_emit"`
	Message       string `mapstructure:"message"`
}

// LoopCounter stays silent until it has been hit MaxIterations times.
type LoopCounter struct {
	rc      *Context
	max     int
	reset   bool
	message string
}

// NewLoopCounter is the loop_counter factory.
func NewLoopCounter(rc *Context, node domain.Node) (Executor, error) {
	var cfg LoopCounterConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		return nil, fmt.Errorf("loop_counter %s: %w", node.ID, err)
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("loop_counter %s: max_iterations must be >= 1", node.ID)
	}
	lc := &LoopCounter{rc: rc, max: cfg.MaxIterations, reset: true, message: cfg.Message}
	if cfg.ResetOnEmit != nil {
		lc.reset = *cfg.ResetOnEmit
	}
	if lc.message == "" {
		lc.message = DefaultLoopMessage
	}
	return lc, nil
}

func (l *LoopCounter) Execute(ctx context.Context, node domain.Node, _ []domain.Message) ([]domain.Message, error) {
	key := "loop_counter:" + node.ID
	count := l.rc.Increment(key)
	if count < l.max {
		l.rc.Log.Debug(node.ID, "loop counter below limit", map[string]any{"count": count, "max": l.max})
		return nil, nil
	}
	if l.reset {
		l.rc.ResetCounter(key)
	}
	msg := domain.NewMessage(domain.RoleAssistant, l.message).
		WithMeta(domain.MetaSource, node.ID).
		WithMeta("loop_counter", map[string]any{
			"count":         count,
			"max":           l.max,
			"reset_on_emit": l.reset,
		})
	return []domain.Message{msg}, nil
}
