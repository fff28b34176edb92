package domain

import (
	"strings"
)

// Role is the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// MetaSource is the metadata key holding the id of the node that produced a message.
const MetaSource = "source"

// Message is the unit of data that flows along graph edges.
//
// Content is either plain text (Content) or an ordered block sequence (Blocks).
// A non-nil Blocks slice means the message carries block content and Content
// is ignored. Messages are treated as values: callers Clone before mutating.
type Message struct {
	Role         Role           `json:"role"`
	Content      string         `json:"content,omitempty"`
	Blocks       []Block        `json:"blocks,omitempty"`
	Name         string         `json:"name,omitempty"`
	ToolCallID   string         `json:"tool_call_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	Keep         bool           `json:"keep,omitempty"`
	PreserveRole bool           `json:"preserve_role,omitempty"`
}

// NewMessage builds a text message.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// NewBlockMessage builds a message with block content.
func NewBlockMessage(role Role, blocks ...Block) Message {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return Message{Role: role, Blocks: out}
}

// HasBlocks reports whether the content is a block sequence.
func (m Message) HasBlocks() bool {
	return m.Blocks != nil
}

// Clone returns a deep copy: blocks, attachment refs, metadata and tool calls
// are all copied so the result can be mutated independently.
func (m Message) Clone() Message {
	if m.Blocks != nil {
		blocks := make([]Block, len(m.Blocks))
		for i, b := range m.Blocks {
			blocks[i] = b.Clone()
		}
		m.Blocks = blocks
	}
	m.Metadata = CloneMap(m.Metadata)
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			calls[i] = c.Clone()
		}
		m.ToolCalls = calls
	}
	return m
}

// WithContent returns a clone whose content is replaced by text.
func (m Message) WithContent(text string) Message {
	c := m.Clone()
	c.Content = text
	c.Blocks = nil
	return c
}

// WithBlocks returns a clone whose content is replaced by blocks.
func (m Message) WithBlocks(blocks []Block) Message {
	c := m.Clone()
	c.Content = ""
	c.Blocks = make([]Block, len(blocks))
	for i, b := range blocks {
		c.Blocks[i] = b.Clone()
	}
	return c
}

// WithRole returns a clone with a different role.
func (m Message) WithRole(role Role) Message {
	c := m.Clone()
	c.Role = role
	return c
}

// WithMeta returns a clone with key set in the metadata.
func (m Message) WithMeta(key string, value any) Message {
	c := m.Clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	return c
}

// Source returns metadata.source, if any.
func (m Message) Source() string {
	s, _ := m.Metadata[MetaSource].(string)
	return s
}

// BlockList normalizes the content to a block sequence. String content becomes a
// single text block. The returned slice is a copy.
func (m Message) BlockList() []Block {
	if m.Blocks == nil {
		return []Block{TextBlock(m.Content)}
	}
	out := make([]Block, len(m.Blocks))
	for i, b := range m.Blocks {
		out[i] = b.Clone()
	}
	return out
}

// TextContent concatenates the description of every block with newlines.
func (m Message) TextContent() string {
	if m.Blocks == nil {
		return m.Content
	}
	parts := make([]string, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		if d := b.Describe(); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n")
}

// Attachments returns the attachment blocks of the message in order.
func (m Message) Attachments() []Block {
	var out []Block
	for _, b := range m.Blocks {
		if b.Type.IsAttachment() && b.Attachment != nil {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks role and block invariants.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return &MessageError{Reason: "invalid role " + string(m.Role)}
	}
	for _, b := range m.Blocks {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MessageError describes a message that violates the model invariants.
type MessageError struct {
	Reason string
}

func (e *MessageError) Error() string { return "invalid message: " + e.Reason }

func (e *MessageError) Unwrap() error { return ErrInvalidMessage }

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
