package domain

// ToolCall is a function invocation requested by a model in an assistant message.
// Arguments holds the raw JSON text exactly as the provider returned it.
type ToolCall struct {
	ID        string `json:"id" yaml:"id" mapstructure:"id"`
	Type      string `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Name      string `json:"name" yaml:"name" mapstructure:"name"`
	Arguments string `json:"arguments,omitempty" yaml:"arguments,omitempty" mapstructure:"arguments"`

	// Metadata carries provider specific extras (e.g. call index).
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty" mapstructure:"metadata"`
}

// Clone returns a deep copy of the call.
func (c ToolCall) Clone() ToolCall {
	c.Metadata = CloneMap(c.Metadata)
	return c
}

// Tool defines metadata about a tool available to an agent.
// This is used for generating provider schemas.
type Tool struct {
	Name        string         `json:"name" yaml:"name" mapstructure:"name"`
	Description string         `json:"description" yaml:"description" mapstructure:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
}
