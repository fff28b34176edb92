package weft

import (
	"errors"
	"fmt"

	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
)

// OriginUserUpload marks attachments registered from task input files.
const OriginUserUpload = "user_upload"

// TaskInput is the work handed to the Start node: either a prompt with
// optional files, or a ready conversation.
type TaskInput struct {
	Prompt   string
	Files    []TaskFile
	Messages []domain.Message
}

// TaskFile is a local file attached to the task prompt.
type TaskFile struct {
	Path        string
	Description string
}

// Prompt is a TaskInput holding only text.
func Prompt(text string) TaskInput {
	return TaskInput{Prompt: text}
}

// Resolve turns the input into the Start node's output. Files are
// registered in store and appended after the prompt text in one user
// message. A conversation must contain a user message.
func (t TaskInput) Resolve(store *attachment.Store) ([]domain.Message, error) {
	if len(t.Messages) > 0 {
		if t.Prompt != "" || len(t.Files) > 0 {
			return nil, errors.New("task input takes either messages or a prompt with files, not both")
		}
		hasUser := false
		for _, m := range t.Messages {
			if err := m.Validate(); err != nil {
				return nil, fmt.Errorf("task message: %w", err)
			}
			if m.Role == domain.RoleUser {
				hasUser = true
			}
		}
		if !hasUser {
			return nil, fmt.Errorf("%w: task messages need a user message", domain.ErrInvalidMessage)
		}
		return domain.CloneMessages(t.Messages), nil
	}

	if len(t.Files) == 0 {
		return []domain.Message{domain.NewMessage(domain.RoleUser, t.Prompt)}, nil
	}
	if store == nil {
		return nil, errors.New("task files need an attachment store")
	}
	blocks := make([]domain.Block, 0, len(t.Files)+1)
	if t.Prompt != "" {
		blocks = append(blocks, domain.TextBlock(t.Prompt))
	}
	for _, f := range t.Files {
		opts := []attachment.RegisterOption{
			attachment.WithExtra(map[string]any{"origin": OriginUserUpload}),
		}
		if f.Description != "" {
			opts = append(opts, attachment.WithDescription(f.Description))
		}
		rec, err := store.RegisterFile(f.Path, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", f.Path, err)
		}
		blocks = append(blocks, rec.Block())
	}
	return []domain.Message{domain.NewBlockMessage(domain.RoleUser, blocks...)}, nil
}

// TaskInputBuilder assembles a prompt with attached files.
type TaskInputBuilder struct {
	input TaskInput
}

// NewTaskInput starts a builder.
func NewTaskInput() *TaskInputBuilder {
	return &TaskInputBuilder{}
}

// WithPrompt sets the prompt text.
func (b *TaskInputBuilder) WithPrompt(text string) *TaskInputBuilder {
	b.input.Prompt = text
	return b
}

// AddFile attaches the file at path.
func (b *TaskInputBuilder) AddFile(path, description string) *TaskInputBuilder {
	b.input.Files = append(b.input.Files, TaskFile{Path: path, Description: description})
	return b
}

// Build returns the assembled input.
func (b *TaskInputBuilder) Build() TaskInput {
	out := b.input
	out.Files = append([]TaskFile(nil), b.input.Files...)
	return out
}
