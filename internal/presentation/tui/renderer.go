package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/aretw0/weft/pkg/domain"
)

// NewRenderer returns a function that renders markdown using glamour.
// Rendering falls back to the raw text when no renderer can be built.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// FormatMessage turns a message into markdown: its text followed by a list
// of the attachments it carries.
func FormatMessage(msg domain.Message) string {
	var sb strings.Builder
	sb.WriteString(msg.TextContent())
	var files []string
	for _, b := range msg.BlockList() {
		if b.Attachment == nil {
			continue
		}
		name := b.Attachment.Name
		if b.Attachment.LocalPath != "" {
			name += " (`" + b.Attachment.LocalPath + "`)"
		}
		files = append(files, "- "+name)
	}
	if len(files) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("**Attachments**\n\n")
		sb.WriteString(strings.Join(files, "\n"))
	}
	return sb.String()
}
