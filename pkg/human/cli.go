package human

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/aretw0/weft/pkg/domain"
)

// CLIChannel prompts on a terminal (or any reader/writer pair) and reads one line per prompt.
type CLIChannel struct {
	reader   *bufio.Reader
	writer   io.Writer
	output   *termenv.Output
	renderer func(string) (string, error)

	lines     chan lineResult
	startOnce sync.Once
}

type lineResult struct {
	text string
	err  error
}

// CLIOption configures a CLIChannel.
type CLIOption func(*CLIChannel)

// WithMarkdown forces markdown rendering of the prompt header on or off.
// By default it is on only when the writer is a terminal.
func WithMarkdown(enabled bool) CLIOption {
	return func(c *CLIChannel) {
		if !enabled {
			c.renderer = nil
			return
		}
		c.renderer = newRenderer()
	}
}

// NewCLIChannel reads answers from r and writes prompts to w. Nil values mean stdin and stdout.
func NewCLIChannel(r io.Reader, w io.Writer, opts ...CLIOption) *CLIChannel {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	c := &CLIChannel{
		reader: bufio.NewReader(r),
		writer: w,
		output: termenv.NewOutput(w),
	}
	if isTerminal(w) {
		c.renderer = newRenderer()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return nil
	}
	return r.Render
}

func (c *CLIChannel) initPump() {
	c.startOnce.Do(func() {
		c.lines = make(chan lineResult)
		go c.pump()
	})
}

func (c *CLIChannel) pump() {
	for {
		text, err := c.reader.ReadString('\n')
		if text != "" {
			c.lines <- lineResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				c.lines <- lineResult{err: err}
			}
			close(c.lines)
			return
		}
	}
}

// Header formats the markdown shown before a prompt.
func Header(req PromptRequest) string {
	var b strings.Builder
	b.WriteString("## Human input required\n\n")
	if req.Inputs != "" {
		b.WriteString("**Inputs**\n\n")
		for _, line := range strings.Split(strings.TrimRight(req.Inputs, "\n"), "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	}
	if req.Task != "" {
		b.WriteString("**Task:** " + req.Task + "\n\n")
	}
	b.WriteString("**Node:** `" + req.NodeID + "`\n")
	return b.String()
}

// Request prints the header and blocks until a line is read or ctx ends.
func (c *CLIChannel) Request(ctx context.Context, req PromptRequest) (PromptResult, error) {
	c.initPump()

	header := Header(req)
	if c.renderer != nil {
		if rendered, err := c.renderer(header); err == nil {
			header = rendered
		}
	}
	fmt.Fprintln(c.writer, strings.TrimSpace(header))
	fmt.Fprint(c.writer, c.output.String("> ").Bold().Foreground(c.output.Color("#a78bfa")).String())

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.writer)
		if ctx.Err() == context.DeadlineExceeded {
			return PromptResult{}, fmt.Errorf("%w: node %s", domain.ErrPromptTimeout, req.NodeID)
		}
		return PromptResult{}, ctx.Err()
	case res, ok := <-c.lines:
		if !ok {
			return PromptResult{}, io.EOF
		}
		if res.err != nil {
			return PromptResult{}, res.err
		}
		text := Sanitize(strings.TrimRight(res.text, "\r\n"))
		return PromptResult{
			Text:     text,
			Blocks:   []domain.Block{domain.TextBlock(text)},
			Metadata: map[string]any{"channel": "cli"},
		}, nil
	}
}
