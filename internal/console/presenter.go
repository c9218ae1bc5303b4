// Package console renders the conversation in a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/flemzord/chatbot/internal/conversation"
)

const defaultWordWrap = 100

// Option configures a Presenter.
type Option func(*options)

type options struct {
	style    string
	wordWrap int
}

// WithStyle selects a glamour standard style such as "dark", "light" or
// "notty". The default detects the terminal background.
func WithStyle(style string) Option {
	return func(o *options) { o.style = style }
}

// WithWordWrap sets the column assistant replies are wrapped at.
func WithWordWrap(n int) Option {
	return func(o *options) { o.wordWrap = n }
}

// Presenter writes engine notifications to a terminal. Assistant turns are
// rendered as markdown.
type Presenter struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *glamour.TermRenderer
}

// NewPresenter creates a presenter writing to out.
func NewPresenter(out io.Writer, opts ...Option) (*Presenter, error) {
	o := options{wordWrap: defaultWordWrap}
	for _, opt := range opts {
		opt(&o)
	}

	styleOpt := glamour.WithAutoStyle()
	if o.style != "" {
		styleOpt = glamour.WithStandardStyle(o.style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(o.wordWrap))
	if err != nil {
		return nil, fmt.Errorf("console: creating renderer: %w", err)
	}
	return &Presenter{out: out, renderer: r}, nil
}

func (p *Presenter) ProcessingStarted() {
	p.printf("assistant is typing...\n")
}

func (p *Presenter) ProcessingEnded() {}

func (p *Presenter) AssistantTurn(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, p.render(text))
}

func (p *Presenter) Status(message string, isError bool) {
	if isError {
		p.printf("[error] %s\n", message)
		return
	}
	p.printf("[status] %s\n", message)
}

// Transcript writes turns in order. User turns are quoted, assistant turns
// are rendered, system turns are skipped.
func (p *Presenter) Transcript(turns []conversation.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleUser:
			fmt.Fprintf(p.out, "you> %s\n", t.Content)
		case conversation.RoleAssistant:
			fmt.Fprint(p.out, p.render(t.Content))
		}
	}
}

// Println writes a plain line.
func (p *Presenter) Println(line string) {
	p.printf("%s\n", line)
}

func (p *Presenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// render falls back to the raw text when markdown rendering fails.
func (p *Presenter) render(text string) string {
	out, err := p.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}
