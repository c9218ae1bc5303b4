package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/dispatch"
)

// Engine is the part of the dispatch engine the REPL drives.
type Engine interface {
	Dispatch(ctx context.Context, message string) (dispatch.Result, error)
	Reset(ctx context.Context) error
	Transcript(n int) []conversation.Turn
	Configuration() dispatch.Config
	ApplyConfiguration(cfg dispatch.Config) error
}

// SettingsFunc edits a configuration interactively.
type SettingsFunc func(ctx context.Context, cfg dispatch.Config) (dispatch.Config, error)

// REPL reads messages line by line and dispatches them. Lines starting with
// a slash are commands.
type REPL struct {
	Engine    Engine
	Presenter *Presenter
	In        io.Reader

	// EditSettings backs /settings. Nil disables the command.
	EditSettings SettingsFunc

	// SaveSettings persists a configuration accepted by /settings. Optional.
	SaveSettings func(cfg dispatch.Config) error

	// Prompt is printed before each line when non-empty.
	Prompt string
}

const helpText = `Commands:
  /history [n]  show the last n turns (all when n is 0)
  /clear        start a new conversation
  /settings     edit the assistant settings
  /help         show this help
  /quit         leave`

// Run replays the recent transcript, then serves lines until the input ends,
// /quit is entered or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	r.Presenter.Transcript(r.Engine.Transcript(dispatch.DefaultTranscriptTurns))

	scanner := bufio.NewScanner(r.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if r.Prompt != "" {
			r.Presenter.printf("%s", r.Prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				r.Presenter.Status(err.Error(), true)
			}
			if quit {
				return nil
			}
			continue
		}

		if _, err := r.Engine.Dispatch(ctx, line); err != nil {
			if errors.Is(err, dispatch.ErrBusy) {
				r.Presenter.Status("Still answering the previous message.", true)
				continue
			}
			r.Presenter.Status(err.Error(), true)
		}
	}
}

func (r *REPL) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.Presenter.Println(helpText)
	case "/clear":
		return false, r.Engine.Reset(ctx)
	case "/history":
		n := dispatch.DefaultTranscriptTurns
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v < 0 {
				return false, fmt.Errorf("invalid turn count %q", arg)
			}
			n = v
		}
		r.Presenter.Transcript(r.Engine.Transcript(n))
	case "/settings":
		return false, r.settings(ctx)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

func (r *REPL) settings(ctx context.Context) error {
	if r.EditSettings == nil {
		return errors.New("settings are not available here")
	}
	cfg, err := r.EditSettings(ctx, r.Engine.Configuration())
	if err != nil {
		return err
	}
	if err := r.Engine.ApplyConfiguration(cfg); err != nil {
		return err
	}
	if r.SaveSettings != nil {
		if err := r.SaveSettings(cfg); err != nil {
			return fmt.Errorf("settings applied but not saved: %w", err)
		}
	}
	r.Presenter.Status("Settings updated", false)
	return nil
}
