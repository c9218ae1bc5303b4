// Package daemon runs the chatbot gateway as an operating system service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kardianos/service"
)

// DefaultName is the service name registered with the service manager.
const DefaultName = "chatbot"

const stopTimeout = 30 * time.Second

// ErrUnknownAction is returned by Control for actions the service manager
// does not support.
var ErrUnknownAction = errors.New("daemon: unknown action")

// RunFunc serves until ctx is cancelled.
type RunFunc func(ctx context.Context) error

// Config describes the installed service.
type Config struct {
	Name        string
	DisplayName string
	Description string

	// Arguments are passed to the executable when the service starts.
	Arguments []string
}

// Program adapts a RunFunc to the service manager's start and stop calls.
type Program struct {
	run    RunFunc
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewProgram wraps run.
func NewProgram(run RunFunc, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Program{run: run, logger: logger}
}

// Start launches run in the background. It must not block.
func (p *Program) Start(_ service.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("daemon: already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func(done chan<- error) {
		err := p.run(ctx)
		if err != nil {
			p.logger.Error("service run failed", "error", err)
		}
		done <- err
	}(p.done)

	p.logger.Info("service started")
	return nil
}

// Stop cancels run and waits for it to return.
func (p *Program) Stop(_ service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case err := <-done:
		p.logger.Info("service stopped")
		return err
	case <-time.After(stopTimeout):
		return fmt.Errorf("daemon: run did not stop within %s", stopTimeout)
	}
}

// New creates the service for prog.
func New(cfg Config, prog *Program) (service.Service, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Chatbot gateway"
	}
	if cfg.Description == "" {
		cfg.Description = "Serves the chatbot HTTP and websocket gateway."
	}

	svc, err := service.New(prog, &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   cfg.Arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	return svc, nil
}

// Actions lists the actions Control accepts.
func Actions() []string {
	return service.ControlAction[:]
}

// Control sends action to the service manager.
func Control(svc service.Service, action string) error {
	if !slices.Contains(Actions(), action) {
		return fmt.Errorf("%w %q, want one of %v", ErrUnknownAction, action, Actions())
	}
	if err := service.Control(svc, action); err != nil {
		return fmt.Errorf("daemon: %s: %w", action, err)
	}
	return nil
}
