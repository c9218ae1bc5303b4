package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/chatbot/internal/config"
	"github.com/flemzord/chatbot/internal/core"
	"github.com/flemzord/chatbot/internal/dispatch"
)

// Applier receives the reloaded assistant configuration.
type Applier interface {
	ApplyConfiguration(cfg dispatch.Config) error
}

// Handler reloads the configuration file and hands the result to the
// engine and to modules implementing core.Reloader.
type Handler struct {
	app    *core.App
	engine Applier
	appCtx *core.AppContext
	logger *slog.Logger

	onApplied func(cfg *config.Config)
}

// NewHandler creates a reload handler. app may be nil when no modules are
// loaded.
func NewHandler(app *core.App, engine Applier, appCtx *core.AppContext, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{app: app, engine: engine, appCtx: appCtx, logger: logger}
}

// OnApplied registers fn to run after each successful reload. Call it before
// the handler is shared.
func (h *Handler) OnApplied(fn func(cfg *config.Config)) {
	h.onApplied = fn
}

// HandleReload loads and validates path, then applies it. A file that fails
// to load or validate leaves the running configuration untouched.
func (h *Handler) HandleReload(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.Apply(ctx, cfg)
}

// Apply applies an already validated configuration.
func (h *Handler) Apply(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	if err := h.engine.ApplyConfiguration(cfg.Assistant); err != nil {
		return fmt.Errorf("applying assistant configuration: %w", err)
	}

	if h.app != nil {
		if err := h.app.ReloadModules(h.appCtx.WithModuleConfigs(cfg.Modules)); err != nil {
			return fmt.Errorf("reloading modules: %w", err)
		}
	}

	if h.onApplied != nil {
		h.onApplied(cfg)
	}
	h.logger.Info("configuration reloaded")
	return nil
}
