// Package app assembles the chatbot from its configuration file: logging,
// tracing, metrics, modules, the persisted transcript and the dispatch engine.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flemzord/chatbot/internal/config"
	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/core"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/internal/persist"
	"github.com/flemzord/chatbot/internal/reload"
	"github.com/flemzord/chatbot/internal/security"
	"github.com/flemzord/chatbot/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Params configures Build.
type Params struct {
	// ConfigPath is an explicit configuration file. When empty the standard
	// search paths are used, and defaults apply when none exists.
	ConfigPath string

	// DataDir overrides data_dir from the configuration.
	DataDir string

	// Version is logged at startup.
	Version string

	// LogOutput receives the application log. Defaults to os.Stderr.
	LogOutput io.Writer

	// Presenters receive engine notifications in addition to the log.
	Presenters []dispatch.Presenter

	// Modules selects which configured modules are loaded. Nil loads all.
	Modules func(id core.ModuleID) bool
}

// PersistenceOnly loads the persistence modules and nothing else. Commands
// that work on the transcript without serving use it.
func PersistenceOnly(id core.ModuleID) bool {
	return id.Namespace() == "persist"
}

// Runtime is an assembled chatbot.
type Runtime struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Engine     *dispatch.Engine
	Store      *conversation.Store
	Metrics    *telemetry.Metrics

	app      *core.App
	appCtx   *core.AppContext
	redactor *security.Redactor
	tracing  telemetry.ShutdownFunc

	reloadMu  sync.Mutex
	closeOnce sync.Once
}

// Build loads and validates the configuration, then provisions every
// selected module and wires the engine. Modules are not started.
func Build(ctx context.Context, params Params) (*Runtime, error) {
	cfg, cfgPath, err := config.LoadOrDefault(params.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	redactor.AddLiteral(cfg.Assistant.ResolveAPIKey())
	logger, err := NewLogger(cfg.Logging, cmpWriter(params.LogOutput), redactor)
	if err != nil {
		return nil, err
	}
	logger.Info("chatbot starting", "version", params.Version, "config", cfgPath)

	tp, shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	metrics := telemetry.NewMetrics()

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(core.ServiceMetrics, metrics)
	appCtx.RegisterService(core.ServiceConfig, cfgPath)

	ids := config.Resolve(cfg)
	if params.Modules != nil {
		selected := ids[:0]
		for _, id := range ids {
			if params.Modules(core.ModuleID(id)) {
				selected = append(selected, id)
			}
		}
		ids = selected
	}

	application := core.NewApp(appCtx)
	if err := application.LoadModules(ids); err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	kv, err := core.Service[persist.KV](appCtx, core.ServiceKV)
	if err != nil {
		logger.Warn("no persistence module loaded, the transcript lives in memory only")
		kv = persist.NewMemory()
	}

	store := conversation.NewStore(kv,
		conversation.WithKey(cfg.History.Key),
		conversation.WithMaxTurns(cfg.Assistant.MaxHistory),
		conversation.WithLogger(logger.With("component", "conversation")),
	)
	restored := store.Load(ctx)
	logger.Info("transcript restored", "turns", restored)

	presenters := dispatch.Presenters{logPresenter{logger: logger.With("component", "presenter")}}
	presenters = append(presenters, params.Presenters...)
	if events, err := core.Service[dispatch.Presenter](appCtx, core.ServiceEvents); err == nil {
		presenters = append(presenters, events)
	}

	engine, err := dispatch.New(store, cfg.Assistant,
		dispatch.WithPresenter(presenters),
		dispatch.WithLogger(logger.With("component", "dispatch")),
		dispatch.WithMetrics(metrics),
		dispatch.WithTracerProvider(tp),
	)
	if err != nil {
		application.Stop()
		_ = shutdownTracing(ctx)
		return nil, err
	}
	metrics.HistorySize(store.Len())
	appCtx.RegisterService(core.ServiceEngine, engine)

	return &Runtime{
		Config:     cfg,
		ConfigPath: cfgPath,
		Logger:     logger,
		Engine:     engine,
		Store:      store,
		Metrics:    metrics,
		app:        application,
		appCtx:     appCtx,
		redactor:   redactor,
		tracing:    shutdownTracing,
	}, nil
}

// Modules returns the IDs of the loaded modules.
func (r *Runtime) Modules() []core.ModuleID {
	return r.app.Modules()
}

// Start starts the loaded modules.
func (r *Runtime) Start() error {
	return r.app.Start()
}

// Close stops the modules and flushes traces. Safe to call more than once.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.app.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.tracing(ctx); err != nil {
			r.Logger.Warn("trace shutdown failed", "error", err)
		}
	})
}

// Serve starts the modules and blocks until ctx is done or a termination
// signal arrives. SIGHUP and edits of the configuration file re-apply it.
func (r *Runtime) Serve(ctx context.Context) error {
	defer r.Close()

	handler := r.ReloadHandler()
	reloadFn := func() {
		if err := r.Reload(ctx, handler); err != nil {
			r.Logger.Error("reload failed", "error", err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: r.ConfigPath})
	watcher.Start(watchCtx)
	defer watcher.Stop()

	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case ev := <-watcher.Events():
				r.Logger.Info("configuration file changed", "path", ev.ConfigPath)
				reloadFn()
			}
		}
	}()

	return r.app.Run(ctx, reloadFn)
}

// ReloadHandler returns a reload handler bound to this runtime. Applied
// configurations update the log redactor with the new API key.
func (r *Runtime) ReloadHandler() *reload.Handler {
	h := reload.NewHandler(r.app, r.Engine, r.appCtx, r.Logger.With("component", "reload"))
	h.OnApplied(func(cfg *config.Config) {
		r.redactor.AddLiteral(cfg.Assistant.ResolveAPIKey())
	})
	return h
}

// Reload re-applies the configuration file. Concurrent reloads run one at
// a time.
func (r *Runtime) Reload(ctx context.Context, h *reload.Handler) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	if err := h.HandleReload(ctx, r.ConfigPath); err != nil {
		return fmt.Errorf("reloading %s: %w", r.ConfigPath, err)
	}
	return nil
}

// SaveAssistant persists an assistant configuration to the configuration
// file, keeping the rest of the file as it is.
func (r *Runtime) SaveAssistant(cfg dispatch.Config) error {
	return config.UpdateAssistant(r.ConfigPath, cfg)
}

// DefaultDataDir returns $XDG_DATA_HOME/chatbot, or ~/.local/share/chatbot.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "chatbot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".chatbot")
	}
	return filepath.Join(home, ".local", "share", "chatbot")
}

func cmpWriter(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}
