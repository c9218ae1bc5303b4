package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// stopTimeout bounds how long Stop waits for all modules together.
const stopTimeout = 30 * time.Second

// App owns a set of loaded modules and drives their lifecycle.
type App struct {
	ctx    *AppContext
	logger *slog.Logger

	loaded  []loadedModule
	running []loadedModule // start order; Stop pops from the end
}

type loadedModule struct {
	id  ModuleID
	mod Module
}

// NewApp returns an App whose modules are loaded against ctx.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// Context returns the AppContext modules were loaded with.
func (a *App) Context() *AppContext {
	return a.ctx
}

// LoadModules loads the given modules in order. If one fails, the modules
// loaded so far are released and forgotten.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.release(a.loaded)
			a.loaded = nil
			return err
		}
		lm := loadedModule{id: mod.ModuleInfo().ID, mod: mod}
		a.loaded = append(a.loaded, lm)
		a.logger.Info("module loaded", "module", string(lm.id))
	}
	return nil
}

// Modules returns the IDs of the loaded modules in load order.
func (a *App) Modules() []ModuleID {
	ids := make([]ModuleID, 0, len(a.loaded))
	for _, lm := range a.loaded {
		ids = append(ids, lm.id)
	}
	return ids
}

// Start starts the loaded modules in load order. Modules without a Start
// hook join the running set directly so Stop still releases them. On
// failure the modules already running are stopped.
func (a *App) Start() error {
	for _, lm := range a.loaded {
		if s, ok := lm.mod.(Starter); ok {
			a.logger.Info("starting module", "module", string(lm.id))
			if err := s.Start(); err != nil {
				a.logger.Error("module start failed", "module", string(lm.id), "error", err)
				a.Stop()
				return fmt.Errorf("starting module %s: %w", lm.id, err)
			}
		}
		a.running = append(a.running, lm)
	}
	a.logger.Info("all modules started", "count", len(a.running))
	return nil
}

// Stop stops running modules in reverse start order. Calling it again is a
// no-op.
func (a *App) Stop() {
	running := a.running
	a.running = nil
	for i, j := 0, len(running)-1; i < j; i, j = i+1, j-1 {
		running[i], running[j] = running[j], running[i]
	}
	a.release(running)
}

// release calls Stop on each module in the given order, sharing one
// deadline. Errors are logged, not returned.
func (a *App) release(mods []loadedModule) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for _, lm := range mods {
		s, ok := lm.mod.(Stopper)
		if !ok {
			continue
		}
		a.logger.Info("stopping module", "module", string(lm.id))
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module stop failed", "module", string(lm.id), "error", err)
		}
	}
}

// ReloadModules hands every loaded Reloader a module-scoped copy of ctx.
// All modules are tried; their errors are joined.
func (a *App) ReloadModules(ctx *AppContext) error {
	var errs []error
	for _, lm := range a.loaded {
		r, ok := lm.mod.(Reloader)
		if !ok {
			continue
		}
		a.logger.Info("reloading module", "module", string(lm.id))
		if err := r.Reload(ctx.ForModule(lm.id)); err != nil {
			a.logger.Error("module reload failed", "module", string(lm.id), "error", err)
			errs = append(errs, fmt.Errorf("reloading module %s: %w", lm.id, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts the modules and blocks until ctx is done or the process gets
// SIGINT or SIGTERM, then stops them. SIGHUP calls onReload when set.
func (a *App) Run(ctx context.Context, onReload func()) error {
	if err := a.Start(); err != nil {
		return err
	}
	defer func() {
		a.Stop()
		a.logger.Info("shutdown complete")
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutdown requested", "reason", ctx.Err())
			return nil
		case sig := <-signals:
			if sig != syscall.SIGHUP {
				a.logger.Info("shutdown signal received", "signal", sig.String())
				return nil
			}
			a.logger.Info("reload signal received")
			if onReload != nil {
				onReload()
			}
		}
	}
}
