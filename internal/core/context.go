// Package core assembles the chatbot from modules. A module registers itself
// at init time, receives its section of the configuration file, and publishes
// services other modules and the application look up by name.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// Service names shared between modules and the application.
const (
	ServiceEngine  = "dispatch.engine"
	ServiceKV      = "persist.kv"
	ServiceMetrics = "telemetry.metrics"
	ServiceConfig  = "config.path"
	ServiceEvents  = "gateway.events"
)

// Service lookup errors.
var (
	ErrNoService   = errors.New("core: service not registered")
	ErrServiceType = errors.New("core: service has unexpected type")
)

// AppContext is what a module sees of the application: a logger tagged with
// its ID, the data directory, its configuration section and the shared
// service table.
type AppContext struct {
	Logger  *slog.Logger
	DataDir string

	base     *slog.Logger
	sections map[string]yaml.Node
	services *serviceTable
}

// NewAppContext returns a root context. A nil logger means slog.Default.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:   logger,
		DataDir:  dataDir,
		base:     logger,
		services: &serviceTable{byName: make(map[string]any)},
	}
}

// WithModuleConfigs returns a copy of ctx that hands each module the node
// stored under its ID. The service table stays shared.
func (ctx *AppContext) WithModuleConfigs(sections map[string]yaml.Node) *AppContext {
	next := *ctx
	next.sections = sections
	return &next
}

// ForModule returns a copy of ctx whose logger carries the module ID.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	next := *ctx
	next.Logger = ctx.base.With("module", string(id))
	return &next
}

// section returns the configuration node stored for id.
func (ctx *AppContext) section(id ModuleID) (*yaml.Node, bool) {
	node, ok := ctx.sections[string(id)]
	if !ok {
		return nil, false
	}
	return &node, true
}

// RegisterService publishes svc under name, replacing any earlier value.
func (ctx *AppContext) RegisterService(name string, svc any) {
	ctx.services.put(name, svc)
}

// Service looks up the service registered under name and asserts it to T.
func Service[T any](ctx *AppContext, name string) (T, error) {
	var zero T
	raw, ok := ctx.services.get(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNoService, name)
	}
	svc, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrServiceType, name, raw)
	}
	return svc, nil
}

type serviceTable struct {
	mu     sync.RWMutex
	byName map[string]any
}

func (t *serviceTable) put(name string, svc any) {
	t.mu.Lock()
	t.byName[name] = svc
	t.mu.Unlock()
}

func (t *serviceTable) get(name string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	svc, ok := t.byName[name]
	return svc, ok
}
