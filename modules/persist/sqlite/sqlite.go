// Package sqlite implements the persist.sqlite module: a key-value store in
// a local SQLite file that keeps the transcript across restarts. It uses
// modernc.org/sqlite (pure Go, no CGO), in WAL mode unless configured
// otherwise.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/chatbot/internal/core"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the persist.kv service.
type Module struct {
	config Config
	logger *slog.Logger
	kv     *KV
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "persist.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.config = m.config.resolve(ctx.DataDir)

	db, err := openDB(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.kv = &KV{db: db}
	ctx.RegisterService(core.ServiceKV, m.kv)

	m.logger.Info("sqlite persistence provisioned",
		"path", m.config.Path,
		"journal", m.config.Journal,
		"busy_timeout", m.config.BusyTimeout,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.kv.db.PingContext(context.Background()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("sqlite persistence stopping")
	if m.kv != nil {
		return m.kv.Close()
	}
	return nil
}

// KV returns the store. Only valid after Provision.
func (m *Module) KV() *KV {
	return m.kv
}
