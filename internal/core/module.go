package core

import (
	"context"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModuleID identifies a module. IDs are namespaced with dots, for example
// "persist.sqlite" or "gateway.http".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Module is implemented by everything the App can load.
type Module interface {
	ModuleInfo() ModuleInfo
}

// Optional lifecycle hooks, called in this order when present:
// Configure, Provision, Validate at load time; Start once every module is
// loaded; Reload on configuration changes; Stop in reverse start order.
type (
	Configurable interface {
		Configure(node *yaml.Node) error
	}
	Provisioner interface {
		Provision(ctx *AppContext) error
	}
	Validator interface {
		Validate() error
	}
	Starter interface {
		Start() error
	}
	Reloader interface {
		Reload(ctx *AppContext) error
	}
	Stopper interface {
		Stop(ctx context.Context) error
	}
)
