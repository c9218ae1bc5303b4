package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// registry holds the compiled-in modules. Modules add themselves from init
// functions, so a binary's module set is fixed by its imports.
type registry struct {
	mu   sync.RWMutex
	byID map[ModuleID]ModuleInfo
}

var modules = newRegistry()

func newRegistry() *registry {
	return &registry{byID: make(map[ModuleID]ModuleInfo)}
}

func (r *registry) add(info ModuleInfo) error {
	switch {
	case info.ID == "":
		return fmt.Errorf("module ID must not be empty")
	case strings.ContainsAny(string(info.ID), " \t\n"):
		return fmt.Errorf("module ID %q must not contain whitespace", info.ID)
	case info.New == nil:
		return fmt.Errorf("module %s: New must not be nil", info.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[info.ID]; dup {
		return fmt.Errorf("module %s registered twice", info.ID)
	}
	r.byID[info.ID] = info
	return nil
}

func (r *registry) get(id ModuleID) (ModuleInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[id]
	return info, ok
}

// filter returns the modules keep accepts, ordered by ID.
func (r *registry) filter(keep func(ModuleInfo) bool) []ModuleInfo {
	r.mu.RLock()
	out := make([]ModuleInfo, 0, len(r.byID))
	for _, info := range r.byID {
		if keep(info) {
			out = append(out, info)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b ModuleInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// RegisterModule makes a module loadable by ID. It panics on an invalid or
// duplicate ID, which is a programming error caught at startup.
func RegisterModule(instance Module) {
	if err := modules.add(instance.ModuleInfo()); err != nil {
		panic(err)
	}
}

// GetModule returns the module registered under id.
func GetModule(id string) (ModuleInfo, bool) {
	return modules.get(ModuleID(id))
}

// GetModules returns every registered module ordered by ID.
func GetModules() []ModuleInfo {
	return modules.filter(func(ModuleInfo) bool { return true })
}

// GetModulesByNamespace returns the modules of namespace ordered by ID.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return modules.filter(func(info ModuleInfo) bool {
		return info.ID.Namespace() == namespace
	})
}

// resetRegistry empties the registry. Tests only.
func resetRegistry() {
	modules = newRegistry()
}
