package core

import (
	"errors"
	"fmt"
)

// ErrUnknownModule is returned when no module is registered under an ID.
var ErrUnknownModule = errors.New("core: unknown module")

// LoadError reports which load stage of a module failed.
type LoadError struct {
	Module ModuleID
	Stage  string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("module %s: %s: %v", e.Module, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadModule creates the module registered under id and runs its load
// stages: Configure with its section (skipped when the file has none),
// Provision with a module-scoped context, then Validate.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	mod := info.New()

	stages := []struct {
		name string
		run  func() error
	}{
		{"configure", func() error {
			c, ok := mod.(Configurable)
			if !ok {
				return nil
			}
			node, ok := ctx.section(info.ID)
			if !ok {
				return nil
			}
			return c.Configure(node)
		}},
		{"provision", func() error {
			if p, ok := mod.(Provisioner); ok {
				return p.Provision(ctx.ForModule(info.ID))
			}
			return nil
		}},
		{"validate", func() error {
			if v, ok := mod.(Validator); ok {
				return v.Validate()
			}
			return nil
		}},
	}
	for _, stage := range stages {
		if err := stage.run(); err != nil {
			return nil, &LoadError{Module: info.ID, Stage: stage.name, Err: err}
		}
	}
	return mod, nil
}
