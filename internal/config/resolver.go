package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/chatbot/internal/core"
)

// Resolve returns the module IDs of the configuration in load order:
// persistence modules first, so they are provisioned before anything that
// reads the store and stopped last, then the rest sorted by ID.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(loadRank(a), loadRank(b)),
			cmp.Compare(a, b),
		)
	})
	return ids
}

func loadRank(id string) int {
	if core.ModuleID(id).Namespace() == "persist" {
		return 0
	}
	return 1
}
