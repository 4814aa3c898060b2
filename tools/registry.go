package tools

import (
	"sort"
	"sync"

	"github.com/strandlabs/strand/model"
)

// The registry is process-wide and populated at declaration time. During a
// run it is effectively immutable: registration happens when packages
// initialise, lookup happens when the model requests a call. Name collisions
// replace the prior entry, which is what lets a wrapper re-register a tool
// with a remote dispatcher while keeping the same model-visible name.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Tool)
)

// Register adds a tool to the registry, replacing any prior entry with the
// same name.
func Register(t *Tool) {
	registryMu.Lock()
	registry[t.Name()] = t
	registryMu.Unlock()
}

// Lookup returns the registered tool with the given name.
func Lookup(name string) (*Tool, bool) {
	registryMu.RLock()
	t, ok := registry[name]
	registryMu.RUnlock()
	return t, ok
}

// Unregister removes a tool by name. Primarily for tests.
func Unregister(name string) {
	registryMu.Lock()
	delete(registry, name)
	registryMu.Unlock()
}

// All returns every registered tool sorted by name.
func All() []*Tool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Tool, 0, len(registry))
	for _, t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns the adapter-facing definitions for the given tools.
func Definitions(ts ...*Tool) []model.ToolDef {
	defs := make([]model.ToolDef, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, t.Definition())
	}
	return defs
}
