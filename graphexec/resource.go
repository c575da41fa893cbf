package graphexec

import (
	"maps"
	"slices"
)

// ResourceRegistry is the external store of opaque stateful handles (lookup
// tables, variables) referenced by certain operations. The engine passes it
// through to kernels untouched; ownership stays with the caller, and nested
// function executors see the parent's registry by reference.
type ResourceRegistry struct {
	entries map[string]any
}

// NewResourceRegistry returns an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{entries: make(map[string]any)}
}

// Register stores a handle under a name, replacing any previous one.
func (r *ResourceRegistry) Register(name string, handle any) {
	r.entries[name] = handle
}

// Lookup returns the handle registered under name.
func (r *ResourceRegistry) Lookup(name string) (any, bool) {
	handle, found := r.entries[name]
	return handle, found
}

// Names returns the registered names, sorted.
func (r *ResourceRegistry) Names() []string {
	return slices.Sorted(maps.Keys(r.entries))
}
