package graphexec

import (
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// TensorMap stores the output values produced by each node, keyed by
// context-qualified identity. A nil entry in a value list marks a dead
// output slot (the untaken branch of a Switch). A TensorMap is created
// fresh per execution call and owned exclusively by the scheduling loop.
type TensorMap struct {
	values map[string][]*tensors.Tensor
}

// NewTensorMap returns an empty TensorMap.
func NewTensorMap() *TensorMap {
	return &TensorMap{values: make(map[string][]*tensors.Tensor)}
}

// Set stores the value list for a qualified identity.
func (tm *TensorMap) Set(key string, values []*tensors.Tensor) {
	tm.values[key] = values
}

// Has reports whether the qualified identity has been populated.
func (tm *TensorMap) Has(key string) bool {
	_, found := tm.values[key]
	return found
}

// Get returns the value list stored for a qualified identity, or nil.
func (tm *TensorMap) Get(key string) []*tensors.Tensor {
	return tm.values[key]
}

// Len returns the number of populated identities.
func (tm *TensorMap) Len() int { return len(tm.values) }

// Keys returns the populated identities, sorted.
func (tm *TensorMap) Keys() []string {
	return slices.Sorted(maps.Keys(tm.values))
}

// Lookup resolves a producer name under the given context, trying the
// current frame stack first and falling back to enclosing frames down to
// the root context. It returns the value list and the qualified key it was
// found under.
func (tm *TensorMap) Lookup(name string, ec *ExecutionContext) (values []*tensors.Tensor, key string, found bool) {
	for _, contextID := range ec.IDChain() {
		key = QualifiedName(name, contextID)
		if values, found = tm.values[key]; found {
			return values, key, true
		}
	}
	return nil, "", false
}

// LookupSlot resolves one input reference under the given context. The
// returned tensor is nil when the producer has not run or produced a dead
// slot.
func (tm *TensorMap) LookupSlot(ref InputRef, ec *ExecutionContext) (t *tensors.Tensor, key string, found bool) {
	values, key, found := tm.Lookup(ref.Name, ec)
	if !found || ref.Slot >= len(values) {
		return nil, key, found
	}
	return values[ref.Slot], key, true
}
