package graphexec

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// lifecycleManager reclaims intermediate tensors while a run proceeds. Every
// tracked value carries a remaining-consumer count; when the count reaches
// zero and the value is neither frozen (inputs, weights, requested outputs)
// nor explicitly kept, it is disposed immediately.
//
// Control-flow nodes bypass this accounting entirely: their dependency shape
// is not a static DAG, so neither their outputs are tracked nor do they
// decrement their producers.
type lifecycleManager struct {
	// frozen holds base node names whose values must survive the run.
	frozen sets.Set[string]

	// consumers and values are keyed by context-qualified identity.
	consumers map[string]int
	values    map[string][]*tensors.Tensor
	kept      sets.Set[string]

	// dispose is the actual reclamation; replaced in tests to observe
	// disposal without freeing real buffers.
	dispose func(values []*tensors.Tensor)
}

func newLifecycleManager(frozen sets.Set[string]) *lifecycleManager {
	return &lifecycleManager{
		frozen:    frozen,
		consumers: make(map[string]int),
		values:    make(map[string][]*tensors.Tensor),
		kept:      sets.Make[string](),
		dispose:   finalizeTensors,
	}
}

func finalizeTensors(values []*tensors.Tensor) {
	for _, t := range values {
		if t != nil {
			t.FinalizeAll()
		}
	}
}

// track registers a freshly stored value list with its remaining-consumer
// count. Values with no data consumers, frozen values and control-node
// outputs are never tracked.
func (l *lifecycleManager) track(key string, values []*tensors.Tensor, numConsumers int) {
	if numConsumers <= 0 {
		return
	}
	if _, found := l.consumers[key]; found {
		exceptions.Panicf("lifecycle: value %q tracked twice", key)
	}
	l.consumers[key] = numConsumers
	l.values[key] = values
}

// markKept flags a value for long-lived retention: its count still drains,
// but it is never disposed by release.
func (l *lifecycleManager) markKept(key string) {
	l.kept.Insert(key)
}

// release records that one consumer of the producer's value stored at key
// has read it. producer may be nil for caller-supplied inputs and weights,
// which are frozen and skipped. Decrementing a value that was never tracked
// is a bug in the accounting and fails fast.
func (l *lifecycleManager) release(producer *Node, key string) {
	if producer == nil || producer.Category == CategoryControl {
		return
	}
	if l.frozen.Has(producer.Name) {
		return
	}
	count, found := l.consumers[key]
	if !found {
		exceptions.Panicf("lifecycle: release of untracked value %q (node %q)", key, producer.Name)
	}
	count--
	if count < 0 {
		exceptions.Panicf("lifecycle: negative remaining-consumer count for %q", key)
	}
	if count > 0 {
		l.consumers[key] = count
		return
	}
	values := l.values[key]
	delete(l.consumers, key)
	delete(l.values, key)
	if l.kept.Has(key) {
		return
	}
	l.dispose(values)
}

// disposeAll eagerly reclaims every still-tracked value: on error paths so
// partially produced intermediates do not leak, and at the end of a
// successful run for values whose remaining consumers were never executed.
func (l *lifecycleManager) disposeAll() {
	for _, key := range slices.Sorted(maps.Keys(l.values)) {
		if !l.kept.Has(key) {
			l.dispose(l.values[key])
		}
	}
	l.consumers = make(map[string]int)
	l.values = make(map[string][]*tensors.Tensor)
}

// retainedTensors is the debug-retention side channel: an opt-in clone of
// every intermediate value produced during a run, independent of disposal
// accounting. Keeping it separate from lifecycleManager avoids double-free
// and premature-disposal hazards when both mechanisms are active.
type retainedTensors struct {
	values map[string][]*tensors.Tensor
}

func newRetainedTensors() *retainedTensors {
	return &retainedTensors{values: make(map[string][]*tensors.Tensor)}
}

// retain clones and stores the value list under its qualified identity.
func (r *retainedTensors) retain(key string, values []*tensors.Tensor) {
	clones := make([]*tensors.Tensor, len(values))
	for ii, t := range values {
		if t != nil {
			clones[ii] = cloneTensor(t)
		}
	}
	r.values[key] = clones
}

// tensors returns the retained clones keyed by qualified identity.
func (r *retainedTensors) tensors() map[string][]*tensors.Tensor {
	return maps.Clone(r.values)
}

// disposeAll releases every retained clone.
func (r *retainedTensors) disposeAll() {
	for _, values := range r.values {
		finalizeTensors(values)
	}
	r.values = make(map[string][]*tensors.Tensor)
}

// cloneTensor deep-copies a tensor, so the clone's lifetime is independent
// of the original's.
func cloneTensor(t *tensors.Tensor) *tensors.Tensor {
	clone := tensors.FromShape(t.Shape())
	clone.CopyFrom(t)
	return clone
}
