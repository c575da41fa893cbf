package graphexec

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

// countingLifecycle returns a manager whose disposal is observable instead
// of freeing real buffers.
func countingLifecycle(frozen sets.Set[string]) (*lifecycleManager, *int) {
	lm := newLifecycleManager(frozen)
	disposed := new(int)
	lm.dispose = func([]*tensors.Tensor) { *disposed++ }
	return lm, disposed
}

func TestLifecycleDisposesOnce(t *testing.T) {
	lm, disposed := countingLifecycle(sets.Make[string]())
	producer := &Node{Name: "b", Category: CategoryBasicMath}

	lm.track("b", []*tensors.Tensor{scalarF32(1)}, 2)
	lm.release(producer, "b")
	require.Equal(t, 0, *disposed, "a remaining consumer keeps the value alive")
	lm.release(producer, "b")
	require.Equal(t, 1, *disposed)

	// The value is gone; another release is an accounting bug.
	require.Panics(t, func() { lm.release(producer, "b") })
}

func TestLifecycleFrozenNeverDisposed(t *testing.T) {
	frozen := sets.Make[string]()
	frozen.Insert("x")
	lm, disposed := countingLifecycle(frozen)

	// Frozen producers are skipped outright, tracked or not.
	lm.release(&Node{Name: "x"}, "x")
	require.Equal(t, 0, *disposed)
}

func TestLifecycleControlAndNilProducers(t *testing.T) {
	lm, disposed := countingLifecycle(sets.Make[string]())
	lm.release(nil, "w")
	lm.release(&Node{Name: "sw", Category: CategoryControl}, "sw")
	require.Equal(t, 0, *disposed)
}

func TestLifecycleUntrackedRelease(t *testing.T) {
	lm, _ := countingLifecycle(sets.Make[string]())
	require.Panics(t, func() {
		lm.release(&Node{Name: "b", Category: CategoryBasicMath}, "b")
	})
}

func TestLifecycleDoubleTrack(t *testing.T) {
	lm, _ := countingLifecycle(sets.Make[string]())
	lm.track("b", nil, 1)
	require.Panics(t, func() { lm.track("b", nil, 1) })
}

func TestLifecycleZeroConsumersNotTracked(t *testing.T) {
	lm, _ := countingLifecycle(sets.Make[string]())
	lm.track("b", nil, 0)
	require.Empty(t, lm.consumers)
}

func TestLifecycleMarkKept(t *testing.T) {
	lm, disposed := countingLifecycle(sets.Make[string]())
	lm.track("k", []*tensors.Tensor{scalarF32(1)}, 1)
	lm.markKept("k")
	lm.release(&Node{Name: "k", Category: CategoryBasicMath}, "k")
	require.Equal(t, 0, *disposed, "kept values drain their count but are never disposed")
}

func TestLifecycleDisposeAll(t *testing.T) {
	lm, disposed := countingLifecycle(sets.Make[string]())
	lm.track("b1", []*tensors.Tensor{scalarF32(1)}, 1)
	lm.track("b2", []*tensors.Tensor{scalarF32(2)}, 3)
	lm.disposeAll()
	require.Equal(t, 2, *disposed)
	require.Empty(t, lm.consumers)
	require.Empty(t, lm.values)
}

func TestRetainedTensors(t *testing.T) {
	r := newRetainedTensors()
	original := vecF32(1, 2, 3)
	r.retain("b", []*tensors.Tensor{original, nil})

	got := r.tensors()
	require.Len(t, got, 1)
	require.Len(t, got["b"], 2)
	require.NotSame(t, original, got["b"][0], "retention stores clones")
	require.Nil(t, got["b"][1], "dead slots are retained as dead")
	require.Equal(t, []float32{1, 2, 3}, f32Values(t, got["b"][0]))

	r.disposeAll()
	require.Empty(t, r.tensors())
}

func TestCloneTensor(t *testing.T) {
	original := vecF32(4, 5)
	clone := cloneTensor(original)
	require.NotSame(t, original, clone)
	require.True(t, original.Shape().Equal(clone.Shape()))
	require.Equal(t, []float32{4, 5}, f32Values(t, clone))
}
