package graphexec

import (
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/go-xla/pkg/types/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// This file implements the static execution path: compile once into a
// deterministic node order, then run strictly in that order.

// Compile analyzes the subgraph needed to produce outputNames from
// inputNames and returns its execution order. Orders are cached per
// canonical (sorted inputs | sorted outputs) key. Compilation fails when
// the subgraph needs the dynamic path (UnsupportedDynamicOpError) or when
// required ancestors have no supplied value (MissingInputsError).
func (e *Executor) Compile(inputNames, outputNames []string) ([]*Node, error) {
	key := compileKey(inputNames, outputNames)
	if order, found := e.compiled[key]; found {
		return order, nil
	}
	outputs, _, err := e.resolveOutputs(outputNames)
	if err != nil {
		return nil, err
	}
	inputs := sets.Make[string]()
	for _, name := range inputNames {
		inputs.Insert(name)
	}
	info := analyzeSubgraph(e.graph, inputs, outputs, e.weights)
	if info.dynamicNode != nil {
		return nil, &UnsupportedDynamicOpError{
			Node:       info.dynamicNode.Name,
			Op:         info.dynamicNode.Op,
			SyncInputs: info.syncInputs,
		}
	}
	if len(info.missingInputs) > 0 {
		return nil, &MissingInputsError{Missing: info.missingInputs, Outputs: outputNames}
	}
	order, err := orderNodes(e.graph, info.used, inputs, e.weights)
	if err != nil {
		return nil, err
	}
	e.compiled[key] = order
	klog.V(1).Infof("graphexec: compiled %q: %d nodes", key, len(order))
	return order, nil
}

// Execute runs the static path: every node result must be immediately
// ready, and the node order is the cached compilation for the given input
// and output sets. With no outputNames the graph's declared outputs are
// returned.
func (e *Executor) Execute(inputs map[string]*tensors.Tensor, outputNames ...string) ([]*tensors.Tensor, error) {
	keep := e.config.KeepIntermediateTensors
	e.retained.disposeAll()
	if len(outputNames) == 0 {
		outputNames = e.graph.OutputNames
	}
	if err := e.validateInputs(inputs); err != nil {
		return nil, err
	}
	_, outputRefs, err := e.resolveOutputs(outputNames)
	if err != nil {
		return nil, err
	}
	inputNames := slices.Sorted(maps.Keys(inputs))
	order, err := e.Compile(inputNames, outputNames)
	if err != nil {
		return nil, err
	}

	tm := NewTensorMap()
	ec := NewExecutionContext()
	lm := e.newRunLifecycle(e.frozenSet(inputNames, outputRefs))
	e.seed(tm, inputs)

	for _, node := range order {
		if tm.Has(node.Name) {
			// Seeded directly by the caller.
			continue
		}
		res, err := e.dispatch(node, tm, ec)
		if err != nil {
			lm.disposeAll()
			return nil, errors.WithMessagef(err, "executing node %q", node.Name)
		}
		if res.IsPending() {
			lm.disposeAll()
			return nil, &UnexpectedAsyncError{Node: node.Name, Op: node.Op}
		}
		e.store(node, node.Name, res.Values, tm, lm, keep)
		e.releaseInputs(node, tm, ec, lm)
	}

	out := make([]*tensors.Tensor, len(outputRefs))
	for ii, ref := range outputRefs {
		t, _, found := tm.LookupSlot(ref, ec)
		if !found || t == nil {
			lm.disposeAll()
			return nil, errors.Errorf("output %q was not produced by the compiled order, this is a bug", outputNames[ii])
		}
		out[ii] = t
	}
	// Values whose remaining consumers fell outside the compiled subgraph
	// never drain; sweep them now. Outputs are frozen and never tracked.
	lm.disposeAll()
	return out, nil
}

// seed populates a fresh tensor map with the weights and caller inputs.
func (e *Executor) seed(tm *TensorMap, inputs map[string]*tensors.Tensor) {
	for name, values := range e.weights {
		tm.Set(name, values)
	}
	for name, t := range inputs {
		tm.Set(name, []*tensors.Tensor{t})
	}
}

// newRunLifecycle builds the per-run lifecycle accounting, honoring the
// executor's dispose override.
func (e *Executor) newRunLifecycle(frozen sets.Set[string]) *lifecycleManager {
	lm := newLifecycleManager(frozen)
	if e.disposeFunc != nil {
		lm.dispose = e.disposeFunc
	}
	return lm
}

// frozenSet builds the set of base names whose values must never be
// disposed during the run: supplied inputs, weights, requested outputs.
func (e *Executor) frozenSet(inputNames []string, outputRefs []InputRef) sets.Set[string] {
	frozen := sets.Make[string]()
	for _, name := range inputNames {
		frozen.Insert(name)
	}
	for name := range e.weights {
		frozen.Insert(name)
	}
	for _, ref := range outputRefs {
		frozen.Insert(ref.Name)
	}
	return frozen
}

// store records a node's freshly produced values under key and registers
// them with the lifecycle manager (control nodes and frozen values are
// exempt from accounting).
func (e *Executor) store(node *Node, key string, values []*tensors.Tensor, tm *TensorMap, lm *lifecycleManager, keep bool) {
	tm.Set(key, values)
	if keep {
		e.retained.retain(key, values)
	}
	if node.Category == CategoryControl || lm.frozen.Has(node.Name) {
		return
	}
	lm.track(key, values, node.dataConsumers)
}

// releaseInputs drains one consumer from each value the node just read.
// Control nodes bypass disposal accounting entirely, and so does any value
// resolved from an enclosing frame: a later iteration may read it again.
func (e *Executor) releaseInputs(node *Node, tm *TensorMap, ec *ExecutionContext, lm *lifecycleManager) {
	if node.Category == CategoryControl {
		return
	}
	currentID := ec.CurrentID()
	for _, ref := range node.Inputs {
		if ref.Control {
			continue
		}
		producer := e.graph.Node(ref.Name)
		if producer == nil {
			// Weight or caller-supplied name: frozen.
			continue
		}
		_, key, found := tm.Lookup(ref.Name, ec)
		if !found || key != QualifiedName(ref.Name, currentID) {
			continue
		}
		lm.release(producer, key)
	}
}

// resolveOutputs maps requested output names ("name" or "name:slot") to
// their nodes and parsed references.
func (e *Executor) resolveOutputs(outputNames []string) ([]*Node, []InputRef, error) {
	nodes := make([]*Node, len(outputNames))
	refs := make([]InputRef, len(outputNames))
	for ii, name := range outputNames {
		ref := ParseRef(name)
		node := e.graph.Node(ref.Name)
		if node == nil {
			return nil, nil, &UnknownOutputError{Name: name}
		}
		nodes[ii] = node
		refs[ii] = ref
	}
	return nodes, refs, nil
}

// validateInputs checks that every supplied input names a node in the
// graph and that its shape and dtype match the node's declared constraints.
func (e *Executor) validateInputs(inputs map[string]*tensors.Tensor) error {
	for _, name := range slices.Sorted(maps.Keys(inputs)) {
		t := inputs[name]
		node := e.graph.Node(name)
		if node == nil {
			return errors.Errorf("input %q is not a node in graph %q", name, e.graph.Name)
		}
		if t == nil {
			return errors.Errorf("input %q has a nil tensor", name)
		}
		wantDType, hasDType := node.Attrs["dtype"].(dtypes.DType)
		wantDims, hasDims := node.AttrInts("shape")
		if !hasDType && !hasDims {
			continue
		}
		got := t.Shape()
		want := got.DType.String()
		if hasDType {
			want = wantDType.String()
		}
		want = formatShapeConstraint(want, wantDims)
		if hasDType && got.DType != wantDType {
			return &ShapeMismatchError{Input: name, Want: want, Got: got}
		}
		if hasDims {
			if len(wantDims) != got.Rank() {
				return &ShapeMismatchError{Input: name, Want: want, Got: got}
			}
			for axis, dim := range wantDims {
				if dim >= 0 && dim != got.Dim(axis) {
					return &ShapeMismatchError{Input: name, Want: want, Got: got}
				}
			}
		}
	}
	return nil
}
