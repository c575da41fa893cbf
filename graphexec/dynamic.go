package graphexec

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// This file implements the control-flow-aware execution path: a work-stack
// scheduler that tolerates loops, conditionals and asynchronous kernels.

type stackItem struct {
	node   *Node
	frames []Frame
}

type pendingItem struct {
	node   *Node
	frames []Frame
	future *Future
}

// ExecuteAsync runs the graph with the control-flow-aware scheduler. It is
// always safe to call, also for purely static graphs, at the cost of the
// scheduling bookkeeping. With no outputNames the graph's declared outputs
// are returned.
//
// Scheduling is cooperative and single-threaded: the only suspension points
// are asynchronous kernels, whose futures are awaited jointly at the end of
// each pass. Ordering between nodes resolved in different passes is not
// guaranteed; within a pass it follows strict stack-pop order.
func (e *Executor) ExecuteAsync(inputs map[string]*tensors.Tensor, outputNames ...string) ([]*tensors.Tensor, error) {
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

	tm := NewTensorMap()
	ec := NewExecutionContext()
	lm := e.newRunLifecycle(e.frozenSet(slices.Sorted(maps.Keys(inputs)), outputRefs))
	e.seed(tm, inputs)

	// seeded marks the nodes whose values the caller supplied directly:
	// they are scheduled like any other node but never executed. Tensor-map
	// presence cannot stand in for this check, since NextIteration stores
	// its result under the advanced iteration, exactly where the next
	// instance of the same node pops.
	seeded := sets.Make[string]()
	for name := range inputs {
		seeded.Insert(name)
	}

	added := sets.Make[string]()
	var stack []stackItem

	// Seed the stack: initializer nodes run unconditionally, and every
	// node made ready by the seeded inputs and weights is scheduled.
	for _, name := range e.graph.InitNodes() {
		node := e.graph.Node(name)
		// Placeholders only run seeded; unseeded ones starve their
		// consumers and are reported as missing at the end.
		if node.Op == "Placeholder" || tm.Has(name) || added.Has(name) {
			continue
		}
		added.Insert(name)
		stack = append(stack, stackItem{node: node})
	}
	for _, name := range slices.Sorted(maps.Keys(inputs)) {
		e.scheduleChildren(name, tm, ec, added, &stack)
	}
	for _, name := range slices.Sorted(maps.Keys(e.weights)) {
		e.scheduleChildren(name, tm, ec, added, &stack)
	}

	sawDynamic := false
	for len(stack) > 0 {
		var pending []pendingItem
		for len(stack) > 0 {
			item := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			ec.Restore(item.frames)
			if seeded.Has(item.node.Name) {
				// Only its children may need scheduling.
				e.scheduleChildren(item.node.Name, tm, ec, added, &stack)
				continue
			}
			if item.node.Category == CategoryControl || item.node.Category == CategoryDynamic {
				sawDynamic = true
			}
			klog.V(2).Infof("graphexec: pop %q (op %s) context %q", item.node.Name, item.node.Op, ec.CurrentID())
			res, err := e.dispatch(item.node, tm, ec)
			if err != nil {
				lm.disposeAll()
				return nil, errors.WithMessagef(err, "executing node %q", item.node.Name)
			}
			if res.IsPending() {
				// Children wait for the continuation; the whole
				// pass's futures are awaited together below.
				pending = append(pending, pendingItem{
					node:   item.node,
					frames: ec.Frames(),
					future: res.Future,
				})
				continue
			}
			// Control ops may have moved the context; the result
			// belongs to the context they left behind.
			postKey := QualifiedName(item.node.Name, ec.CurrentID())
			e.store(item.node, postKey, res.Values, tm, lm, keep)
			e.releaseInputs(item.node, tm, ec, lm)
			e.scheduleChildren(item.node.Name, tm, ec, added, &stack)
		}
		for _, p := range pending {
			values, err := p.future.Wait()
			if err != nil {
				lm.disposeAll()
				return nil, errors.WithMessagef(err, "executing node %q", p.node.Name)
			}
			ec.Restore(p.frames)
			key := QualifiedName(p.node.Name, ec.CurrentID())
			e.store(p.node, key, values, tm, lm, keep)
			e.releaseInputs(p.node, tm, ec, lm)
			e.scheduleChildren(p.node.Name, tm, ec, added, &stack)
		}
	}

	rootCtx := NewExecutionContext()
	out := make([]*tensors.Tensor, len(outputRefs))
	var missing []string
	for ii, ref := range outputRefs {
		t, _, found := tm.LookupSlot(ref, rootCtx)
		if !found || t == nil {
			missing = append(missing, outputNames[ii])
			continue
		}
		out[ii] = t
	}
	if len(missing) > 0 {
		lm.disposeAll()
		incomplete := &IncompleteExecutionError{Missing: missing}
		if !sawDynamic {
			incomplete.Hint = e.staticPathHint(inputs, outputNames)
		} else {
			klog.V(1).Infof("graphexec: outputs %q not produced after control-flow run of graph %q", missing, e.graph.Name)
		}
		return nil, incomplete
	}
	// Sweep tracked values whose consumers never drained (starved branches,
	// loop-invariant constants). Outputs are frozen and never tracked.
	lm.disposeAll()
	return out, nil
}

// scheduleChildren pushes every consumer of producer that became ready
// under the current context and was not already enqueued there.
func (e *Executor) scheduleChildren(producer string, tm *TensorMap, ec *ExecutionContext, added sets.Set[string], stack *[]stackItem) {
	contextID := ec.CurrentID()
	for _, childName := range e.graph.ChildrenOf(producer) {
		child := e.graph.Node(childName)
		key := QualifiedName(childName, contextID)
		if added.Has(key) || !e.childReady(child, tm, ec) {
			continue
		}
		added.Insert(key)
		*stack = append(*stack, stackItem{node: child, frames: ec.Frames()})
	}
}

// childReady reports whether a node can execute under the current context:
// a Merge is ready once any data input has a live value, every other node
// once all inputs do (control edges only require the producer to have run).
func (e *Executor) childReady(child *Node, tm *TensorMap, ec *ExecutionContext) bool {
	if child.Op == "Merge" {
		for _, ref := range child.Inputs {
			if ref.Control {
				continue
			}
			if t, _, found := tm.LookupSlot(ref, ec); found && t != nil {
				return true
			}
		}
		return false
	}
	for _, ref := range child.Inputs {
		if ref.Control {
			if _, _, found := tm.Lookup(ref.Name, ec); !found {
				return false
			}
			continue
		}
		t, _, found := tm.LookupSlot(ref, ec)
		if !found || t == nil {
			return false
		}
	}
	return true
}

// staticPathHint explains, after an incomplete control-flow run that met no
// control-flow or dynamic node, what the static path would have reported.
func (e *Executor) staticPathHint(inputs map[string]*tensors.Tensor, outputNames []string) string {
	outputs, _, err := e.resolveOutputs(outputNames)
	if err != nil {
		return ""
	}
	inputSet := sets.Make[string]()
	for name := range inputs {
		inputSet.Insert(name)
	}
	info := analyzeSubgraph(e.graph, inputSet, outputs, e.weights)
	switch {
	case len(info.missingInputs) > 0:
		return fmt.Sprintf("inputs %q were never supplied", info.missingInputs)
	case info.dynamicNode != nil && len(info.syncInputs) > 0:
		return fmt.Sprintf("node %q is dynamic; supplying %q directly as inputs would allow the static Execute path", info.dynamicNode.Name, info.syncInputs)
	default:
		return "the graph needed no control-flow or dynamic ops; the static Execute path applies"
	}
}
