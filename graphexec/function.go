package graphexec

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Nested function subgraphs execute on their own child executor: same
// weight map and resource registry as the parent (by reference), but their
// own tensor map, context stack and compiled-order cache.

func execFunctionOp(call *OpCall) (OpResult, error) {
	node := call.Node
	name, found := node.AttrString("function")
	if !found {
		return OpResult{}, errors.Errorf("Call node %q has no \"function\" attribute", node.Name)
	}
	var positional []*tensors.Tensor
	for ii, ref := range node.Inputs {
		if ref.Control {
			continue
		}
		in, err := call.Input(ii)
		if err != nil {
			return OpResult{}, err
		}
		positional = append(positional, in)
	}
	values, err := call.exec.ExecuteFunctionAsync(name, positional, call.Resources)
	if err != nil {
		return OpResult{}, errors.WithMessagef(err, "calling function %q from node %q", name, node.Name)
	}
	return Ready(values...), nil
}

// ExecuteFunctionAsync runs the named nested function subgraph on the
// control-flow-aware path, mapping the positional inputs onto the
// subgraph's declared input names. The resources registry (the caller's
// shared state, may be nil to inherit this executor's) is handed through to
// the child's kernels.
func (e *Executor) ExecuteFunctionAsync(name string, inputs []*tensors.Tensor, resources *ResourceRegistry) ([]*tensors.Tensor, error) {
	fg := e.findFunction(name)
	if fg == nil {
		return nil, errors.Errorf("graph %q has no function %q", e.graph.Name, name)
	}
	if len(inputs) != len(fg.InputNames) {
		return nil, errors.Errorf("function %q takes %d inputs, got %d", name, len(fg.InputNames), len(inputs))
	}
	fe, err := e.functionExecutor(name, fg)
	if err != nil {
		return nil, err
	}
	if resources != nil {
		fe.resources = resources
	} else {
		fe.resources = e.resources
	}
	inputMap := make(map[string]*tensors.Tensor, len(inputs))
	for ii, t := range inputs {
		inputMap[fg.InputNames[ii]] = t
	}
	return fe.ExecuteAsync(inputMap, fg.OutputNames...)
}

// findFunction resolves a function name in this graph or, failing that, in
// the enclosing executors.
func (e *Executor) findFunction(name string) *Graph {
	for exec := e; exec != nil; exec = exec.parent {
		if fg := exec.graph.Function(name); fg != nil {
			return fg
		}
	}
	return nil
}

// functionExecutor returns the cached child executor for a function,
// creating it on first use. Custom op handlers registered on the parent are
// visible to the child.
func (e *Executor) functionExecutor(name string, fg *Graph) (*Executor, error) {
	if fe, found := e.functionExecs[name]; found {
		return fe, nil
	}
	fe, err := NewExecutor(fg, e.weights, e.config)
	if err != nil {
		return nil, errors.WithMessagef(err, "building executor for function %q", name)
	}
	fe.parent = e
	fe.customOps = e.customOps
	fe.disposeFunc = e.disposeFunc
	e.functionExecs[name] = fe
	return fe, nil
}
