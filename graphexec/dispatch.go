package graphexec

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Future is a pending per-node result: a value list that becomes available
// once an asynchronous kernel completes.
type Future struct {
	done   chan struct{}
	values []*tensors.Tensor
	err    error
}

// NewFuture returns an unresolved future and the function that resolves it.
// The resolve function must be called exactly once.
func NewFuture() (*Future, func(values []*tensors.Tensor, err error)) {
	f := &Future{done: make(chan struct{})}
	return f, func(values []*tensors.Tensor, err error) {
		f.values = values
		f.err = err
		close(f.done)
	}
}

// GoFuture runs fn on its own goroutine and returns the future of its
// result.
func GoFuture(fn func() ([]*tensors.Tensor, error)) *Future {
	f, resolve := NewFuture()
	go func() {
		resolve(fn())
	}()
	return f
}

// Wait blocks until the future resolves.
func (f *Future) Wait() ([]*tensors.Tensor, error) {
	<-f.done
	return f.values, f.err
}

// OpResult is the explicit two-variant result of one kernel invocation:
// either a ready value list or a pending future, never both. The static
// path rejects pending results outright.
type OpResult struct {
	Values []*tensors.Tensor
	Future *Future
}

// Ready wraps immediately available values.
func Ready(values ...*tensors.Tensor) OpResult {
	return OpResult{Values: values}
}

// Pending wraps a future.
func Pending(f *Future) OpResult {
	return OpResult{Future: f}
}

// IsPending reports whether the result is still a future.
func (r OpResult) IsPending() bool { return r.Future != nil }

// OpCall carries everything a kernel may need: the node, its resolved data
// inputs (aligned with Node.Inputs; nil for control edges and dead slots),
// the tensor map and execution context of the run, and the caller's
// resource registry.
type OpCall struct {
	Node      *Node
	Inputs    []*tensors.Tensor
	TensorMap *TensorMap
	Context   *ExecutionContext
	Resources *ResourceRegistry

	exec *Executor
}

// Input returns the i-th data input, failing if it was never produced.
func (c *OpCall) Input(i int) (*tensors.Tensor, error) {
	if i >= len(c.Inputs) || c.Inputs[i] == nil {
		return nil, errors.Errorf("op %s node %q: input #%d has no value",
			c.Node.Op, c.Node.Name, i)
	}
	return c.Inputs[i], nil
}

// OpFunc is a kernel implementation for a custom op.
type OpFunc func(call *OpCall) (OpResult, error)

// RegisterOp registers a handler for a custom op name on this executor.
// Built-in ops cannot be overridden.
func (e *Executor) RegisterOp(op string, fn OpFunc) error {
	if CategoryForOp(op) != CategoryCustom {
		return errors.Errorf("op %q is built in (category %s) and cannot be overridden",
			op, CategoryForOp(op))
	}
	if _, found := e.customOps[op]; found {
		return errors.Errorf("op %q already has a registered handler", op)
	}
	e.customOps[op] = fn
	return nil
}

// dispatch resolves the node's inputs under the current context and invokes
// the kernel for its category. For control nodes the per-slot values may be
// nil (Merge reads whichever input arrived); every other category requires
// all data inputs present.
func (e *Executor) dispatch(node *Node, tm *TensorMap, ec *ExecutionContext) (OpResult, error) {
	call := &OpCall{
		Node:      node,
		Inputs:    make([]*tensors.Tensor, len(node.Inputs)),
		TensorMap: tm,
		Context:   ec,
		Resources: e.resources,
		exec:      e,
	}
	for ii, ref := range node.Inputs {
		if ref.Control {
			continue
		}
		t, _, _ := tm.LookupSlot(ref, ec)
		call.Inputs[ii] = t
	}

	switch node.Category {
	case CategoryGraph:
		return execGraphOp(call)
	case CategoryArithmetic:
		return execArithmeticOp(call)
	case CategoryBasicMath:
		return execBasicMathOp(call)
	case CategoryTransform:
		return execTransformOp(call)
	case CategoryControl:
		return execControlOp(call)
	case CategoryDynamic:
		return execDynamicOp(call)
	case CategoryFunction:
		return execFunctionOp(call)
	case CategoryCustom:
		fn, found := e.customOps[node.Op]
		if !found {
			return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
		}
		return fn(call)
	}
	return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
}
