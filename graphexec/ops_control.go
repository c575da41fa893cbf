package graphexec

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Control-flow kernels. They are the only ops that mutate the execution
// context, and the scheduler stores their outputs under the context as left
// by the op: Enter stores inside the entered frame, Exit outside it,
// NextIteration under the advanced iteration.

func execControlOp(call *OpCall) (OpResult, error) {
	node := call.Node
	ec := call.Context
	switch node.Op {
	case "Enter":
		frame, found := node.AttrString("frame")
		if !found {
			return OpResult{}, errors.Errorf("Enter node %q has no \"frame\" attribute", node.Name)
		}
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		ec.EnterFrame(frame)
		return Ready(cloneTensor(in)), nil

	case "Exit":
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		if ec.Depth() == 0 {
			return OpResult{}, errors.Errorf("Exit node %q outside of any frame", node.Name)
		}
		ec.ExitFrame()
		return Ready(cloneTensor(in)), nil

	case "NextIteration":
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		if ec.Depth() == 0 {
			return OpResult{}, errors.Errorf("NextIteration node %q outside of any frame", node.Name)
		}
		ec.NextIteration()
		return Ready(cloneTensor(in)), nil

	case "Merge":
		// Ready as soon as any input has a value: forward the first
		// one available, plus the index of the input chosen.
		for ii, in := range call.Inputs {
			if in == nil || node.Inputs[ii].Control {
				continue
			}
			index := tensors.FromAnyValue(int32(ii))
			return Ready(cloneTensor(in), index), nil
		}
		return OpResult{}, errors.Errorf("Merge node %q executed before any input had a value", node.Name)

	case "Switch":
		data, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		predT, err := call.Input(1)
		if err != nil {
			return OpResult{}, err
		}
		pred, err := scalarBool(node, predT)
		if err != nil {
			return OpResult{}, err
		}
		// Slot 0 carries the false branch, slot 1 the true branch;
		// the untaken slot stays dead (nil) and starves its children.
		if pred {
			return Ready(nil, cloneTensor(data)), nil
		}
		return Ready(cloneTensor(data), nil), nil

	case "LoopCond":
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		if _, err := scalarBool(node, in); err != nil {
			return OpResult{}, err
		}
		return Ready(cloneTensor(in)), nil
	}
	return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
}

// Dynamic kernels: output shapes depend on the data, so they only run on
// the control-flow-aware path, and they resolve asynchronously.

func execDynamicOp(call *OpCall) (OpResult, error) {
	node := call.Node
	in, err := call.Input(0)
	if err != nil {
		return OpResult{}, err
	}
	switch node.Op {
	case "Where", "NonZero":
		return Pending(GoFuture(func() ([]*tensors.Tensor, error) {
			return whereKernel(node, in)
		})), nil
	}
	return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
}

// whereKernel returns the [n, rank] Int32 coordinates of the non-zero
// elements of the input.
func whereKernel(node *Node, in *tensors.Tensor) ([]*tensors.Tensor, error) {
	flat, err := flatF32(node, in)
	if err != nil {
		return nil, err
	}
	dims := in.Shape().Dimensions
	rank := max(len(dims), 1)
	coords := make([]int32, 0, rank)
	n := 0
	for ii, v := range flat {
		if v == 0 {
			continue
		}
		n++
		rest := ii
		offset := len(coords)
		coords = append(coords, make([]int32, rank)...)
		for axis := len(dims) - 1; axis >= 0; axis-- {
			coords[offset+axis] = int32(rest % dims[axis])
			rest /= dims[axis]
		}
	}
	return []*tensors.Tensor{tensors.FromFlatDataAndDimensions(coords, n, rank)}, nil
}
