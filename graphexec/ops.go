package graphexec

import (
	"slices"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/go-xla/pkg/types/dtypes"
	"github.com/pkg/errors"
)

// Reference kernels for the built-in ops. They are deliberately modest --
// float32-centric, no implicit dtype promotion -- since numeric coverage is
// the job of the pluggable dispatch boundary, not the engine. They exist so
// the engine is executable end to end and testable without a backend.

func execGraphOp(call *OpCall) (OpResult, error) {
	node := call.Node
	switch node.Op {
	case "Const":
		value, found := node.Attrs["value"].(*tensors.Tensor)
		if !found {
			return OpResult{}, errors.Errorf("Const node %q has no tensor in its \"value\" attribute", node.Name)
		}
		// The attribute tensor belongs to the immutable graph; the
		// stored copy is owned by the run and may be disposed.
		return Ready(cloneTensor(value)), nil
	case "Placeholder":
		// Placeholders are seeded into the tensor map before the run
		// starts; executing one means its value was never supplied.
		return OpResult{}, errors.Errorf("placeholder %q has no supplied value", node.Name)
	case "Identity":
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		return Ready(cloneTensor(in)), nil
	case "NoOp":
		return Ready(), nil
	}
	return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
}

func execArithmeticOp(call *OpCall) (OpResult, error) {
	node := call.Node
	lhs, err := call.Input(0)
	if err != nil {
		return OpResult{}, err
	}
	rhs, err := call.Input(1)
	if err != nil {
		return OpResult{}, err
	}
	switch node.Op {
	case "Add":
		return binaryF32(node, lhs, rhs, func(a, b float32) float32 { return a + b })
	case "Sub":
		return binaryF32(node, lhs, rhs, func(a, b float32) float32 { return a - b })
	case "Mul":
		return binaryF32(node, lhs, rhs, func(a, b float32) float32 { return a * b })
	case "Div":
		return binaryF32(node, lhs, rhs, func(a, b float32) float32 { return a / b })
	case "Maximum":
		return binaryF32(node, lhs, rhs, math32.Max)
	case "Minimum":
		return binaryF32(node, lhs, rhs, math32.Min)
	case "Less":
		return compareF32(node, lhs, rhs, func(a, b float32) bool { return a < b })
	case "Greater":
		return compareF32(node, lhs, rhs, func(a, b float32) bool { return a > b })
	case "Equal":
		return compareF32(node, lhs, rhs, func(a, b float32) bool { return a == b })
	}
	return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
}

func execBasicMathOp(call *OpCall) (OpResult, error) {
	node := call.Node
	in, err := call.Input(0)
	if err != nil {
		return OpResult{}, err
	}
	var fn func(float32) float32
	switch node.Op {
	case "Neg":
		fn = func(v float32) float32 { return -v }
	case "Abs":
		fn = math32.Abs
	case "Sqrt":
		fn = math32.Sqrt
	case "Exp":
		fn = math32.Exp
	case "Log":
		fn = math32.Log
	case "Relu":
		fn = func(v float32) float32 { return math32.Max(v, 0) }
	default:
		return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
	}
	flat, err := flatF32(node, in)
	if err != nil {
		return OpResult{}, err
	}
	out := make([]float32, len(flat))
	for ii, v := range flat {
		out[ii] = fn(v)
	}
	return Ready(tensors.FromFlatDataAndDimensions(out, in.Shape().Dimensions...)), nil
}

func execTransformOp(call *OpCall) (OpResult, error) {
	node := call.Node
	in, err := call.Input(0)
	if err != nil {
		return OpResult{}, err
	}
	switch node.Op {
	case "Shape":
		dims := in.Shape().Dimensions
		out := make([]int32, len(dims))
		for ii, d := range dims {
			out[ii] = int32(d)
		}
		return Ready(tensors.FromFlatDataAndDimensions(out, len(out))), nil
	case "Reshape":
		return reshapeOp(call, in)
	case "Concat":
		return concatOp(call)
	}
	return OpResult{}, &UnregisteredOpError{Node: node.Name, Op: node.Op, Category: node.Category}
}

// reshapeOp takes the target dimensions from the "shape" attribute or from
// a second (integer tensor) input. One dimension may be -1 and is inferred.
func reshapeOp(call *OpCall, in *tensors.Tensor) (OpResult, error) {
	node := call.Node
	dims, found := node.AttrInts("shape")
	if !found {
		dimsT, err := call.Input(1)
		if err != nil {
			return OpResult{}, errors.WithMessagef(err, "Reshape node %q needs a \"shape\" attribute or a second input", node.Name)
		}
		if dimsT.Shape().DType != dtypes.Int32 {
			return OpResult{}, errors.Errorf("Reshape node %q: shape input must be Int32, got %s", node.Name, dimsT.Shape())
		}
		for _, d := range tensors.MustCopyFlatData[int32](dimsT) {
			dims = append(dims, int(d))
		}
	}
	size := in.Shape().Size()
	known := 1
	inferred := -1
	for ii, d := range dims {
		if d < 0 {
			if inferred >= 0 {
				return OpResult{}, errors.Errorf("Reshape node %q: more than one inferred dimension in %v", node.Name, dims)
			}
			inferred = ii
			continue
		}
		known *= d
	}
	if inferred >= 0 {
		if known == 0 || size%known != 0 {
			return OpResult{}, errors.Errorf("Reshape node %q: cannot infer dimension for %v from %s", node.Name, dims, in.Shape())
		}
		dims[inferred] = size / known
		known *= dims[inferred]
	}
	if known != size {
		return OpResult{}, errors.Errorf("Reshape node %q: target %v does not match %s", node.Name, dims, in.Shape())
	}
	flat, err := flatF32(node, in)
	if err != nil {
		return OpResult{}, err
	}
	return Ready(tensors.FromFlatDataAndDimensions(flat, dims...)), nil
}

// concatOp concatenates its inputs along the "axis" attribute (default 0).
func concatOp(call *OpCall) (OpResult, error) {
	node := call.Node
	axis, _ := node.AttrInt("axis")
	var flats [][]float32
	var dims [][]int
	for ii := range call.Inputs {
		in, err := call.Input(ii)
		if err != nil {
			return OpResult{}, err
		}
		flat, err := flatF32(node, in)
		if err != nil {
			return OpResult{}, err
		}
		flats = append(flats, flat)
		dims = append(dims, in.Shape().Dimensions)
	}
	if len(dims) == 0 {
		return OpResult{}, errors.Errorf("Concat node %q has no inputs", node.Name)
	}
	rank := len(dims[0])
	if axis < 0 || axis >= rank {
		return OpResult{}, errors.Errorf("Concat node %q: axis %d out of range for rank %d", node.Name, axis, rank)
	}
	outDims := slices.Clone(dims[0])
	outDims[axis] = 0
	for _, d := range dims {
		if len(d) != rank {
			return OpResult{}, errors.Errorf("Concat node %q: rank mismatch between inputs", node.Name)
		}
		for ax := range d {
			if ax != axis && d[ax] != dims[0][ax] {
				return OpResult{}, errors.Errorf("Concat node %q: dimension mismatch on axis %d", node.Name, ax)
			}
		}
		outDims[axis] += d[axis]
	}

	// outer × (axis dim) × inner layout: copy each input's rows into the
	// interleaved output.
	outer, inner := 1, 1
	for ax := 0; ax < axis; ax++ {
		outer *= outDims[ax]
	}
	for ax := axis + 1; ax < rank; ax++ {
		inner *= outDims[ax]
	}
	out := make([]float32, outer*outDims[axis]*inner)
	rowOffset := 0
	for ii, flat := range flats {
		axisDim := dims[ii][axis]
		for o := range outer {
			src := flat[o*axisDim*inner : (o+1)*axisDim*inner]
			dst := out[(o*outDims[axis]+rowOffset)*inner:]
			copy(dst, src)
		}
		rowOffset += axisDim
	}
	return Ready(tensors.FromFlatDataAndDimensions(out, outDims...)), nil
}

// binaryF32 applies an elementwise float32 op with scalar broadcast on
// either side.
func binaryF32(node *Node, lhs, rhs *tensors.Tensor, fn func(a, b float32) float32) (OpResult, error) {
	a, err := flatF32(node, lhs)
	if err != nil {
		return OpResult{}, err
	}
	b, err := flatF32(node, rhs)
	if err != nil {
		return OpResult{}, err
	}
	dims, err := broadcastDims(node, lhs, rhs, len(a), len(b))
	if err != nil {
		return OpResult{}, err
	}
	out := make([]float32, max(len(a), len(b)))
	for ii := range out {
		out[ii] = fn(a[ii%len(a)], b[ii%len(b)])
	}
	return Ready(tensors.FromFlatDataAndDimensions(out, dims...)), nil
}

func compareF32(node *Node, lhs, rhs *tensors.Tensor, fn func(a, b float32) bool) (OpResult, error) {
	a, err := flatF32(node, lhs)
	if err != nil {
		return OpResult{}, err
	}
	b, err := flatF32(node, rhs)
	if err != nil {
		return OpResult{}, err
	}
	dims, err := broadcastDims(node, lhs, rhs, len(a), len(b))
	if err != nil {
		return OpResult{}, err
	}
	out := make([]bool, max(len(a), len(b)))
	for ii := range out {
		out[ii] = fn(a[ii%len(a)], b[ii%len(b)])
	}
	return Ready(tensors.FromFlatDataAndDimensions(out, dims...)), nil
}

// broadcastDims accepts equal shapes or a scalar on either side; anything
// else is a shape mismatch for the reference kernels.
func broadcastDims(node *Node, lhs, rhs *tensors.Tensor, lenA, lenB int) ([]int, error) {
	lhsDims := lhs.Shape().Dimensions
	rhsDims := rhs.Shape().Dimensions
	switch {
	case slices.Equal(lhsDims, rhsDims):
		return lhsDims, nil
	case lenA == 1:
		return rhsDims, nil
	case lenB == 1:
		return lhsDims, nil
	}
	return nil, errors.Errorf("op %s node %q: incompatible shapes %v and %v",
		node.Op, node.Name, lhs.Shape(), rhs.Shape())
}

// flatF32 copies a tensor's flat data, requiring Float32.
func flatF32(node *Node, t *tensors.Tensor) ([]float32, error) {
	if t.Shape().DType != dtypes.Float32 {
		return nil, errors.Errorf("op %s node %q: reference kernel supports Float32, got %s",
			node.Op, node.Name, t.Shape())
	}
	return tensors.MustCopyFlatData[float32](t), nil
}

// scalarBool extracts a scalar predicate from a tensor: Bool directly, or
// any numeric scalar compared against zero.
func scalarBool(node *Node, t *tensors.Tensor) (bool, error) {
	if t.Shape().Size() != 1 {
		return false, errors.Errorf("op %s node %q: predicate must be a scalar, got %s",
			node.Op, node.Name, t.Shape())
	}
	switch v := t.Value().(type) {
	case bool:
		return v, nil
	case []bool:
		return v[0], nil
	case float32:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int64:
		return v != 0, nil
	}
	return false, errors.Errorf("op %s node %q: unsupported predicate dtype %s",
		node.Op, node.Name, t.Shape())
}
