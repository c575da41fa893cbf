package graphexec

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// The error taxonomy of the engine. All of these abort the whole
// Execute/ExecuteAsync call; none are retried internally. They are plain
// structs so callers can match them with errors.As.

// MissingInputsError reports required ancestors of the requested outputs
// that have no supplied value and are neither weights nor initializer
// nodes.
type MissingInputsError struct {
	Missing []string
	Outputs []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("cannot compute outputs %q: missing inputs %q",
		e.Outputs, e.Missing)
}

// UnsupportedDynamicOpError reports a node blocking static compilation.
// Supplying SyncInputs directly as inputs on a future call bypasses the
// dynamic node; otherwise the control-flow-aware path must be used.
type UnsupportedDynamicOpError struct {
	Node       string
	Op         string
	SyncInputs []string
}

func (e *UnsupportedDynamicOpError) Error() string {
	msg := fmt.Sprintf("node %q (op %s) requires the dynamic execution path, use ExecuteAsync", e.Node, e.Op)
	if len(e.SyncInputs) > 0 {
		msg += fmt.Sprintf("; alternatively, feed %q directly as inputs to bypass it", e.SyncInputs)
	}
	return msg
}

// ShapeMismatchError reports a caller-supplied input whose shape or dtype
// disagrees with the input node's declared constraints.
type ShapeMismatchError struct {
	Input string
	Want  string
	Got   shapes.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("input %q: expected %s, got %s", e.Input, e.Want, e.Got)
}

// UnknownOutputError reports a requested output name with no corresponding
// node in the graph.
type UnknownOutputError struct {
	Name string
}

func (e *UnknownOutputError) Error() string {
	return fmt.Sprintf("requested output %q is not a node in the graph", e.Name)
}

// UnexpectedAsyncError reports a node that produced a pending result on the
// static path, where only ready values are accepted.
type UnexpectedAsyncError struct {
	Node string
	Op   string
}

func (e *UnexpectedAsyncError) Error() string {
	return fmt.Sprintf("node %q (op %s) returned an asynchronous result on the static path, use ExecuteAsync", e.Node, e.Op)
}

// UnregisteredOpError reports a node whose operation has no handler.
type UnregisteredOpError struct {
	Node     string
	Op       string
	Category OpCategory
}

func (e *UnregisteredOpError) Error() string {
	return fmt.Sprintf("no handler for op %q (category %s) of node %q", e.Op, e.Category, e.Node)
}

// IncompleteExecutionError reports requested outputs that were never
// populated after the control-flow scheduler drained its work stack.
type IncompleteExecutionError struct {
	Missing []string
	Hint    string
}

func (e *IncompleteExecutionError) Error() string {
	msg := fmt.Sprintf("execution finished without producing outputs %q", e.Missing)
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

func formatShapeConstraint(dtype string, dims []int) string {
	if len(dims) == 0 {
		return dtype
	}
	parts := make([]string, len(dims))
	for ii, d := range dims {
		if d < 0 {
			parts[ii] = "?"
		} else {
			parts[ii] = fmt.Sprintf("%d", d)
		}
	}
	return fmt.Sprintf("%s[%s]", dtype, strings.Join(parts, ", "))
}
