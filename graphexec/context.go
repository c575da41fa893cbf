package graphexec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Frame is one active loop/conditional scope: the frame name given by the
// Enter op plus the current iteration counter.
type Frame struct {
	Name      string
	Iteration int
}

func (f Frame) id() string {
	return fmt.Sprintf("%s:%d", f.Name, f.Iteration)
}

// ExecutionContext is the stack of active frames. Combined with a node name
// it yields the context-qualified identity used to key per-iteration tensor
// storage: two executions of the same node under different frame/iteration
// stacks never collide.
type ExecutionContext struct {
	frames []Frame
}

// NewExecutionContext returns a context with an empty frame stack (the root
// context).
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{}
}

// EnterFrame pushes a new frame with iteration 0.
func (c *ExecutionContext) EnterFrame(name string) {
	c.frames = append(c.frames, Frame{Name: name})
}

// ExitFrame pops the innermost frame.
func (c *ExecutionContext) ExitFrame() {
	if len(c.frames) == 0 {
		exceptions.Panicf("ExitFrame on the root execution context: unbalanced Enter/Exit")
	}
	c.frames = c.frames[:len(c.frames)-1]
}

// NextIteration advances the iteration counter of the innermost frame.
func (c *ExecutionContext) NextIteration() {
	if len(c.frames) == 0 {
		exceptions.Panicf("NextIteration on the root execution context: no active frame")
	}
	c.frames[len(c.frames)-1].Iteration++
}

// Depth returns the number of active frames.
func (c *ExecutionContext) Depth() int { return len(c.frames) }

// CurrentID returns the identity of the current frame stack. The root
// context is the empty string.
func (c *ExecutionContext) CurrentID() string {
	if len(c.frames) == 0 {
		return ""
	}
	parts := make([]string, len(c.frames))
	for ii, f := range c.frames {
		parts[ii] = f.id()
	}
	return strings.Join(parts, "/")
}

// IDChain returns the context identities to try when resolving a name, from
// the current frame stack outward, ending at the root context. Values
// produced in an outer frame (weights, loop-invariant constants) stay
// visible inside nested frames through this chain.
func (c *ExecutionContext) IDChain() []string {
	chain := make([]string, 0, len(c.frames)+1)
	frames := slices.Clone(c.frames)
	for len(frames) > 0 {
		parts := make([]string, len(frames))
		for ii, f := range frames {
			parts[ii] = f.id()
		}
		chain = append(chain, strings.Join(parts, "/"))
		frames = frames[:len(frames)-1]
	}
	return append(chain, "")
}

// Frames returns a snapshot of the frame stack, detached from future
// mutations of the context.
func (c *ExecutionContext) Frames() []Frame {
	return slices.Clone(c.frames)
}

// Restore replaces the frame stack with the given snapshot.
func (c *ExecutionContext) Restore(frames []Frame) {
	c.frames = slices.Clone(frames)
}

// QualifiedName combines a node name with a context identity.
func QualifiedName(name, contextID string) string {
	if contextID == "" {
		return name
	}
	return name + "@" + contextID
}
