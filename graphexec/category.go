package graphexec

// OpCategory classifies an operation for dispatch. The set is closed: the
// scheduler switches over it, and anything it does not recognize lands in
// CategoryCustom, which requires an explicitly registered handler.
type OpCategory int

const (
	CategoryUnknown OpCategory = iota

	// CategoryGraph covers the structural ops: constants, placeholders,
	// identities and no-ops.
	CategoryGraph

	// CategoryArithmetic covers elementwise binary ops.
	CategoryArithmetic

	// CategoryBasicMath covers elementwise unary ops.
	CategoryBasicMath

	// CategoryTransform covers shape/layout ops whose output shape is
	// statically derivable from inputs and attributes.
	CategoryTransform

	// CategoryControl covers the loop/conditional ops. Control nodes do
	// not follow all-inputs-ready scheduling and bypass disposal
	// accounting.
	CategoryControl

	// CategoryDynamic covers ops whose output shape or existence is only
	// known after running them. They force the dynamic execution path
	// and may complete asynchronously.
	CategoryDynamic

	// CategoryFunction covers calls into nested function subgraphs.
	CategoryFunction

	// CategoryCustom is the user-extensible escape hatch: ops dispatched
	// to handlers registered with Executor.RegisterOp.
	CategoryCustom
)

// String implements fmt.Stringer.
func (c OpCategory) String() string {
	switch c {
	case CategoryGraph:
		return "graph"
	case CategoryArithmetic:
		return "arithmetic"
	case CategoryBasicMath:
		return "basic_math"
	case CategoryTransform:
		return "transformation"
	case CategoryControl:
		return "control"
	case CategoryDynamic:
		return "dynamic"
	case CategoryFunction:
		return "function"
	case CategoryCustom:
		return "custom"
	}
	return "unknown"
}

// builtinCategories maps the built-in op names to their category.
var builtinCategories = map[string]OpCategory{
	"Const":       CategoryGraph,
	"Placeholder": CategoryGraph,
	"Identity":    CategoryGraph,
	"NoOp":        CategoryGraph,

	"Add":     CategoryArithmetic,
	"Sub":     CategoryArithmetic,
	"Mul":     CategoryArithmetic,
	"Div":     CategoryArithmetic,
	"Maximum": CategoryArithmetic,
	"Minimum": CategoryArithmetic,
	"Less":    CategoryArithmetic,
	"Greater": CategoryArithmetic,
	"Equal":   CategoryArithmetic,

	"Neg":  CategoryBasicMath,
	"Abs":  CategoryBasicMath,
	"Sqrt": CategoryBasicMath,
	"Exp":  CategoryBasicMath,
	"Log":  CategoryBasicMath,
	"Relu": CategoryBasicMath,

	"Shape":   CategoryTransform,
	"Reshape": CategoryTransform,
	"Concat":  CategoryTransform,

	"Enter":         CategoryControl,
	"Exit":          CategoryControl,
	"NextIteration": CategoryControl,
	"Merge":         CategoryControl,
	"Switch":        CategoryControl,
	"LoopCond":      CategoryControl,

	"Where":   CategoryDynamic,
	"NonZero": CategoryDynamic,

	"Call": CategoryFunction,
}

// CategoryForOp returns the category for an op name. Ops not known to the
// engine are CategoryCustom and must have a registered handler to execute.
func CategoryForOp(op string) OpCategory {
	if cat, found := builtinCategories[op]; found {
		return cat
	}
	return CategoryCustom
}
