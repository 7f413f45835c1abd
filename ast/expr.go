package ast

import (
	"github.com/wippyai/wast-runtime/types"
)

// Expr is a node of the typed expression tree. The concrete type of the
// node is the discriminant: every variant below appears exactly once in
// the Visitor interface and the Dispatch switch, so adding a variant
// without extending both fails to compile.
type Expr interface {
	// ExprClass reports the node's result type class.
	ExprClass() types.Class
}

// TypedExpr pairs an expression with its precise result type. It is used
// wherever the type is not implied by context: store values, cast sources,
// and the parser's non-parametric results before coercion.
type TypedExpr struct {
	Expr Expr
	Type types.Type
}

// Valid reports whether the pair holds an expression.
func (t TypedExpr) Valid() bool { return t.Expr != nil }

// BranchTarget is an identity-based sentinel naming a control-flow
// destination: a label end, a loop head or exit, or a switch end. Targets
// are allocated once per construct with an arena-scoped monotonic id and
// never copied; Branch nodes match targets by that identity.
type BranchTarget struct {
	ID   uint64
	Type types.Type
}

// Literal is an immediate of a primitive type. Integer and boolean values
// live in Int (bool as 0 or 1, integers truncated to the type's width);
// float values live in Float.
type Literal struct {
	Type  types.Type
	Int   uint64
	Float float64
}

// GetVariable reads a local or global variable.
type GetVariable struct {
	Scope VarScope
	Class types.Class
	Index int
}

// SetVariable writes a local or global variable. It yields void.
type SetVariable struct {
	Scope VarScope
	Index int
	Value Expr
}

// Load reads from linear memory. The result is MemoryType widened
// according to Op. FarAddress selects a 64-bit address expression.
type Load struct {
	Class      types.Class
	Op         LoadOp
	MemoryType types.Type
	FarAddress bool
	Address    Expr
}

// Store writes Value to linear memory, truncating to MemoryType if the
// value is wider. It yields void.
type Store struct {
	MemoryType types.Type
	FarAddress bool
	Address    Expr
	Value      TypedExpr
}

// Call invokes a module function (CallDirect, Index into Functions) or an
// imported host function (CallImport, Index into FunctionImports).
type Call struct {
	Kind  CallKind
	Class types.Class
	Index int
	Args  []Expr
}

// CallIndirect invokes a function from a function table by a
// guest-computed index.
type CallIndirect struct {
	Class      types.Class
	TableIndex int
	Index      Expr
	Args       []Expr
}

// Unary applies a one-operand operation.
type Unary struct {
	Class   types.Class
	Op      UnaryOp
	Operand Expr
}

// Binary applies a two-operand operation; both operands have the node's
// result type.
type Binary struct {
	Class types.Class
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// Cast converts Source to the node's result type.
type Cast struct {
	Class  types.Class
	Op     CastOp
	Source TypedExpr
}

// Comparison compares two operands of OperandType and yields bool.
type Comparison struct {
	Op          CompareOp
	OperandType types.Type
	Left        Expr
	Right       Expr
}

// IfElse evaluates Condition, then exactly one of the two branches.
type IfElse struct {
	Class     types.Class
	Condition Expr
	Then      Expr
	Else      Expr
}

// SwitchArm is one case of a Switch. Keys compare by unsigned equality.
// Non-default arms yield void (ending in a branch to the switch end, or
// falling through to the next arm); the arm in final position yields the
// switch's result type.
type SwitchArm struct {
	Key   uint64
	Value Expr
}

// Switch dispatches on an integer key. DefaultArm indexes the arm taken
// when no key matches.
type Switch struct {
	Class      types.Class
	Key        TypedExpr
	Arms       []SwitchArm
	DefaultArm int
	End        *BranchTarget
}

// Label wraps Body with a branch target at its end.
type Label struct {
	Class types.Class
	End   *BranchTarget
	Body  Expr
}

// Loop repeats Body until a branch to Break exits it; a branch to
// Continue restarts the body.
type Loop struct {
	Class    types.Class
	Body     Expr
	Break    *BranchTarget
	Continue *BranchTarget
}

// Sequence evaluates Void for effect, then Result for the value.
type Sequence struct {
	Class  types.Class
	Void   Expr
	Result Expr
}

// Branch transfers control to Target, carrying Value when the target's
// type is non-void.
type Branch struct {
	Class  types.Class
	Target *BranchTarget
	Value  Expr
}

// Return exits the enclosing function, carrying Value when the function's
// return type is non-void.
type Return struct {
	Class types.Class
	Value Expr
}

// Nop does nothing and yields void.
type Nop struct{}

// DiscardResult evaluates Inner and drops its value, yielding void.
type DiscardResult struct {
	Inner TypedExpr
}

// Error is a placeholder recorded where parsing failed. Downstream phases
// treat it as a fatal diagnostic; its presence keeps the tree
// structurally valid so parsing can continue.
type Error struct {
	Class   types.Class
	Message string
}

func (e *Literal) ExprClass() types.Class      { return types.ClassOf(e.Type) }
func (e *GetVariable) ExprClass() types.Class  { return e.Class }
func (e *SetVariable) ExprClass() types.Class  { return types.VoidClass }
func (e *Load) ExprClass() types.Class         { return e.Class }
func (e *Store) ExprClass() types.Class        { return types.VoidClass }
func (e *Call) ExprClass() types.Class         { return e.Class }
func (e *CallIndirect) ExprClass() types.Class { return e.Class }
func (e *Unary) ExprClass() types.Class        { return e.Class }
func (e *Binary) ExprClass() types.Class       { return e.Class }
func (e *Cast) ExprClass() types.Class         { return e.Class }
func (e *Comparison) ExprClass() types.Class   { return types.BoolClass }
func (e *IfElse) ExprClass() types.Class       { return e.Class }
func (e *Switch) ExprClass() types.Class       { return e.Class }
func (e *Label) ExprClass() types.Class        { return e.Class }
func (e *Loop) ExprClass() types.Class         { return e.Class }
func (e *Sequence) ExprClass() types.Class     { return e.Class }
func (e *Branch) ExprClass() types.Class       { return e.Class }
func (e *Return) ExprClass() types.Class       { return e.Class }
func (e *Nop) ExprClass() types.Class          { return types.VoidClass }
func (e *DiscardResult) ExprClass() types.Class {
	return types.VoidClass
}
func (e *Error) ExprClass() types.Class { return e.Class }

// NopNode is the shared nop instance; nop carries no state.
var NopNode = &Nop{}
