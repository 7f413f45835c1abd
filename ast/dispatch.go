package ast

import (
	"fmt"

	"github.com/wippyai/wast-runtime/types"
)

// Visitor receives exactly one callback per expression variant. The
// interface is the exhaustiveness guarantee: a visitor missing a variant
// does not compile, so structural folds over the tree (notably the code
// generator) cannot silently skip a node kind.
//
// Each method receives the precise result type expected of the node in
// its context, mirroring how typed context flows down the tree.
type Visitor interface {
	VisitLiteral(t types.Type, e *Literal) error
	VisitGetVariable(t types.Type, e *GetVariable) error
	VisitSetVariable(t types.Type, e *SetVariable) error
	VisitLoad(t types.Type, e *Load) error
	VisitStore(t types.Type, e *Store) error
	VisitCall(t types.Type, e *Call) error
	VisitCallIndirect(t types.Type, e *CallIndirect) error
	VisitUnary(t types.Type, e *Unary) error
	VisitBinary(t types.Type, e *Binary) error
	VisitCast(t types.Type, e *Cast) error
	VisitComparison(t types.Type, e *Comparison) error
	VisitIfElse(t types.Type, e *IfElse) error
	VisitSwitch(t types.Type, e *Switch) error
	VisitLabel(t types.Type, e *Label) error
	VisitLoop(t types.Type, e *Loop) error
	VisitSequence(t types.Type, e *Sequence) error
	VisitBranch(t types.Type, e *Branch) error
	VisitReturn(t types.Type, e *Return) error
	VisitNop(t types.Type, e *Nop) error
	VisitDiscardResult(t types.Type, e *DiscardResult) error
	VisitError(t types.Type, e *Error) error
}

// Dispatch invokes the visitor method matching the concrete variant of e,
// with t as the result type expected by the context. In debug builds the
// node's recorded class is checked against t first.
func Dispatch(v Visitor, e Expr, t types.Type) error {
	if debugChecks {
		if c := e.ExprClass(); c != types.Any && !types.Is(t, c) {
			return fmt.Errorf("ast: dispatch type %s does not belong to node class %s", t, c)
		}
	}
	switch n := e.(type) {
	case *Literal:
		return v.VisitLiteral(t, n)
	case *GetVariable:
		return v.VisitGetVariable(t, n)
	case *SetVariable:
		return v.VisitSetVariable(t, n)
	case *Load:
		return v.VisitLoad(t, n)
	case *Store:
		return v.VisitStore(t, n)
	case *Call:
		return v.VisitCall(t, n)
	case *CallIndirect:
		return v.VisitCallIndirect(t, n)
	case *Unary:
		return v.VisitUnary(t, n)
	case *Binary:
		return v.VisitBinary(t, n)
	case *Cast:
		return v.VisitCast(t, n)
	case *Comparison:
		return v.VisitComparison(t, n)
	case *IfElse:
		return v.VisitIfElse(t, n)
	case *Switch:
		return v.VisitSwitch(t, n)
	case *Label:
		return v.VisitLabel(t, n)
	case *Loop:
		return v.VisitLoop(t, n)
	case *Sequence:
		return v.VisitSequence(t, n)
	case *Branch:
		return v.VisitBranch(t, n)
	case *Return:
		return v.VisitReturn(t, n)
	case *Nop:
		return v.VisitNop(t, n)
	case *DiscardResult:
		return v.VisitDiscardResult(t, n)
	case *Error:
		return v.VisitError(t, n)
	}
	return fmt.Errorf("ast: dispatch on unknown expression %T", e)
}

// debugChecks enables class-tag verification in Dispatch and As. It costs
// a virtual call per dispatch, so it is compiled in but cheap to flip.
var debugChecks = true

// SetDebugChecks toggles dispatch-time class verification.
func SetDebugChecks(on bool) { debugChecks = on }

// As recovers the typed view of an untyped expression, verifying the
// recorded class tag when debug checks are enabled.
func As[T Expr](e Expr, c types.Class) (T, error) {
	var zero T
	if debugChecks && c != types.Any && e.ExprClass() != types.Any && e.ExprClass() != c {
		return zero, fmt.Errorf("ast: expression class %s recovered as %s", e.ExprClass(), c)
	}
	typed, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("ast: expression %T is not the requested variant", e)
	}
	return typed, nil
}
