package runtime

import (
	"context"
	"fmt"
	"math"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
	"github.com/wippyai/wast-runtime/wast"
)

// AssertionResult is the outcome of one source-level assertion.
type AssertionResult struct {
	Locus  string
	Passed bool
	Detail string
}

// RunAssertions evaluates the assertions parsed alongside inst's module:
// assert_eq invokes the named export and compares the result bit-wise
// against the expected constant; assert_invalid passes when the inner
// module produced diagnostics.
func RunAssertions(ctx context.Context, inst *Instance, file *wast.File) []AssertionResult {
	var results []AssertionResult

	for _, assertion := range file.AssertEqs {
		if inst.Module() != nil && assertion.TargetModule != inst.Module() {
			continue
		}
		results = append(results, runAssertEq(ctx, inst, assertion))
	}

	for _, assertion := range file.AssertInvalids {
		result := AssertionResult{Locus: assertion.Locus, Passed: assertion.ErrorsSeen > 0}
		if !result.Passed {
			result.Detail = "module parsed without errors"
		}
		results = append(results, result)
	}

	return results
}

func runAssertEq(ctx context.Context, inst *Instance, assertion wast.AssertEq) AssertionResult {
	result := AssertionResult{Locus: assertion.Locus}

	target := assertion.TargetModule.Functions[assertion.FunctionIndex]
	exportName := ""
	for name, index := range assertion.TargetModule.Exports {
		if index == assertion.FunctionIndex {
			exportName = name
			break
		}
	}
	if exportName == "" {
		result.Detail = "invoked function is not exported"
		return result
	}

	args := make([]uint64, len(assertion.Args))
	for i, arg := range assertion.Args {
		bits, err := encodeConstant(arg)
		if err != nil {
			result.Detail = err.Error()
			return result
		}
		args[i] = bits
	}

	got, err := inst.InvokeWithArgs(ctx, exportName, args)
	if err != nil {
		result.Detail = err.Error()
		return result
	}

	if target.Type.Return == types.Void {
		result.Passed = true
		return result
	}
	want, err := encodeConstant(assertion.Expected)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	if len(got) == 0 {
		result.Detail = "function returned no value"
		return result
	}
	if maskResult(target.Type.Return, got[0]) != maskResult(target.Type.Return, want) {
		result.Detail = fmt.Sprintf("got %#x, want %#x", got[0], want)
		return result
	}
	result.Passed = true
	return result
}

// encodeConstant encodes a constant expression as a raw argument word.
// Only literals appear in assertion arguments.
func encodeConstant(te ast.TypedExpr) (uint64, error) {
	lit, ok := te.Expr.(*ast.Literal)
	if !ok {
		return 0, fmt.Errorf("assertion operand is not a constant (%T)", te.Expr)
	}
	switch lit.Type {
	case types.I8, types.I16, types.I32, types.Bool:
		return uint64(uint32(lit.Int)), nil
	case types.I64:
		return lit.Int, nil
	case types.F32:
		return uint64(math.Float32bits(float32(lit.Float))), nil
	case types.F64:
		return math.Float64bits(lit.Float), nil
	}
	return 0, fmt.Errorf("assertion operand of type %s", lit.Type)
}

func maskResult(t types.Type, bits uint64) uint64 {
	switch t {
	case types.I64, types.F64:
		return bits
	default:
		return bits & 0xffffffff
	}
}
