package wast

import (
	"strings"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
)

// Declaration and keyword symbols.
const (
	symModule        = "module"
	symFunc          = "func"
	symGlobal        = "global"
	symTable         = "table"
	symExport        = "export"
	symImport        = "import"
	symMemory        = "memory"
	symSegment       = "segment"
	symParam         = "param"
	symResult        = "result"
	symLocal         = "local"
	symCase          = "case"
	symFallthrough   = "fallthrough"
	symAssertEq      = "assert_eq"
	symAssertInvalid = "assert_invalid"
	symInvoke        = "invoke"
)

// splitSymbol splits an opcode symbol into its bare operation and up to
// two type suffixes: "add.i32" -> ("add", "i32", ""),
// "trunc_s.i32.f64" -> ("trunc_s", "i32", "f64").
func splitSymbol(sym string) (op, first, second string) {
	parts := strings.SplitN(sym, ".", 3)
	op = parts[0]
	if len(parts) > 1 {
		first = parts[1]
	}
	if len(parts) > 2 {
		second = parts[2]
	}
	return
}

// Per-class operation vocabularies. A bare op resolves against the table
// selected by its type suffix's class.

var intUnaryOps = map[string]ast.UnaryOp{
	"neg": ast.Neg, "abs": ast.Abs, "not": ast.Not,
	"clz": ast.Clz, "ctz": ast.Ctz, "popcnt": ast.Popcnt,
}

var floatUnaryOps = map[string]ast.UnaryOp{
	"neg": ast.Neg, "abs": ast.Abs, "ceil": ast.Ceil, "floor": ast.Floor,
	"trunc": ast.Trunc, "nearest": ast.Nearest, "sqrt": ast.Sqrt,
}

var boolUnaryOps = map[string]ast.UnaryOp{
	"not": ast.Not,
}

var intBinaryOps = map[string]ast.BinaryOp{
	"add": ast.Add, "sub": ast.Sub, "mul": ast.Mul,
	"div_s": ast.DivS, "div_u": ast.DivU, "rem_s": ast.RemS, "rem_u": ast.RemU,
	"and": ast.And, "or": ast.Or, "xor": ast.Xor,
	"shl": ast.Shl, "shr_s": ast.ShrS, "shr_u": ast.ShrU,
}

var floatBinaryOps = map[string]ast.BinaryOp{
	"add": ast.Add, "sub": ast.Sub, "mul": ast.Mul, "div": ast.Div,
	"rem": ast.Rem, "min": ast.Min, "max": ast.Max, "copysign": ast.CopySign,
}

var boolBinaryOps = map[string]ast.BinaryOp{
	"and": ast.And, "or": ast.Or,
}

var intCompareOps = map[string]ast.CompareOp{
	"eq": ast.Eq, "ne": ast.Ne,
	"lt_s": ast.LtS, "lt_u": ast.LtU, "le_s": ast.LeS, "le_u": ast.LeU,
	"gt_s": ast.GtS, "gt_u": ast.GtU, "ge_s": ast.GeS, "ge_u": ast.GeU,
}

var floatCompareOps = map[string]ast.CompareOp{
	"eq": ast.Eq, "ne": ast.Ne,
	"lt": ast.Lt, "le": ast.Le, "gt": ast.Gt, "ge": ast.Ge,
}

var boolCompareOps = map[string]ast.CompareOp{
	"eq": ast.Eq, "ne": ast.Ne,
}

// resolveUnary looks up a unary op valid for the given type.
func resolveUnary(op string, t types.Type) (ast.UnaryOp, bool) {
	var table map[string]ast.UnaryOp
	switch types.ClassOf(t) {
	case types.Int:
		table = intUnaryOps
	case types.Float:
		table = floatUnaryOps
	case types.BoolClass:
		table = boolUnaryOps
	default:
		return 0, false
	}
	resolved, ok := table[op]
	return resolved, ok
}

func resolveBinary(op string, t types.Type) (ast.BinaryOp, bool) {
	var table map[string]ast.BinaryOp
	switch types.ClassOf(t) {
	case types.Int:
		table = intBinaryOps
	case types.Float:
		table = floatBinaryOps
	case types.BoolClass:
		table = boolBinaryOps
	default:
		return 0, false
	}
	resolved, ok := table[op]
	return resolved, ok
}

func resolveCompare(op string, operand types.Type) (ast.CompareOp, bool) {
	var table map[string]ast.CompareOp
	switch types.ClassOf(operand) {
	case types.Int:
		table = intCompareOps
	case types.Float:
		table = floatCompareOps
	case types.BoolClass:
		table = boolCompareOps
	default:
		return 0, false
	}
	resolved, ok := table[op]
	return resolved, ok
}

// resolveCast maps a cast symbol and its destination/source types to the
// cast opcode, validating the type pair.
func resolveCast(op string, dst, src types.Type) (ast.CastOp, bool) {
	dstInt := types.Is(dst, types.Int)
	srcInt := types.Is(src, types.Int)
	dstFloat := types.Is(dst, types.Float)
	srcFloat := types.Is(src, types.Float)

	switch op {
	case "wrap":
		if dstInt && srcInt && types.BitWidth(dst) < types.BitWidth(src) {
			return ast.Wrap, true
		}
	case "extend_s":
		if dstInt && srcInt && types.BitWidth(dst) > types.BitWidth(src) {
			return ast.SExt, true
		}
	case "extend_u":
		if dstInt && srcInt && types.BitWidth(dst) > types.BitWidth(src) {
			return ast.ZExt, true
		}
	case "trunc_s":
		if dstInt && srcFloat {
			return ast.TruncSignedFloat, true
		}
	case "trunc_u":
		if dstInt && srcFloat {
			return ast.TruncUnsignedFloat, true
		}
	case "convert_s":
		if dstFloat && srcInt {
			return ast.ConvertSignedInt, true
		}
	case "convert_u":
		if dstFloat && srcInt {
			return ast.ConvertUnsignedInt, true
		}
	case "promote":
		if dst == types.F64 && src == types.F32 {
			return ast.Promote, true
		}
	case "demote":
		if dst == types.F32 && src == types.F64 {
			return ast.Demote, true
		}
	case "reinterpret":
		switch {
		case dst == types.F32 && src == types.I32, dst == types.F64 && src == types.I64:
			return ast.ReinterpretInt, true
		case dst == types.I32 && src == types.F32, dst == types.I64 && src == types.F64:
			return ast.ReinterpretFloat, true
		case dstInt && src == types.Bool:
			return ast.ReinterpretBool, true
		}
	}
	return 0, false
}

// loadSuffix resolves a load type suffix to (resultType,
// memoryType, loadOp). Sub-word loads carry an explicit signedness and
// widen to i32.
func loadSuffix(suffix string) (result, memory types.Type, op ast.LoadOp, ok bool) {
	switch suffix {
	case "i8_s":
		return types.I32, types.I8, ast.LoadSExt, true
	case "i8_u":
		return types.I32, types.I8, ast.LoadZExt, true
	case "i16_s":
		return types.I32, types.I16, ast.LoadSExt, true
	case "i16_u":
		return types.I32, types.I16, ast.LoadZExt, true
	case "i32":
		return types.I32, types.I32, ast.LoadPlain, true
	case "i64":
		return types.I64, types.I64, ast.LoadPlain, true
	case "f32":
		return types.F32, types.F32, ast.LoadPlain, true
	case "f64":
		return types.F64, types.F64, ast.LoadPlain, true
	}
	return 0, 0, 0, false
}

// storeSuffix resolves a store type suffix to (valueType, memoryType).
// Sub-word stores take an i32 value and truncate.
func storeSuffix(suffix string) (value, memory types.Type, ok bool) {
	switch suffix {
	case "i8":
		return types.I32, types.I8, true
	case "i16":
		return types.I32, types.I16, true
	case "i32":
		return types.I32, types.I32, true
	case "i64":
		return types.I64, types.I64, true
	case "f32":
		return types.F32, types.F32, true
	case "f64":
		return types.F64, types.F64, true
	}
	return 0, 0, false
}

// constSuffix resolves a const type suffix. The text grammar only admits
// 32- and 64-bit literals.
func constSuffix(suffix string) (types.Type, bool) {
	switch suffix {
	case "i32":
		return types.I32, true
	case "i64":
		return types.I64, true
	case "f32":
		return types.F32, true
	case "f64":
		return types.F64, true
	}
	return types.None, false
}
