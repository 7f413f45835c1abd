package wast

import (
	"strings"
	"testing"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
)

func parseOne(t *testing.T, source string) (*ast.Module, *File) {
	t.Helper()
	file := Parse(source)
	if len(file.Modules) != 1 {
		t.Fatalf("modules: got %d, want 1 (errors: %v)", len(file.Modules), messages(file))
	}
	return file.Modules[0], file
}

func messages(file *File) []string {
	var out []string
	for _, rec := range file.Errors {
		out = append(out, rec.Message)
	}
	return out
}

func requireClean(t *testing.T, file *File) {
	t.Helper()
	if len(file.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", messages(file))
	}
}

func TestParseWellFormedModule(t *testing.T) {
	m, file := parseOne(t, `
		(module
			(func $f (param i32) (result i32)
				(return (add.i32 (get_local 0) (const.i32 1))))
			(export "inc" $f))`)
	requireClean(t, file)
	if m.ContainsErrors() {
		t.Fatal("well-formed module contains error nodes")
	}
	if len(m.Functions) != 1 {
		t.Fatalf("functions: %d", len(m.Functions))
	}
	fn := m.Functions[0]
	if fn.Name != "f" || len(fn.Type.Parameters) != 1 || fn.Type.Return != types.I32 {
		t.Fatalf("signature: %+v", fn)
	}
	if index, ok := m.Exports["inc"]; !ok || index != 0 {
		t.Fatalf("export: %v %v", index, ok)
	}
	ret, ok := fn.Body.(*ast.Return)
	if !ok {
		t.Fatalf("body: %T", fn.Body)
	}
	if _, ok := ret.Value.(*ast.Binary); !ok {
		t.Fatalf("return value: %T", ret.Value)
	}
}

func TestParseErrorCarriesLocus(t *testing.T) {
	file := Parse("(module\n  (func $f (result i32)\n    (bogus.i32)))")
	if len(file.Errors) == 0 {
		t.Fatal("ill-formed input recorded no errors")
	}
	if !strings.Contains(file.Errors[0].Message, "3:") {
		t.Fatalf("error lacks line locus: %q", file.Errors[0].Message)
	}
}

func TestNameAndIndexResolveSameEntity(t *testing.T) {
	byName, file := parseOne(t, `
		(module
			(func $zero (result i32) (return (const.i32 0)))
			(func $f (result i32) (return (call $zero))))`)
	requireClean(t, file)
	byIndex, file2 := parseOne(t, `
		(module
			(func $zero (result i32) (return (const.i32 0)))
			(func $f (result i32) (return (call 0))))`)
	requireClean(t, file2)

	callOf := func(m *ast.Module) *ast.Call {
		ret := m.Functions[1].Body.(*ast.Return)
		return ret.Value.(*ast.Call)
	}
	if callOf(byName).Index != callOf(byIndex).Index {
		t.Fatalf("name and index resolve differently: %d vs %d",
			callOf(byName).Index, callOf(byIndex).Index)
	}
}

func TestDuplicateNamesReported(t *testing.T) {
	file := Parse(`
		(module
			(func $f (result i32) (return (const.i32 1)))
			(func $f (result i32) (return (const.i32 2))))`)
	count := 0
	for _, rec := range file.Errors {
		if strings.Contains(rec.Message, "duplicate function name") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("duplicate name errors: got %d, want 1 (%v)", count, messages(file))
	}
}

func TestBranchTargetsLexicallyScoped(t *testing.T) {
	m, file := parseOne(t, `
		(module
			(func $f (result i32) (local $i i32)
				(set_local $i (const.i32 10))
				(loop $exit $cont
					(if (eq.i32 (get_local $i) (const.i32 0))
						(break $exit (get_local $i)))
					(set_local $i (sub.i32 (get_local $i) (const.i32 1))))))`)
	requireClean(t, file)

	seq := m.Functions[0].Body.(*ast.Sequence)
	loop := seq.Result.(*ast.Loop)
	ifElse := loopFirstIf(t, loop.Body)
	branch := ifElse.Then.(*ast.Branch)
	if branch.Target.ID != loop.Break.ID {
		t.Fatalf("break target %d is not the loop break target %d", branch.Target.ID, loop.Break.ID)
	}
	if branch.Value == nil {
		t.Fatal("break to a non-void target must carry a value")
	}
}

func loopFirstIf(t *testing.T, body ast.Expr) *ast.IfElse {
	t.Helper()
	switch n := body.(type) {
	case *ast.IfElse:
		return n
	case *ast.Sequence:
		if ifElse, ok := n.Void.(*ast.IfElse); ok {
			return ifElse
		}
		return loopFirstIf(t, n.Void)
	}
	t.Fatalf("no if in loop body: %T", body)
	return nil
}

func TestCoercionIntConditionBecomesComparison(t *testing.T) {
	m, file := parseOne(t, `
		(module
			(func $f (result i32)
				(return (if (const.i32 7) (const.i32 1) (const.i32 2)))))`)
	requireClean(t, file)
	ret := m.Functions[0].Body.(*ast.Return)
	ifElse := ret.Value.(*ast.IfElse)
	cmp, ok := ifElse.Condition.(*ast.Comparison)
	if !ok {
		t.Fatalf("condition: %T, want coerced comparison", ifElse.Condition)
	}
	if cmp.Op != ast.Ne || cmp.OperandType != types.I32 {
		t.Fatalf("coercion: op %s operand %s", cmp.Op, cmp.OperandType)
	}
}

func TestCoercionDiscardResult(t *testing.T) {
	m, file := parseOne(t, `
		(module
			(func $f
				(block (const.i32 1) (nop))))`)
	requireClean(t, file)
	seq := m.Functions[0].Body.(*ast.Sequence)
	if _, ok := seq.Void.(*ast.DiscardResult); !ok {
		t.Fatalf("non-final i32 expression: %T, want DiscardResult", seq.Void)
	}
}

func TestTypeMismatchRecorded(t *testing.T) {
	file := Parse(`
		(module
			(func $f (result f32)
				(return (const.i32 1))))`)
	if len(file.Errors) == 0 {
		t.Fatal("f32/i32 mismatch not recorded")
	}
	if !strings.Contains(file.Errors[0].Message, "type error") {
		t.Fatalf("message: %q", file.Errors[0].Message)
	}
	if !file.Modules[0].ContainsErrors() {
		t.Fatal("mismatch did not produce an in-tree error node")
	}
}

func TestSwitchArmsAndFallthrough(t *testing.T) {
	m, file := parseOne(t, `
		(module
			(func $f (param i32) (result i32)
				(return (switch.i32 (get_local 0)
					(case 0 (const.i32 10))
					(case 1 (set_local 0 (const.i32 5)) fallthrough)
					(case 2 (const.i32 20))
					(const.i32 99)))))`)
	requireClean(t, file)

	sw := m.Functions[0].Body.(*ast.Return).Value.(*ast.Switch)
	if len(sw.Arms) != 4 {
		t.Fatalf("arms: %d", len(sw.Arms))
	}
	if sw.DefaultArm != 3 {
		t.Fatalf("default arm: %d", sw.DefaultArm)
	}
	// A non-fallthrough arm ends in a branch to the switch end.
	branch, ok := sw.Arms[0].Value.(*ast.Branch)
	if !ok {
		t.Fatalf("arm 0: %T, want Branch", sw.Arms[0].Value)
	}
	if branch.Target.ID != sw.End.ID {
		t.Fatal("arm 0 branch does not target the switch end")
	}
	// The fallthrough arm stays void with no terminating branch.
	if _, ok := sw.Arms[1].Value.(*ast.Branch); ok {
		t.Fatal("fallthrough arm must not branch to the switch end")
	}
	if sw.Arms[2].Key != 2 {
		t.Fatalf("arm 2 key: %d", sw.Arms[2].Key)
	}
}

func TestMemoryDeclarationAndSegments(t *testing.T) {
	m, file := parseOne(t, `
		(module (memory 1024 2048 (segment 0 "abc") (segment 100 "xyz")))`)
	requireClean(t, file)
	if m.InitialMemoryBytes != 1024 || m.MaxMemoryBytes != 2048 {
		t.Fatalf("memory sizes: %d/%d", m.InitialMemoryBytes, m.MaxMemoryBytes)
	}
	if len(m.DataSegments) != 2 || string(m.DataSegments[0].Bytes) != "abc" {
		t.Fatalf("segments: %+v", m.DataSegments)
	}
}

func TestSegmentOutOfBoundsRecorded(t *testing.T) {
	file := Parse(`(module (memory 4 (segment 2 "abc")))`)
	found := false
	for _, rec := range file.Errors {
		if strings.Contains(rec.Message, "data segment bounds") {
			found = true
		}
	}
	if !found {
		t.Fatalf("segment bounds not checked: %v", messages(file))
	}
}

func TestTableMustBePowerOfTwo(t *testing.T) {
	file := Parse(`
		(module
			(func $a (result i32) (return (const.i32 0)))
			(table $t $a $a $a))`)
	found := false
	for _, rec := range file.Errors {
		if strings.Contains(rec.Message, "power of two") {
			found = true
		}
	}
	if !found {
		t.Fatalf("table size not checked: %v", messages(file))
	}
}

func TestTableSignaturesMustMatch(t *testing.T) {
	file := Parse(`
		(module
			(func $a (result i32) (return (const.i32 0)))
			(func $b (result i64) (return (const.i64 0)))
			(table $t $a $b))`)
	found := false
	for _, rec := range file.Errors {
		if strings.Contains(rec.Message, "single type") {
			found = true
		}
	}
	if !found {
		t.Fatalf("table signature mismatch not checked: %v", messages(file))
	}
}

func TestImportDeclarations(t *testing.T) {
	m, file := parseOne(t, `
		(module
			(import $sbrk "_sbrk" (param i32) (result i32))
			(import "_errno" i32)
			(func $f (result i32) (return (call_import $sbrk (const.i32 0)))))`)
	requireClean(t, file)
	if len(m.FunctionImports) != 1 {
		t.Fatalf("function imports: %d", len(m.FunctionImports))
	}
	imp := m.FunctionImports[0]
	if imp.Name != "_sbrk" || imp.Type.String() != "(i32)->i32" {
		t.Fatalf("import: %+v", imp)
	}
	if len(m.VariableImports) != 1 || m.VariableImports[0].Name != "_errno" {
		t.Fatalf("variable imports: %+v", m.VariableImports)
	}
	if m.VariableImports[0].GlobalIndex != 0 || len(m.Globals) != 1 {
		t.Fatalf("imported global binding: %+v", m.VariableImports[0])
	}
	call := m.Functions[0].Body.(*ast.Return).Value.(*ast.Call)
	if call.Kind != ast.CallImport || call.Index != 0 {
		t.Fatalf("call_import: %+v", call)
	}
}

func TestForwardReferencesResolve(t *testing.T) {
	m, file := parseOne(t, `
		(module
			(func $first (result i32) (return (call $second)))
			(func $second (result i32) (return (const.i32 2))))`)
	requireClean(t, file)
	call := m.Functions[0].Body.(*ast.Return).Value.(*ast.Call)
	if call.Index != 1 {
		t.Fatalf("forward call resolves to %d", call.Index)
	}
}

func TestAssertEqParsed(t *testing.T) {
	file := Parse(`
		(module
			(func $f (param i32) (result i32) (return (get_local 0)))
			(export "id" $f))
		(assert_eq (invoke "id" (const.i32 41)) (const.i32 41))`)
	requireClean(t, file)
	if len(file.AssertEqs) != 1 {
		t.Fatalf("assert_eqs: %d", len(file.AssertEqs))
	}
	assertion := file.AssertEqs[0]
	if assertion.TargetModule != file.Modules[0] || assertion.FunctionIndex != 0 {
		t.Fatalf("assertion target: %+v", assertion)
	}
	if len(assertion.Args) != 1 {
		t.Fatalf("args: %d", len(assertion.Args))
	}
	if lit, ok := assertion.Args[0].Expr.(*ast.Literal); !ok || lit.Int != 41 {
		t.Fatalf("arg literal: %+v", assertion.Args[0].Expr)
	}
}

func TestAssertInvalidParsed(t *testing.T) {
	file := Parse(`
		(assert_invalid (module (func $f (result i32) (return (const.f32 1)))) "type mismatch")`)
	if len(file.Errors) != 0 {
		t.Fatalf("inner module errors leaked: %v", messages(file))
	}
	if len(file.AssertInvalids) != 1 || file.AssertInvalids[0].ErrorsSeen == 0 {
		t.Fatalf("assert_invalid: %+v", file.AssertInvalids)
	}
}

func TestParserNeverAborts(t *testing.T) {
	// A pile of malformed forms must produce errors, not a panic, and
	// the modules must stay structurally valid.
	file := Parse(`
		(module
			(func $f (result i32) (unknown.op (const.i32 1)))
			(func $g (result i32) (return))
			(memory 10 5)
			(export 42 $f)
			(gibberish))`)
	if len(file.Errors) == 0 {
		t.Fatal("malformed module produced no diagnostics")
	}
	if len(file.Modules) != 1 {
		t.Fatalf("modules: %d", len(file.Modules))
	}
}
