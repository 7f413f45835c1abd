package runtime

import (
	"bytes"
	"context"
	"strings"
	"testing"

	stderrors "errors"

	wastruntime "github.com/wippyai/wast-runtime"
	"github.com/wippyai/wast-runtime/errors"
	"github.com/wippyai/wast-runtime/intrinsics"
	"github.com/wippyai/wast-runtime/types"
	"github.com/wippyai/wast-runtime/wast"
)

func newTestRuntime(t *testing.T) (*Runtime, *intrinsics.Registry, context.Context) {
	t.Helper()
	ctx := context.Background()
	registry := intrinsics.NewRegistry()
	rt, err := NewWithConfig(ctx, &Config{Registry: registry})
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	return rt, registry, ctx
}

func loadText(t *testing.T, rt *Runtime, ctx context.Context, source string) *Instance {
	t.Helper()
	inst, err := rt.LoadText(ctx, source)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return inst
}

func TestInvokeAddOne(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module
			(func $f (param i32) (result i32)
				(return (add.i32 (get_local 0) (const.i32 1))))
			(export "inc" $f))`)

	results, err := inst.InvokeWithArgs(ctx, "inc", []uint64{41})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if uint32(results[0]) != 42 {
		t.Fatalf("inc(41): got %d, want 42", results[0])
	}
}

func TestLoadFromDataSegment(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module (memory 1024 (segment 0 "abc"))
			(func $f (result i32)
				(return (load.i8_u (const.i32 1))))
			(export "g" $f))`)

	result, err := inst.Invoke(ctx, "g")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != 98 {
		t.Fatalf("g(): got %d, want 98 ('b')", result)
	}
}

func TestSwitchDispatch(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module
			(func $f (param i32) (result i32)
				(return (switch.i32 (get_local 0)
					(case 0 (const.i32 10))
					(case 1 (const.i32 20))
					(const.i32 99))))
			(export "sw" $f))`)

	tests := []struct{ key, want uint64 }{
		{0, 10},
		{1, 20},
		{7, 99},
	}
	for _, tt := range tests {
		results, err := inst.InvokeWithArgs(ctx, "sw", []uint64{tt.key})
		if err != nil {
			t.Fatalf("sw(%d): %v", tt.key, err)
		}
		if results[0] != tt.want {
			t.Errorf("sw(%d): got %d, want %d", tt.key, results[0], tt.want)
		}
	}
}

func TestSwitchFallthrough(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module
			(func $f (param i32) (result i32) (local $acc i32)
				(switch.i32 (get_local 0)
					(case 0 (set_local $acc (add.i32 (get_local $acc) (const.i32 1))) fallthrough)
					(case 1 (set_local $acc (add.i32 (get_local $acc) (const.i32 2))) fallthrough)
					(nop))
				(return (get_local $acc)))
			(export "fall" $f))`)

	tests := []struct{ key, want uint64 }{
		{0, 3}, // falls from case 0 through case 1
		{1, 2},
		{9, 0},
	}
	for _, tt := range tests {
		results, err := inst.InvokeWithArgs(ctx, "fall", []uint64{tt.key})
		if err != nil {
			t.Fatalf("fall(%d): %v", tt.key, err)
		}
		if results[0] != tt.want {
			t.Errorf("fall(%d): got %d, want %d", tt.key, results[0], tt.want)
		}
	}
}

func TestLoopWithBreak(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module
			(func $f (result i32) (local $i i32)
				(set_local $i (const.i32 10))
				(loop $exit $cont
					(if (eq.i32 (get_local $i) (const.i32 0))
						(break $exit (get_local $i)))
					(set_local $i (sub.i32 (get_local $i) (const.i32 1)))))
			(export "count" $f))`)

	result, err := inst.Invoke(ctx, "count")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != 0 {
		t.Fatalf("count(): got %d, want 0", result)
	}
}

func TestIndirectCallMasksIndex(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module
			(func $a (result i32) (return (const.i32 0)))
			(func $b (result i32) (return (const.i32 1)))
			(func $c (result i32) (return (const.i32 2)))
			(func $d (result i32) (return (const.i32 3)))
			(table $t $a $b $c $d)
			(func $go (param i32) (result i32)
				(return (call_indirect $t (get_local 0))))
			(export "go" $go))`)

	// Index 6 masks to 6 & 3 = 2, dispatching table[2].
	results, err := inst.InvokeWithArgs(ctx, "go", []uint64{6})
	if err != nil {
		t.Fatalf("go(6): %v", err)
	}
	if results[0] != 2 {
		t.Fatalf("go(6): got %d, want 2", results[0])
	}
}

func TestMissingImportNamesSignature(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	_, err := rt.LoadText(ctx, `
		(module
			(import $missing "_does_not_exist" (param i32) (result i32))
			(func $f (result i32) (return (call_import $missing (const.i32 1))))
			(export "f" $f))`)
	if err == nil {
		t.Fatal("missing import did not fail the load")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindMissingImport}) {
		t.Fatalf("error kind: %v", err)
	}
	if !strings.Contains(err.Error(), "_does_not_exist") || !strings.Contains(err.Error(), "(i32)->i32") {
		t.Fatalf("diagnostic must name import and signature: %v", err)
	}
}

func TestImportDispatchesRegisteredIntrinsic(t *testing.T) {
	rt, registry, ctx := newTestRuntime(t)

	var got []uint64
	registry.RegisterFunction("_host_add", types.NewFunction(types.I32, types.I32, types.I32),
		func(ctx context.Context, mem wastruntime.Memory, args []uint64) (uint64, error) {
			got = append(got, args...)
			return uint64(uint32(args[0]) + uint32(args[1])), nil
		})

	inst := loadText(t, rt, ctx, `
		(module
			(import $add "_host_add" (param i32 i32) (result i32))
			(func $f (result i32)
				(return (call_import $add (const.i32 30) (const.i32 12))))
			(export "f" $f))`)

	result, err := inst.Invoke(ctx, "f")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != 42 {
		t.Fatalf("f(): got %d, want 42", result)
	}
	if len(got) != 2 || got[0] != 30 || got[1] != 12 {
		t.Fatalf("host args: %v", got)
	}
}

func TestImportTypeMismatchFailsLink(t *testing.T) {
	rt, registry, ctx := newTestRuntime(t)
	registry.RegisterFunction("_f", types.NewFunction(types.I64, types.I32), nil)

	_, err := rt.LoadText(ctx, `
		(module
			(import $f "_f" (param i32) (result i32))
			(func $g (result i32) (return (call_import $f (const.i32 1))))
			(export "g" $g))`)
	if err == nil {
		t.Fatal("type-mismatched import linked")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindMissingImport}) {
		t.Fatalf("error kind: %v", err)
	}
}

func TestVariableImportBound(t *testing.T) {
	rt, registry, ctx := newTestRuntime(t)
	registry.RegisterValue("_magic", types.I32, 1234)

	inst := loadText(t, rt, ctx, `
		(module
			(import "_magic" i32)
			(func $f (result i32) (return (load_global 0)))
			(export "f" $f))`)

	result, err := inst.Invoke(ctx, "f")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != 1234 {
		t.Fatalf("f(): got %d, want 1234", result)
	}
}

func TestGlobalsInitializedToZero(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module
			(global $g i32)
			(func $get (result i32) (return (load_global $g)))
			(func $bump (result i32)
				(store_global $g (add.i32 (load_global $g) (const.i32 5)))
				(return (load_global $g)))
			(export "get" $get)
			(export "bump" $bump))`)

	if result, err := inst.Invoke(ctx, "get"); err != nil || result != 0 {
		t.Fatalf("get(): %d, %v", result, err)
	}
	if result, err := inst.Invoke(ctx, "bump"); err != nil || result != 5 {
		t.Fatalf("bump(): %d, %v", result, err)
	}
	// State persists across calls within an instance.
	if result, err := inst.Invoke(ctx, "bump"); err != nil || result != 10 {
		t.Fatalf("second bump(): %d, %v", result, err)
	}
}

func TestDivideByZeroTraps(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module
			(func $f (param i32) (result i32)
				(return (div_s.i32 (const.i32 1) (get_local 0))))
			(export "div" $f))`)

	if _, err := inst.InvokeWithArgs(ctx, "div", []uint64{0}); err == nil {
		t.Fatal("division by zero did not trap")
	}
	results, err := inst.InvokeWithArgs(ctx, "div", []uint64{1})
	if err != nil {
		t.Fatalf("div(1) after trap: %v", err)
	}
	if results[0] != 1 {
		t.Fatalf("div(1): got %d", results[0])
	}
}

func TestIntrinsicTrapUnwinds(t *testing.T) {
	rt, registry, ctx := newTestRuntime(t)
	var out bytes.Buffer
	intrinsics.RegisterStdlib(registry, &out)

	inst := loadText(t, rt, ctx, `
		(module
			(import $abort "_abort")
			(func $f (result i32)
				(call_import $abort)
				(return (const.i32 1)))
			(export "f" $f))`)

	_, err := inst.Invoke(ctx, "f")
	if err == nil {
		t.Fatal("guest abort did not unwind")
	}
	if !strings.Contains(err.Error(), "abort") {
		t.Fatalf("trap detail: %v", err)
	}
}

func TestUnknownExport(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `
		(module (func $f (result i32) (return (const.i32 1))) (export "f" $f))`)

	if _, err := inst.Invoke(ctx, "F"); err == nil {
		t.Fatal("export lookup must be byte-wise exact")
	}
	if _, err := inst.Invoke(ctx, "g"); err == nil {
		t.Fatal("unknown export resolved")
	}
}

func TestSbrkGrowsAndRejectsOverflow(t *testing.T) {
	rt, registry, ctx := newTestRuntime(t)
	intrinsics.RegisterStdlib(registry, &bytes.Buffer{})

	inst := loadText(t, rt, ctx, `
		(module (memory 1024 131072)
			(func $grow (param i32) (result i32)
				(return (call_import $sbrk (get_local 0))))
			(import $sbrk "_sbrk" (param i32) (result i32))
			(export "grow" $grow))`)

	results, err := inst.InvokeWithArgs(ctx, "grow", []uint64{4096})
	if err != nil {
		t.Fatalf("sbrk(4096): %v", err)
	}
	if uint32(results[0]) != 1024 {
		t.Fatalf("sbrk(4096): previous end %d, want 1024", results[0])
	}
	if inst.Memory().Size() != 1024+4096 {
		t.Fatalf("committed size: %d", inst.Memory().Size())
	}

	// Growth past the reservation fails with the sentinel.
	results, err = inst.InvokeWithArgs(ctx, "grow", []uint64{uint64(1 << 20)})
	if err != nil {
		t.Fatalf("sbrk(1MiB): %v", err)
	}
	if uint32(results[0]) != ^uint32(0) {
		t.Fatalf("oversized sbrk: got %#x, want failure sentinel", results[0])
	}
}

func TestSandboxBoundsChecks(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	inst := loadText(t, rt, ctx, `(module (memory 16))`)

	mem := inst.Memory()
	if err := mem.Write(0, []byte("0123456789abcdef")); err != nil {
		t.Fatalf("write inside bounds: %v", err)
	}
	if _, err := mem.Read(8, 8); err != nil {
		t.Fatalf("read inside bounds: %v", err)
	}
	if _, err := mem.Read(8, 9); err == nil {
		t.Fatal("read past the break must fail")
	}
	if err := mem.WriteU8(16, 1); err == nil {
		t.Fatal("write at the break must fail")
	}
}

func TestRunAssertions(t *testing.T) {
	rt, _, ctx := newTestRuntime(t)
	source := `
		(module
			(func $f (param i32) (result i32)
				(return (add.i32 (get_local 0) (const.i32 1))))
			(export "inc" $f))
		(assert_eq (invoke "inc" (const.i32 41)) (const.i32 42))
		(assert_eq (invoke "inc" (const.i32 0)) (const.i32 99))
		(assert_invalid (module (func $g (result i32) (return (const.f32 1)))) "type mismatch")`

	file := wast.Parse(source)
	if len(file.Errors) != 0 {
		t.Fatalf("parse: %v", file.Errors[0].Message)
	}
	inst, err := rt.LoadModule(ctx, file.Modules[0])
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer inst.Close(ctx)

	results := RunAssertions(ctx, inst, file)
	if len(results) != 3 {
		t.Fatalf("results: %d", len(results))
	}
	if !results[0].Passed {
		t.Errorf("inc(41)==42 failed: %s", results[0].Detail)
	}
	if results[1].Passed {
		t.Error("inc(0)==99 unexpectedly passed")
	}
	if !results[2].Passed {
		t.Errorf("assert_invalid failed: %s", results[2].Detail)
	}
}

func TestModuleLogicalCopy(t *testing.T) {
	file := wast.Parse(`
		(module (func $f (result i32) (return (const.i32 7))) (export "f" $f))`)
	if len(file.Errors) != 0 {
		t.Fatalf("parse: %v", file.Errors[0].Message)
	}
	m := file.Modules[0]
	cp := m.Copy()

	rt, _, ctx := newTestRuntime(t)
	inst, err := rt.LoadModule(ctx, cp)
	if err != nil {
		t.Fatalf("load copy: %v", err)
	}
	defer inst.Close(ctx)
	if result, err := inst.Invoke(ctx, "f"); err != nil || result != 7 {
		t.Fatalf("copied module: %d, %v", result, err)
	}
}
