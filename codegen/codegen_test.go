package codegen

import (
	"bytes"
	"testing"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
	"github.com/wippyai/wast-runtime/wasm"
	"github.com/wippyai/wast-runtime/wast"
)

func compileSource(t *testing.T, source string) *Result {
	t.Helper()
	file := wast.Parse(source)
	if len(file.Errors) != 0 {
		t.Fatalf("parse errors: %v", file.Errors[0].Message)
	}
	result, err := Compile(file.Modules[0])
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return result
}

func TestCompileFunctionBody(t *testing.T) {
	result := compileSource(t, `
		(module
			(func $f (param i32) (result i32)
				(return (add.i32 (get_local 0) (const.i32 1))))
			(export "inc" $f))`)

	// local.get 0; i32.const 1; i32.add; return; end
	body := []byte{0x20, 0x00, 0x41, 0x01, 0x6A, 0x0F, 0x0B}
	if !bytes.Contains(result.Binary, body) {
		t.Fatalf("expected body %#v in binary %#v", body, result.Binary)
	}
	if !bytes.HasPrefix(result.Binary, []byte{0x00, 0x61, 0x73, 0x6d}) {
		t.Fatal("missing binary magic")
	}
}

func TestAddressSpaceIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		source string
		want   uint64
	}{
		{`(module (memory 1024))`, 65536},
		{`(module (memory 65536))`, 65536},
		{`(module (memory 65537))`, 131072},
		{`(module (memory 100000 200000))`, 262144},
	}
	for _, tt := range tests {
		result := compileSource(t, tt.source)
		if result.AddressSpaceMaxBytes != tt.want {
			t.Errorf("%s: address space %d, want %d", tt.source, result.AddressSpaceMaxBytes, tt.want)
		}
	}
}

func TestLoadIsMasked(t *testing.T) {
	result := compileSource(t, `
		(module (memory 1024)
			(func $f (result i32)
				(return (load.i8_u (const.i32 1))))
			(export "g" $f))`)

	// i32.const 1; i32.const 65535; i32.and; i32.load8_u align=0 offset=0
	masked := []byte{0x41, 0x01, 0x41, 0xFF, 0xFF, 0x03, 0x71, 0x2D, 0x00, 0x00}
	if !bytes.Contains(result.Binary, masked) {
		t.Fatalf("sandbox mask missing from %#v", result.Binary)
	}
}

func TestStoreIsMasked(t *testing.T) {
	result := compileSource(t, `
		(module (memory 65536)
			(func $f
				(store.i32 (const.i32 8) (const.i32 7))))`)

	// i32.const 8; i32.const 65535; i32.and; i32.const 7; i32.store
	masked := []byte{0x41, 0x08, 0x41, 0xFF, 0xFF, 0x03, 0x71, 0x41, 0x07, 0x36, 0x00, 0x00}
	if !bytes.Contains(result.Binary, masked) {
		t.Fatalf("store mask missing from %#v", result.Binary)
	}
}

func TestIndirectCallIndexMasked(t *testing.T) {
	result := compileSource(t, `
		(module
			(func $a (result i32) (return (const.i32 0)))
			(func $b (result i32) (return (const.i32 1)))
			(func $c (result i32) (return (const.i32 2)))
			(func $d (result i32) (return (const.i32 3)))
			(table $t $a $b $c $d)
			(func $go (param i32) (result i32)
				(return (call_indirect $t (get_local 0))))
			(export "go" $go))`)

	// local.get 0; i32.const 3; i32.and
	masked := []byte{0x20, 0x00, 0x41, 0x03, 0x71}
	if !bytes.Contains(result.Binary, masked) {
		t.Fatalf("indirect call mask missing from %#v", result.Binary)
	}
	// call_indirect opcode present
	if !bytes.Contains(result.Binary, []byte{0x11}) {
		t.Fatal("call_indirect opcode missing")
	}
}

func TestErrorNodeFailsCompilation(t *testing.T) {
	m := ast.NewModule()
	m.Functions = append(m.Functions, &ast.Function{
		Name: "bad",
		Type: types.NewFunction(types.I32),
		Body: &ast.Error{Class: types.Int, Message: "1:1: parse failed"},
	})
	if _, err := Compile(m); err == nil {
		t.Fatal("module with error node compiled")
	}
}

func TestImportsComeFirstInIndexSpace(t *testing.T) {
	file := wast.Parse(`
		(module
			(import $ext "_ext" (param i32) (result i32))
			(func $f (result i32) (return (call_import $ext (const.i32 1))))
			(func $g (result i32) (return (call $f)))
			(export "g" $g))`)
	if len(file.Errors) != 0 {
		t.Fatalf("parse: %v", file.Errors[0].Message)
	}
	result, err := Compile(file.Modules[0])
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// call_import 0 → call 0x10 0x00; call $f → function index 1 (after
	// one import) → call 0x10 0x01.
	if !bytes.Contains(result.Binary, []byte{0x10, 0x00}) {
		t.Fatal("import call does not target import slot 0")
	}
	if !bytes.Contains(result.Binary, []byte{0x10, 0x01}) {
		t.Fatal("module function not offset past imports")
	}
	if !bytes.Contains(result.Binary, []byte("env")) {
		t.Fatal("import module name missing")
	}
	if !bytes.Contains(result.Binary, []byte("_ext")) {
		t.Fatal("import name missing")
	}
}

func TestMemoryAlwaysExported(t *testing.T) {
	result := compileSource(t, `(module (func $f (result i32) (return (const.i32 0))))`)
	if !bytes.Contains(result.Binary, []byte(MemoryExport)) {
		t.Fatal("memory export missing")
	}
}

func TestInternalNamesPrefixed(t *testing.T) {
	result := compileSource(t, `
		(module
			(func $helper (result i32) (return (const.i32 1)))
			(func $main (result i32) (return (call $helper)))
			(export "main" $main))`)
	if !bytes.Contains(result.Binary, []byte(internalNamePrefix+"helper")) {
		t.Fatal("internal function name not prefixed in name section")
	}
	if bytes.Contains(result.Binary, []byte(internalNamePrefix+"main")) {
		t.Fatal("exported function must carry its export name")
	}
}

func TestSignatureLowering(t *testing.T) {
	sig := lowerSignature(types.NewFunction(types.I32, types.I8, types.Bool, types.F64))
	want := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValF64},
		Results: []wasm.ValType{wasm.ValI32},
	}
	if !sig.Equal(want) {
		t.Fatalf("lowered signature: %+v", sig)
	}
	void := lowerSignature(types.NewFunction(types.Void))
	if len(void.Results) != 0 {
		t.Fatal("void return must lower to no results")
	}
}

func TestGroupLocals(t *testing.T) {
	entries := groupLocals([]wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI64, wasm.ValI32})
	want := []wasm.LocalEntry{{Count: 2, Type: wasm.ValI32}, {Count: 1, Type: wasm.ValI64}, {Count: 1, Type: wasm.ValI32}}
	if len(entries) != len(want) {
		t.Fatalf("entries: %+v", entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d: %+v, want %+v", i, entries[i], want[i])
		}
	}
}
