// Package codegen lowers typed abstract syntax trees to the backend IR: a
// WebAssembly binary module the compiling engine turns into native code.
//
// The lowering bakes the module's safety obligations into the emitted
// instructions: every linear-memory address is masked into the
// power-of-two sandbox address space (32-bit addresses are treated as
// unsigned, never sign-extended), and every indirect-call index is masked
// by its table's size before dispatch. Imports are left symbolic — the
// runtime's link step resolves them against the intrinsic registry.
package codegen

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
	"github.com/wippyai/wast-runtime/wasm"
)

const (
	// EnvModule is the IR module name function imports resolve against.
	EnvModule = "env"

	// DataModule is the IR module name variable imports resolve against.
	DataModule = "env.data"

	// MemoryExport is the export name of the module's linear memory.
	MemoryExport = "memory"

	// internalNamePrefix marks non-exported symbols in the name section
	// so they cannot collide with export names.
	internalNamePrefix = "_"

	pageSize = 64 * 1024
)

// Result is a lowered module ready for the backend.
type Result struct {
	// Binary is the encoded backend IR module.
	Binary []byte

	// AddressSpaceMaxBytes is the power-of-two sandbox size every memory
	// access was masked to.
	AddressSpaceMaxBytes uint64
}

// Compile lowers m to the backend IR. Modules containing parser Error
// nodes fail here; the error names the first diagnostic found.
func Compile(m *ast.Module) (*Result, error) {
	c := &compiler{
		astModule: m,
		out:       &wasm.Module{Names: map[uint32]string{}},
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	binary := c.out.Encode()
	Logger().Debug("module lowered",
		zap.Int("functions", len(m.Functions)),
		zap.Int("binaryBytes", len(binary)),
		zap.Uint64("addressSpaceMaxBytes", c.addressSpaceMax))
	return &Result{
		Binary:               binary,
		AddressSpaceMaxBytes: c.addressSpaceMax,
	}, nil
}

// compiler is the module-level lowering state.
type compiler struct {
	astModule *ast.Module
	out       *wasm.Module

	// globalMap maps AST global indices to IR global indices; imported
	// globals occupy the import slots.
	globalMap []uint32

	// tableBases holds the offset of each AST function table within the
	// single concatenated IR table.
	tableBases []uint32

	addressSpaceMax uint64
	addressMask     uint32 // near-address mask; 0 means the full 32 bits
}

func (c *compiler) numImportedFuncs() uint32 {
	return uint32(len(c.astModule.FunctionImports))
}

func (c *compiler) funcIndex(astIndex int) uint32 {
	return c.numImportedFuncs() + uint32(astIndex)
}

func (c *compiler) compile() error {
	m := c.astModule

	c.compileMemory()

	// Function imports come first in the IR function index space.
	for _, imp := range m.FunctionImports {
		c.out.Imports = append(c.out.Imports, wasm.Import{
			Module:  EnvModule,
			Name:    imp.Name,
			Kind:    wasm.KindFunc,
			TypeIdx: c.out.TypeIndex(lowerSignature(imp.Type)),
		})
	}

	if err := c.compileGlobals(); err != nil {
		return err
	}
	c.compileTables()

	// Reverse the export map so functions can carry their export names.
	exportNames := map[int]string{}
	for name, index := range m.Exports {
		exportNames[index] = name
	}

	for i, fn := range m.Functions {
		irIndex := c.funcIndex(i)
		c.out.Funcs = append(c.out.Funcs, c.out.TypeIndex(lowerSignature(fn.Type)))
		if name, exported := exportNames[i]; exported {
			c.out.Names[irIndex] = name
		} else if fn.Name != "" {
			c.out.Names[irIndex] = internalNamePrefix + fn.Name
		}
	}
	for i, imp := range m.FunctionImports {
		c.out.Names[uint32(i)] = imp.Name
	}

	for name, index := range m.Exports {
		c.out.Exports = append(c.out.Exports, wasm.Export{
			Name: name,
			Kind: wasm.KindFunc,
			Idx:  c.funcIndex(index),
		})
	}
	c.out.Exports = append(c.out.Exports, wasm.Export{
		Name: MemoryExport,
		Kind: wasm.KindMemory,
		Idx:  0,
	})

	for i, fn := range m.Functions {
		body, err := compileFunction(c, fn)
		if err != nil {
			return fmt.Errorf("compile function %d (%s): %w", i, fn.Name, err)
		}
		c.out.Code = append(c.out.Code, body)
	}

	for _, segment := range m.DataSegments {
		c.out.Data = append(c.out.Data, wasm.DataSegment{
			Offset: uint32(segment.BaseAddress),
			Bytes:  segment.Bytes,
		})
	}

	return nil
}

func (c *compiler) compileMemory() {
	m := c.astModule
	initialPages := uint32((m.InitialMemoryBytes + pageSize - 1) / pageSize)
	maxPages := uint32((m.MaxMemoryBytes + pageSize - 1) / pageSize)
	if maxPages < initialPages {
		maxPages = initialPages
	}
	c.out.Memories = append(c.out.Memories, wasm.MemoryType{
		Limits: wasm.Limits{Min: initialPages, Max: &maxPages},
	})

	c.addressSpaceMax = nextPowerOfTwo(m.MaxMemoryBytes)
	if c.addressSpaceMax < pageSize {
		c.addressSpaceMax = pageSize
	}
	if c.addressSpaceMax < ast.MaxMemoryBytes {
		c.addressMask = uint32(c.addressSpaceMax - 1)
	}
}

func (c *compiler) compileGlobals() error {
	m := c.astModule

	imported := make(map[int]bool, len(m.VariableImports))
	c.globalMap = make([]uint32, len(m.Globals))

	// Imported globals occupy the IR global import slots in import order.
	for i, imp := range m.VariableImports {
		if imp.GlobalIndex < 0 || imp.GlobalIndex >= len(m.Globals) {
			return fmt.Errorf("variable import %q references global %d of %d", imp.Name, imp.GlobalIndex, len(m.Globals))
		}
		imported[imp.GlobalIndex] = true
		c.globalMap[imp.GlobalIndex] = uint32(i)
		c.out.Imports = append(c.out.Imports, wasm.Import{
			Module: DataModule,
			Name:   imp.Name,
			Kind:   wasm.KindGlobal,
			Global: &wasm.GlobalType{ValType: lowerType(imp.Type), Mutable: true},
		})
	}

	// Module-defined globals follow, initialized to typed zero.
	next := uint32(len(m.VariableImports))
	for i, global := range m.Globals {
		if imported[i] {
			continue
		}
		c.globalMap[i] = next
		next++
		c.out.Globals = append(c.out.Globals, wasm.Global{
			Type: wasm.GlobalType{ValType: lowerType(global.Type), Mutable: true},
			Init: zeroInit(global.Type),
		})
	}
	return nil
}

func (c *compiler) compileTables() {
	m := c.astModule
	if len(m.FunctionTables) == 0 {
		return
	}
	c.tableBases = make([]uint32, len(m.FunctionTables))
	total := uint32(0)
	for i, table := range m.FunctionTables {
		c.tableBases[i] = total
		indices := make([]uint32, len(table.FunctionIndices))
		for j, astIndex := range table.FunctionIndices {
			indices[j] = c.funcIndex(astIndex)
		}
		c.out.Elements = append(c.out.Elements, wasm.Element{
			Offset:      total,
			FuncIndices: indices,
		})
		total += uint32(len(table.FunctionIndices))
	}
	c.out.Tables = append(c.out.Tables, wasm.TableType{
		Limits: wasm.Limits{Min: total, Max: &total},
	})
}

// lowerType maps a primitive type to its IR value type. Bool and the
// sub-word integers are carried in i32.
func lowerType(t types.Type) wasm.ValType {
	switch t {
	case types.I64:
		return wasm.ValI64
	case types.F32:
		return wasm.ValF32
	case types.F64:
		return wasm.ValF64
	default:
		return wasm.ValI32
	}
}

func lowerSignature(sig types.Function) wasm.FuncType {
	ft := wasm.FuncType{}
	for _, p := range sig.Parameters {
		ft.Params = append(ft.Params, lowerType(p))
	}
	if sig.Return != types.Void {
		ft.Results = append(ft.Results, lowerType(sig.Return))
	}
	return ft
}

// zeroInit builds a typed-zero constant init expression.
func zeroInit(t types.Type) []byte {
	w := wasm.NewWriter()
	switch lowerType(t) {
	case wasm.ValI64:
		w.Byte(wasm.OpI64Const)
		w.WriteS64(0)
	case wasm.ValF32:
		w.Byte(wasm.OpF32Const)
		w.WriteF32(0)
	case wasm.ValF64:
		w.Byte(wasm.OpF64Const)
		w.WriteF64(0)
	default:
		w.Byte(wasm.OpI32Const)
		w.WriteS32(0)
	}
	return w.Bytes()
}

func nextPowerOfTwo(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}
