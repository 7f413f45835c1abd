// Package wasm provides the WebAssembly binary module representation the
// code generator emits, with LEB128-based encoding to the wire format.
//
// Only the constructs the compiler produces are modeled: function types,
// imports, one table with active element segments, one memory with data
// segments, globals, exports, function bodies, and the "name" custom
// section.
package wasm

// Module is a WebAssembly module under construction.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices of module-defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// Names populates the "name" custom section: the module's function
	// index space (imports first) to debug names.
	Names map[uint32]string
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports structural signature equality.
func (f FuncType) Equal(other FuncType) bool {
	if len(f.Params) != len(other.Params) || len(f.Results) != len(other.Results) {
		return false
	}
	for i, p := range f.Params {
		if p != other.Params[i] {
			return false
		}
	}
	for i, r := range f.Results {
		if r != other.Results[i] {
			return false
		}
	}
	return true
}

// TypeIndex interns t in the module's type section and returns its index.
func (m *Module) TypeIndex(t FuncType) uint32 {
	for i, existing := range m.Types {
		if existing.Equal(t) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, t)
	return uint32(len(m.Types) - 1)
}

// Import is an imported function or global.
type Import struct {
	Module string
	Name   string
	Kind   byte
	// TypeIdx is set for KindFunc imports.
	TypeIdx uint32
	// Global is set for KindGlobal imports.
	Global *GlobalType
}

// TableType describes a funcref table.
type TableType struct {
	Limits Limits
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// Limits bounds a table or memory size.
type Limits struct {
	Min uint32
	Max *uint32
}

// GlobalType pairs a value type with mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a module-defined global with a constant init expression
// (raw instruction bytes, without the trailing end).
type Global struct {
	Type GlobalType
	Init []byte
}

// Export names a function, table, memory, or global.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an active element segment for table 0: function indices
// placed at a constant offset.
type Element struct {
	Offset      uint32
	FuncIndices []uint32
}

// FuncBody is one code-section entry.
type FuncBody struct {
	// Locals are the non-parameter locals, run-length grouped in order.
	Locals []LocalEntry
	// Body is the instruction stream, ending with the function's end
	// opcode.
	Body []byte
}

// LocalEntry is a run of locals sharing one type.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// DataSegment is an active data segment for memory 0 at a constant
// offset.
type DataSegment struct {
	Offset uint32
	Bytes  []byte
}
