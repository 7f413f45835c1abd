package ast

import (
	"github.com/wippyai/wast-runtime/arena"
	"github.com/wippyai/wast-runtime/types"
)

// MaxMemoryBytes is the hard ceiling on a module's declared memory.
const MaxMemoryBytes = uint64(1) << 32

// Variable is a typed local or global slot; the name is optional.
type Variable struct {
	Type types.Type
	Name string
}

// Function is a module-defined function. Parameters are a subset of
// Locals: ParameterLocalIndices[i] gives the local slot holding the i-th
// formal, so locals declared before parameters keep their declaration
// order.
type Function struct {
	Name                  string
	Locals                []Variable
	ParameterLocalIndices []int
	Type                  types.Function
	Body                  Expr
}

// FunctionTable is an array of same-signature functions indexed by a
// guest-computed integer. The function count is a power of two so
// indirect-call indices can be masked instead of bounds-checked.
type FunctionTable struct {
	Type            types.Function
	FunctionIndices []int
}

// FunctionImport declares a host function the module calls by name.
type FunctionImport struct {
	Type types.Function
	Name string
}

// VariableImport declares a host value bound to one of the module's
// global slots.
type VariableImport struct {
	Type        types.Type
	Name        string
	GlobalIndex int
}

// DataSegment initializes a byte range of the initial memory image.
type DataSegment struct {
	BaseAddress uint64
	Bytes       []byte
}

// ErrorRecord is one parser or module-invariant diagnostic. The message
// includes the source locus; recording never aborts parsing.
type ErrorRecord struct {
	Message string
}

// Module is a parsed compilation unit. Its name strings and segment bytes
// are copied into Arena, and branch-target ids come from Arena.
// Expression nodes and branch targets themselves are ordinary Go values,
// not arena allocations.
//
// The export map is keyed by the exact export name bytes (the comparison
// is byte-wise, not locale- or case-aware).
type Module struct {
	Arena *arena.Arena

	Functions       []*Function
	Globals         []Variable
	Exports         map[string]int
	FunctionTables  []FunctionTable
	FunctionImports []FunctionImport
	VariableImports []VariableImport
	DataSegments    []DataSegment

	InitialMemoryBytes uint64
	MaxMemoryBytes     uint64
}

// NewModule creates an empty module with a fresh arena.
func NewModule() *Module {
	return &Module{
		Arena:   arena.New(),
		Exports: map[string]int{},
	}
}

// NewBranchTarget allocates a branch-target sentinel with a module-scoped
// identity.
func (m *Module) NewBranchTarget(t types.Type) *BranchTarget {
	return &BranchTarget{ID: m.Arena.NextID(), Type: t}
}

// Copy returns a logical copy of the module: functions, globals, tables,
// imports, and segments are shared with the original, but the copy owns a
// fresh, empty arena. The shared storage stays valid as long as the
// original module is alive.
func (m *Module) Copy() *Module {
	exports := make(map[string]int, len(m.Exports))
	for name, index := range m.Exports {
		exports[name] = index
	}
	return &Module{
		Arena:              arena.New(),
		Functions:          m.Functions,
		Globals:            m.Globals,
		Exports:            exports,
		FunctionTables:     m.FunctionTables,
		FunctionImports:    m.FunctionImports,
		VariableImports:    m.VariableImports,
		DataSegments:       m.DataSegments,
		InitialMemoryBytes: m.InitialMemoryBytes,
		MaxMemoryBytes:     m.MaxMemoryBytes,
	}
}

// Release drops the module's arena storage.
func (m *Module) Release() {
	m.Arena.Release()
}

// ContainsErrors walks every function body and reports whether any Error
// node is present.
func (m *Module) ContainsErrors() bool {
	for _, f := range m.Functions {
		if f.Body != nil && containsError(f.Body) {
			return true
		}
	}
	return false
}

func containsError(e Expr) bool {
	switch n := e.(type) {
	case *Error:
		return true
	case *SetVariable:
		return containsError(n.Value)
	case *Load:
		return containsError(n.Address)
	case *Store:
		return containsError(n.Address) || containsError(n.Value.Expr)
	case *Call:
		return anyError(n.Args)
	case *CallIndirect:
		return containsError(n.Index) || anyError(n.Args)
	case *Unary:
		return containsError(n.Operand)
	case *Binary:
		return containsError(n.Left) || containsError(n.Right)
	case *Cast:
		return containsError(n.Source.Expr)
	case *Comparison:
		return containsError(n.Left) || containsError(n.Right)
	case *IfElse:
		return containsError(n.Condition) || containsError(n.Then) || containsError(n.Else)
	case *Switch:
		if containsError(n.Key.Expr) {
			return true
		}
		for _, arm := range n.Arms {
			if containsError(arm.Value) {
				return true
			}
		}
	case *Label:
		return containsError(n.Body)
	case *Loop:
		return containsError(n.Body)
	case *Sequence:
		return containsError(n.Void) || containsError(n.Result)
	case *Branch:
		if n.Value != nil {
			return containsError(n.Value)
		}
	case *Return:
		if n.Value != nil {
			return containsError(n.Value)
		}
	case *DiscardResult:
		return containsError(n.Inner.Expr)
	}
	return false
}

func anyError(exprs []Expr) bool {
	for _, e := range exprs {
		if containsError(e) {
			return true
		}
	}
	return false
}
