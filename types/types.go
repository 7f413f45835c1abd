// Package types defines the closed set of primitive value types understood
// by the virtual machine, their grouping into type classes, and structural
// function signatures.
package types

import "strings"

// Type identifies a primitive value type.
type Type uint8

// The closed set of primitive types. None is the absence of a type (used
// for untyped parser intermediates); Void is the unit type of statements.
const (
	None Type = iota
	I8
	I16
	I32
	I64
	F32
	F64
	Bool
	Void

	numTypes
)

var typeNames = [numTypes]string{
	None: "none",
	I8:   "i8",
	I16:  "i16",
	I32:  "i32",
	I64:  "i64",
	F32:  "f32",
	F64:  "f64",
	Bool: "bool",
	Void: "void",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "invalid"
}

// ByName resolves a type from its textual name. The second result is false
// for unknown names.
func ByName(name string) (Type, bool) {
	for t, n := range typeNames {
		if t != int(None) && n == name {
			return Type(t), true
		}
	}
	return None, false
}

// Class partitions the primitive types. Every primitive belongs to exactly
// one of Int, Float, BoolClass, or VoidClass; Any is the join over all
// classes and is only used as the static class of generic operations.
type Class uint8

const (
	Int Class = iota
	Float
	BoolClass
	VoidClass
	Any
)

func (c Class) String() string {
	switch c {
	case Int:
		return "Int"
	case Float:
		return "Float"
	case BoolClass:
		return "Bool"
	case VoidClass:
		return "Void"
	case Any:
		return "Any"
	}
	return "invalid"
}

// ClassOf returns the primary type class of t.
func ClassOf(t Type) Class {
	switch t {
	case I8, I16, I32, I64:
		return Int
	case F32, F64:
		return Float
	case Bool:
		return BoolClass
	default:
		return VoidClass
	}
}

// Is reports whether t belongs to class c. Every type belongs to Any.
func Is(t Type, c Class) bool {
	return c == Any || ClassOf(t) == c
}

// BitWidth returns the width of an integer or float type in bits, or 0 for
// bool, void, and none.
func BitWidth(t Type) int {
	switch t {
	case I8:
		return 8
	case I16:
		return 16
	case I32, F32:
		return 32
	case I64, F64:
		return 64
	}
	return 0
}

// ByteWidth returns the width of a memory type in bytes, or 0 for types
// that have no memory representation.
func ByteWidth(t Type) int {
	return BitWidth(t) / 8
}

// Function is a structural function signature.
type Function struct {
	Parameters []Type
	Return     Type
}

// NewFunction builds a signature with the given return type and parameters.
func NewFunction(ret Type, params ...Type) Function {
	return Function{Parameters: params, Return: ret}
}

// Equal reports structural equality of two signatures.
func (f Function) Equal(other Function) bool {
	if f.Return != other.Return || len(f.Parameters) != len(other.Parameters) {
		return false
	}
	for i, p := range f.Parameters {
		if p != other.Parameters[i] {
			return false
		}
	}
	return true
}

// String renders the signature as "(p1,p2)->ret", the form used in
// missing-import diagnostics.
func (f Function) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range f.Parameters {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.String())
	}
	b.WriteString(")->")
	b.WriteString(f.Return.String())
	return b.String()
}
