package ast

// UnaryOp identifies a one-operand arithmetic or bitwise operation. Which
// ops are meaningful depends on the operand's type class: neg through
// popcnt apply to integers, ceil through sqrt to floats, and Not to
// integers and booleans.
type UnaryOp uint8

const (
	Neg UnaryOp = iota
	Abs
	Not
	Clz
	Ctz
	Popcnt
	Ceil
	Floor
	Trunc
	Nearest
	Sqrt
)

var unaryNames = [...]string{
	Neg: "neg", Abs: "abs", Not: "not", Clz: "clz", Ctz: "ctz",
	Popcnt: "popcnt", Ceil: "ceil", Floor: "floor", Trunc: "trunc",
	Nearest: "nearest", Sqrt: "sqrt",
}

func (op UnaryOp) String() string { return unaryNames[op] }

// BinaryOp identifies a two-operand operation on values of one type.
type BinaryOp uint8

const (
	Add BinaryOp = iota
	Sub
	Mul
	DivS
	DivU
	RemS
	RemU
	And
	Or
	Xor
	Shl
	ShrS
	ShrU
	Div
	Rem
	Min
	Max
	CopySign
)

var binaryNames = [...]string{
	Add: "add", Sub: "sub", Mul: "mul", DivS: "div_s", DivU: "div_u",
	RemS: "rem_s", RemU: "rem_u", And: "and", Or: "or", Xor: "xor",
	Shl: "shl", ShrS: "shr_s", ShrU: "shr_u", Div: "div", Rem: "rem",
	Min: "min", Max: "max", CopySign: "copysign",
}

func (op BinaryOp) String() string { return binaryNames[op] }

// CastOp identifies a conversion between two primitive types. The source
// type is carried by the Cast node; the destination is the node's result
// type.
type CastOp uint8

const (
	Wrap CastOp = iota
	TruncSignedFloat
	TruncUnsignedFloat
	SExt
	ZExt
	ReinterpretFloat
	ReinterpretBool
	ConvertSignedInt
	ConvertUnsignedInt
	Promote
	Demote
	ReinterpretInt
)

var castNames = [...]string{
	Wrap: "wrap", TruncSignedFloat: "trunc_s", TruncUnsignedFloat: "trunc_u",
	SExt: "extend_s", ZExt: "extend_u", ReinterpretFloat: "reinterpret",
	ReinterpretBool: "reinterpret", ConvertSignedInt: "convert_s",
	ConvertUnsignedInt: "convert_u", Promote: "promote", Demote: "demote",
	ReinterpretInt: "reinterpret",
}

func (op CastOp) String() string { return castNames[op] }

// CompareOp identifies a comparison yielding bool. The *S/*U variants are
// signed/unsigned integer orderings; the plain orderings apply to floats.
// Booleans compare only with Eq and Ne.
type CompareOp uint8

const (
	Eq CompareOp = iota
	Ne
	Lt
	LtS
	LtU
	Le
	LeS
	LeU
	Gt
	GtS
	GtU
	Ge
	GeS
	GeU
)

var compareNames = [...]string{
	Eq: "eq", Ne: "ne", Lt: "lt", LtS: "lt_s", LtU: "lt_u",
	Le: "le", LeS: "le_s", LeU: "le_u", Gt: "gt", GtS: "gt_s",
	GtU: "gt_u", Ge: "ge", GeS: "ge_s", GeU: "ge_u",
}

func (op CompareOp) String() string { return compareNames[op] }

// LoadOp selects how a memory value narrower than the result type is
// widened.
type LoadOp uint8

const (
	LoadPlain LoadOp = iota
	LoadZExt
	LoadSExt
)

// VarScope selects local or global variable access.
type VarScope uint8

const (
	ScopeLocal VarScope = iota
	ScopeGlobal
)

// CallKind distinguishes direct calls to module functions from calls to
// imported host functions.
type CallKind uint8

const (
	CallDirect CallKind = iota
	CallImport
)
