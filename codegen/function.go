package codegen

import (
	"fmt"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
	"github.com/wippyai/wast-runtime/wasm"
)

// funcCompiler lowers one function body. It is an ast.Visitor, so the
// dispatcher statically guarantees a lowering exists for every expression
// variant.
type funcCompiler struct {
	c    *compiler
	fn   *ast.Function
	code *wasm.Writer

	// localMap maps AST local indices to IR local indices: formals first
	// in formal order, remaining locals after.
	localMap  []uint32
	numLocals uint32

	// extraLocals are compiler temporaries appended after the declared
	// locals.
	extraLocals []wasm.ValType

	// scratchA/scratchB are shared temporaries whose lifetime never
	// spans compiling a subexpression.
	scratchA map[wasm.ValType]uint32
	scratchB map[wasm.ValType]uint32

	// blockDepth counts enclosing IR blocks; targets records the branch
	// targets in scope with the depth of their destination block.
	blockDepth int
	targets    []targetRecord
}

type targetRecord struct {
	target *ast.BranchTarget
	depth  int
}

func compileFunction(c *compiler, fn *ast.Function) (wasm.FuncBody, error) {
	fc := &funcCompiler{
		c:        c,
		fn:       fn,
		code:     wasm.NewWriter(),
		scratchA: map[wasm.ValType]uint32{},
		scratchB: map[wasm.ValType]uint32{},
	}

	// Formal parameters occupy IR local slots 0..P-1; every other local
	// follows in declaration order, zero-initialized by the backend.
	numParams := len(fn.ParameterLocalIndices)
	fc.localMap = make([]uint32, len(fn.Locals))
	isParam := make([]bool, len(fn.Locals))
	for p, localIndex := range fn.ParameterLocalIndices {
		fc.localMap[localIndex] = uint32(p)
		isParam[localIndex] = true
	}
	next := uint32(numParams)
	var declared []wasm.ValType
	for i := range fn.Locals {
		if isParam[i] {
			continue
		}
		fc.localMap[i] = next
		next++
		declared = append(declared, lowerType(fn.Locals[i].Type))
	}
	fc.numLocals = next

	if fn.Body == nil {
		return wasm.FuncBody{}, fmt.Errorf("function has no body")
	}
	if err := ast.Dispatch(fc, fn.Body, fn.Type.Return); err != nil {
		return wasm.FuncBody{}, err
	}
	fc.code.Byte(wasm.OpEnd)

	return wasm.FuncBody{
		Locals: groupLocals(append(declared, fc.extraLocals...)),
		Body:   fc.code.Bytes(),
	}, nil
}

func groupLocals(locals []wasm.ValType) []wasm.LocalEntry {
	var entries []wasm.LocalEntry
	for _, vt := range locals {
		if n := len(entries); n > 0 && entries[n-1].Type == vt {
			entries[n-1].Count++
			continue
		}
		entries = append(entries, wasm.LocalEntry{Count: 1, Type: vt})
	}
	return entries
}

// newLocal allocates a fresh IR local of the given type.
func (fc *funcCompiler) newLocal(vt wasm.ValType) uint32 {
	index := fc.numLocals + uint32(len(fc.extraLocals))
	fc.extraLocals = append(fc.extraLocals, vt)
	return index
}

// scratch returns the shared temporary pair for a value type.
func (fc *funcCompiler) scratch(vt wasm.ValType) (uint32, uint32) {
	a, ok := fc.scratchA[vt]
	if !ok {
		a = fc.newLocal(vt)
		fc.scratchA[vt] = a
	}
	b, ok := fc.scratchB[vt]
	if !ok {
		b = fc.newLocal(vt)
		fc.scratchB[vt] = b
	}
	return a, b
}

func (fc *funcCompiler) op(b byte) { fc.code.Byte(b) }

func (fc *funcCompiler) constI32(v int32) {
	fc.op(wasm.OpI32Const)
	fc.code.WriteS32(v)
}

func (fc *funcCompiler) constI64(v int64) {
	fc.op(wasm.OpI64Const)
	fc.code.WriteS64(v)
}

func (fc *funcCompiler) localGet(index uint32) {
	fc.op(wasm.OpLocalGet)
	fc.code.WriteU32(index)
}

func (fc *funcCompiler) localSet(index uint32) {
	fc.op(wasm.OpLocalSet)
	fc.code.WriteU32(index)
}

func (fc *funcCompiler) localTee(index uint32) {
	fc.op(wasm.OpLocalTee)
	fc.code.WriteU32(index)
}

func (fc *funcCompiler) blockType(t types.Type) {
	if t == types.Void {
		fc.code.Byte(wasm.BlockTypeVoid)
	} else {
		fc.code.Byte(byte(lowerType(t)))
	}
}

func (fc *funcCompiler) beginBlock(opcode byte, t types.Type) {
	fc.op(opcode)
	fc.blockType(t)
	fc.blockDepth++
}

func (fc *funcCompiler) endBlock() {
	fc.op(wasm.OpEnd)
	fc.blockDepth--
}

func (fc *funcCompiler) pushTarget(target *ast.BranchTarget) {
	fc.targets = append(fc.targets, targetRecord{target: target, depth: fc.blockDepth})
}

func (fc *funcCompiler) popTarget() {
	fc.targets = fc.targets[:len(fc.targets)-1]
}

// branchTo emits a br to the in-scope record of target, matched by
// identity.
func (fc *funcCompiler) branchTo(target *ast.BranchTarget) error {
	for i := len(fc.targets) - 1; i >= 0; i-- {
		if fc.targets[i].target.ID == target.ID {
			fc.op(wasm.OpBr)
			fc.code.WriteU32(uint32(fc.blockDepth - fc.targets[i].depth))
			return nil
		}
	}
	return fmt.Errorf("branch to a target outside lexical scope")
}

// isNarrow reports whether t is a sub-word integer carried in i32.
func isNarrow(t types.Type) bool {
	return t == types.I8 || t == types.I16
}

// canon re-canonicalizes a sub-word integer on the stack to its
// sign-extended form.
func (fc *funcCompiler) canon(t types.Type) {
	switch t {
	case types.I8:
		fc.op(wasm.OpI32Extend8S)
	case types.I16:
		fc.op(wasm.OpI32Extend16S)
	}
}

// maskNarrow masks a sub-word integer on the stack to its unsigned bit
// pattern.
func (fc *funcCompiler) maskNarrow(t types.Type) {
	switch t {
	case types.I8:
		fc.constI32(0xff)
		fc.op(wasm.OpI32And)
	case types.I16:
		fc.constI32(0xffff)
		fc.op(wasm.OpI32And)
	}
}

func is64(t types.Type) bool { return t == types.I64 }

func (fc *funcCompiler) VisitLiteral(t types.Type, e *ast.Literal) error {
	switch e.Type {
	case types.I8:
		fc.constI32(int32(int8(e.Int)))
	case types.I16:
		fc.constI32(int32(int16(e.Int)))
	case types.I32:
		fc.constI32(int32(uint32(e.Int)))
	case types.I64:
		fc.constI64(int64(e.Int))
	case types.Bool:
		fc.constI32(int32(e.Int & 1))
	case types.F32:
		fc.op(wasm.OpF32Const)
		fc.code.WriteF32(float32(e.Float))
	case types.F64:
		fc.op(wasm.OpF64Const)
		fc.code.WriteF64(e.Float)
	default:
		return fmt.Errorf("literal of type %s", e.Type)
	}
	return nil
}

func (fc *funcCompiler) VisitGetVariable(t types.Type, e *ast.GetVariable) error {
	if e.Scope == ast.ScopeLocal {
		if e.Index < 0 || e.Index >= len(fc.localMap) {
			return fmt.Errorf("local index %d out of range", e.Index)
		}
		fc.localGet(fc.localMap[e.Index])
		return nil
	}
	if e.Index < 0 || e.Index >= len(fc.c.globalMap) {
		return fmt.Errorf("global index %d out of range", e.Index)
	}
	fc.op(wasm.OpGlobalGet)
	fc.code.WriteU32(fc.c.globalMap[e.Index])
	return nil
}

func (fc *funcCompiler) VisitSetVariable(t types.Type, e *ast.SetVariable) error {
	if e.Scope == ast.ScopeLocal {
		if e.Index < 0 || e.Index >= len(fc.localMap) {
			return fmt.Errorf("local index %d out of range", e.Index)
		}
		if err := ast.Dispatch(fc, e.Value, fc.fn.Locals[e.Index].Type); err != nil {
			return err
		}
		fc.localSet(fc.localMap[e.Index])
		return nil
	}
	if e.Index < 0 || e.Index >= len(fc.c.globalMap) {
		return fmt.Errorf("global index %d out of range", e.Index)
	}
	if err := ast.Dispatch(fc, e.Value, fc.c.astModule.Globals[e.Index].Type); err != nil {
		return err
	}
	fc.op(wasm.OpGlobalSet)
	fc.code.WriteU32(fc.c.globalMap[e.Index])
	return nil
}

// compileAddress lowers a memory address: far addresses are masked in 64
// bits then wrapped; near addresses are zero-extended by construction
// (i32 is unsigned here) and masked in 32 bits. Sign extension is never
// used — a negative 32-bit offset must not escape the sandbox.
func (fc *funcCompiler) compileAddress(address ast.Expr, far bool) error {
	if far {
		if err := ast.Dispatch(fc, address, types.I64); err != nil {
			return err
		}
		fc.constI64(int64(fc.c.addressSpaceMax - 1))
		fc.op(wasm.OpI64And)
		fc.op(wasm.OpI32WrapI64)
		return nil
	}
	if err := ast.Dispatch(fc, address, types.I32); err != nil {
		return err
	}
	if fc.c.addressMask != 0 {
		fc.constI32(int32(fc.c.addressMask))
		fc.op(wasm.OpI32And)
	}
	return nil
}

// memarg emits the alignment/offset immediate. Masked addresses carry no
// static alignment guarantee, so byte alignment is declared.
func (fc *funcCompiler) memarg() {
	fc.code.WriteU32(0)
	fc.code.WriteU32(0)
}

func (fc *funcCompiler) VisitLoad(t types.Type, e *ast.Load) error {
	if err := fc.compileAddress(e.Address, e.FarAddress); err != nil {
		return err
	}
	signed := e.Op != ast.LoadZExt
	var opcode byte
	switch {
	case t == types.F32:
		opcode = wasm.OpF32Load
	case t == types.F64:
		opcode = wasm.OpF64Load
	case is64(t):
		switch e.MemoryType {
		case types.I8:
			opcode = pick(signed, wasm.OpI64Load8S, wasm.OpI64Load8U)
		case types.I16:
			opcode = pick(signed, wasm.OpI64Load16S, wasm.OpI64Load16U)
		case types.I32:
			opcode = pick(signed, wasm.OpI64Load32S, wasm.OpI64Load32U)
		default:
			opcode = wasm.OpI64Load
		}
	default:
		switch e.MemoryType {
		case types.I8:
			opcode = pick(signed, wasm.OpI32Load8S, wasm.OpI32Load8U)
		case types.I16:
			opcode = pick(signed, wasm.OpI32Load16S, wasm.OpI32Load16U)
		default:
			opcode = wasm.OpI32Load
		}
	}
	fc.op(opcode)
	fc.memarg()
	fc.canon(t)
	return nil
}

func pick(cond bool, a, b byte) byte {
	if cond {
		return a
	}
	return b
}

func (fc *funcCompiler) VisitStore(t types.Type, e *ast.Store) error {
	if err := fc.compileAddress(e.Address, e.FarAddress); err != nil {
		return err
	}
	if err := ast.Dispatch(fc, e.Value.Expr, e.Value.Type); err != nil {
		return err
	}
	var opcode byte
	switch {
	case e.Value.Type == types.F32:
		opcode = wasm.OpF32Store
	case e.Value.Type == types.F64:
		opcode = wasm.OpF64Store
	case is64(e.Value.Type):
		switch e.MemoryType {
		case types.I8:
			opcode = wasm.OpI64Store8
		case types.I16:
			opcode = wasm.OpI64Store16
		case types.I32:
			opcode = wasm.OpI64Store32
		default:
			opcode = wasm.OpI64Store
		}
	default:
		switch e.MemoryType {
		case types.I8:
			opcode = wasm.OpI32Store8
		case types.I16:
			opcode = wasm.OpI32Store16
		default:
			opcode = wasm.OpI32Store
		}
	}
	fc.op(opcode)
	fc.memarg()
	return nil
}

func (fc *funcCompiler) VisitCall(t types.Type, e *ast.Call) error {
	var sig types.Function
	var irIndex uint32
	if e.Kind == ast.CallDirect {
		if e.Index < 0 || e.Index >= len(fc.c.astModule.Functions) {
			return fmt.Errorf("call index %d out of range", e.Index)
		}
		sig = fc.c.astModule.Functions[e.Index].Type
		irIndex = fc.c.funcIndex(e.Index)
	} else {
		if e.Index < 0 || e.Index >= len(fc.c.astModule.FunctionImports) {
			return fmt.Errorf("call_import index %d out of range", e.Index)
		}
		sig = fc.c.astModule.FunctionImports[e.Index].Type
		irIndex = uint32(e.Index)
	}
	if len(e.Args) != len(sig.Parameters) {
		return fmt.Errorf("call arity %d, signature wants %d", len(e.Args), len(sig.Parameters))
	}
	for i, arg := range e.Args {
		if err := ast.Dispatch(fc, arg, sig.Parameters[i]); err != nil {
			return err
		}
	}
	fc.op(wasm.OpCall)
	fc.code.WriteU32(irIndex)
	return nil
}

func (fc *funcCompiler) VisitCallIndirect(t types.Type, e *ast.CallIndirect) error {
	if e.TableIndex < 0 || e.TableIndex >= len(fc.c.astModule.FunctionTables) {
		return fmt.Errorf("table index %d out of range", e.TableIndex)
	}
	table := fc.c.astModule.FunctionTables[e.TableIndex]
	numFunctions := len(table.FunctionIndices)
	if numFunctions == 0 || numFunctions&(numFunctions-1) != 0 {
		return fmt.Errorf("function table size %d is not a power of two", numFunctions)
	}

	// The index is evaluated before the arguments (strict left-to-right
	// order), so it parks in a dedicated temporary across the argument
	// expressions.
	if err := ast.Dispatch(fc, e.Index, types.I32); err != nil {
		return err
	}
	fc.constI32(int32(numFunctions - 1))
	fc.op(wasm.OpI32And)
	if base := fc.c.tableBases[e.TableIndex]; base != 0 {
		fc.constI32(int32(base))
		fc.op(wasm.OpI32Add)
	}
	indexLocal := fc.newLocal(wasm.ValI32)
	fc.localSet(indexLocal)

	for i, arg := range e.Args {
		if err := ast.Dispatch(fc, arg, table.Type.Parameters[i]); err != nil {
			return err
		}
	}
	fc.localGet(indexLocal)

	fc.op(wasm.OpCallIndirect)
	fc.code.WriteU32(fc.c.out.TypeIndex(lowerSignature(table.Type)))
	fc.code.WriteU32(0) // table 0
	return nil
}

func (fc *funcCompiler) VisitUnary(t types.Type, e *ast.Unary) error {
	if err := ast.Dispatch(fc, e.Operand, t); err != nil {
		return err
	}
	switch types.ClassOf(t) {
	case types.Float:
		return fc.floatUnary(t, e.Op)
	case types.BoolClass:
		if e.Op != ast.Not {
			return fmt.Errorf("unary %s on bool", e.Op)
		}
		fc.op(wasm.OpI32Eqz)
		return nil
	case types.Int:
		return fc.intUnary(t, e.Op)
	}
	return fmt.Errorf("unary %s on %s", e.Op, t)
}

func (fc *funcCompiler) floatUnary(t types.Type, op ast.UnaryOp) error {
	f32 := t == types.F32
	switch op {
	case ast.Neg:
		fc.op(pick(f32, wasm.OpF32Neg, wasm.OpF64Neg))
	case ast.Abs:
		fc.op(pick(f32, wasm.OpF32Abs, wasm.OpF64Abs))
	case ast.Ceil:
		fc.op(pick(f32, wasm.OpF32Ceil, wasm.OpF64Ceil))
	case ast.Floor:
		fc.op(pick(f32, wasm.OpF32Floor, wasm.OpF64Floor))
	case ast.Trunc:
		fc.op(pick(f32, wasm.OpF32Trunc, wasm.OpF64Trunc))
	case ast.Nearest:
		fc.op(pick(f32, wasm.OpF32Nearest, wasm.OpF64Nearest))
	case ast.Sqrt:
		fc.op(pick(f32, wasm.OpF32Sqrt, wasm.OpF64Sqrt))
	default:
		return fmt.Errorf("unary %s on %s", op, t)
	}
	return nil
}

func (fc *funcCompiler) intUnary(t types.Type, op ast.UnaryOp) error {
	wide := is64(t)
	switch op {
	case ast.Neg:
		if wide {
			fc.constI64(-1)
			fc.op(wasm.OpI64Mul)
		} else {
			fc.constI32(-1)
			fc.op(wasm.OpI32Mul)
		}
		fc.canon(t)
	case ast.Not:
		if wide {
			fc.constI64(-1)
			fc.op(wasm.OpI64Xor)
		} else {
			fc.constI32(-1)
			fc.op(wasm.OpI32Xor)
		}
	case ast.Abs:
		// (x + (x >> w-1)) ^ (x >> w-1)
		vt := pick(wide, byte(wasm.ValI64), byte(wasm.ValI32))
		value, mask := fc.scratch(wasm.ValType(vt))
		fc.localTee(value)
		if wide {
			fc.constI64(63)
			fc.op(wasm.OpI64ShrS)
			fc.localTee(mask)
			fc.localGet(value)
			fc.op(wasm.OpI64Add)
			fc.localGet(mask)
			fc.op(wasm.OpI64Xor)
		} else {
			fc.constI32(31)
			fc.op(wasm.OpI32ShrS)
			fc.localTee(mask)
			fc.localGet(value)
			fc.op(wasm.OpI32Add)
			fc.localGet(mask)
			fc.op(wasm.OpI32Xor)
		}
		fc.canon(t)
	case ast.Clz:
		if isNarrow(t) {
			// Count within the narrow width: clz(zext) minus the
			// container's surplus bits.
			fc.maskNarrow(t)
			fc.op(wasm.OpI32Clz)
			fc.constI32(int32(32 - types.BitWidth(t)))
			fc.op(wasm.OpI32Sub)
		} else {
			fc.op(pick(wide, wasm.OpI64Clz, wasm.OpI32Clz))
		}
	case ast.Ctz:
		if isNarrow(t) {
			// A set guard bit above the narrow width caps the count.
			fc.maskNarrow(t)
			fc.constI32(int32(1) << types.BitWidth(t))
			fc.op(wasm.OpI32Or)
			fc.op(wasm.OpI32Ctz)
		} else {
			fc.op(pick(wide, wasm.OpI64Ctz, wasm.OpI32Ctz))
		}
	case ast.Popcnt:
		if isNarrow(t) {
			fc.maskNarrow(t)
		}
		fc.op(pick(wide, wasm.OpI64Popcnt, wasm.OpI32Popcnt))
	default:
		return fmt.Errorf("unary %s on %s", op, t)
	}
	return nil
}

func (fc *funcCompiler) VisitBinary(t types.Type, e *ast.Binary) error {
	switch types.ClassOf(t) {
	case types.Float:
		return fc.floatBinary(t, e)
	case types.BoolClass:
		if err := ast.Dispatch(fc, e.Left, t); err != nil {
			return err
		}
		if err := ast.Dispatch(fc, e.Right, t); err != nil {
			return err
		}
		switch e.Op {
		case ast.And:
			fc.op(wasm.OpI32And)
		case ast.Or:
			fc.op(wasm.OpI32Or)
		default:
			return fmt.Errorf("binary %s on bool", e.Op)
		}
		return nil
	case types.Int:
		return fc.intBinary(t, e)
	}
	return fmt.Errorf("binary %s on %s", e.Op, t)
}

// narrowUnsignedOp reports whether an op needs its sub-word operands
// masked to their unsigned bit pattern first.
func narrowUnsignedOp(op ast.BinaryOp) bool {
	switch op {
	case ast.DivU, ast.RemU, ast.ShrU:
		return true
	}
	return false
}

var intBinaryOps32 = map[ast.BinaryOp]byte{
	ast.Add: wasm.OpI32Add, ast.Sub: wasm.OpI32Sub, ast.Mul: wasm.OpI32Mul,
	ast.DivS: wasm.OpI32DivS, ast.DivU: wasm.OpI32DivU,
	ast.RemS: wasm.OpI32RemS, ast.RemU: wasm.OpI32RemU,
	ast.And: wasm.OpI32And, ast.Or: wasm.OpI32Or, ast.Xor: wasm.OpI32Xor,
	ast.Shl: wasm.OpI32Shl, ast.ShrS: wasm.OpI32ShrS, ast.ShrU: wasm.OpI32ShrU,
}

var intBinaryOps64 = map[ast.BinaryOp]byte{
	ast.Add: wasm.OpI64Add, ast.Sub: wasm.OpI64Sub, ast.Mul: wasm.OpI64Mul,
	ast.DivS: wasm.OpI64DivS, ast.DivU: wasm.OpI64DivU,
	ast.RemS: wasm.OpI64RemS, ast.RemU: wasm.OpI64RemU,
	ast.And: wasm.OpI64And, ast.Or: wasm.OpI64Or, ast.Xor: wasm.OpI64Xor,
	ast.Shl: wasm.OpI64Shl, ast.ShrS: wasm.OpI64ShrS, ast.ShrU: wasm.OpI64ShrU,
}

func (fc *funcCompiler) intBinary(t types.Type, e *ast.Binary) error {
	table := intBinaryOps32
	if is64(t) {
		table = intBinaryOps64
	}
	opcode, ok := table[e.Op]
	if !ok {
		return fmt.Errorf("binary %s on %s", e.Op, t)
	}
	maskOperands := isNarrow(t) && narrowUnsignedOp(e.Op)
	if err := ast.Dispatch(fc, e.Left, t); err != nil {
		return err
	}
	if maskOperands {
		fc.maskNarrow(t)
	}
	if err := ast.Dispatch(fc, e.Right, t); err != nil {
		return err
	}
	if maskOperands {
		fc.maskNarrow(t)
	}
	fc.op(opcode)
	fc.canon(t)
	return nil
}

func (fc *funcCompiler) floatBinary(t types.Type, e *ast.Binary) error {
	f32 := t == types.F32
	if e.Op == ast.Rem {
		return fc.floatRem(t, e)
	}
	if err := ast.Dispatch(fc, e.Left, t); err != nil {
		return err
	}
	if err := ast.Dispatch(fc, e.Right, t); err != nil {
		return err
	}
	switch e.Op {
	case ast.Add:
		fc.op(pick(f32, wasm.OpF32Add, wasm.OpF64Add))
	case ast.Sub:
		fc.op(pick(f32, wasm.OpF32Sub, wasm.OpF64Sub))
	case ast.Mul:
		fc.op(pick(f32, wasm.OpF32Mul, wasm.OpF64Mul))
	case ast.Div:
		fc.op(pick(f32, wasm.OpF32Div, wasm.OpF64Div))
	case ast.Min:
		fc.op(pick(f32, wasm.OpF32Min, wasm.OpF64Min))
	case ast.Max:
		fc.op(pick(f32, wasm.OpF32Max, wasm.OpF64Max))
	case ast.CopySign:
		fc.op(pick(f32, wasm.OpF32Copysign, wasm.OpF64Copysign))
	default:
		return fmt.Errorf("binary %s on %s", e.Op, t)
	}
	return nil
}

// floatRem lowers floating remainder, which has no direct IR opcode, as
// x - trunc(x/y)*y.
func (fc *funcCompiler) floatRem(t types.Type, e *ast.Binary) error {
	f32 := t == types.F32
	vt := wasm.ValF64
	if f32 {
		vt = wasm.ValF32
	}
	// Both operands compile before either temporary is written, so a
	// nested remainder in the right operand cannot clobber the left.
	x, y := fc.scratch(vt)
	if err := ast.Dispatch(fc, e.Left, t); err != nil {
		return err
	}
	if err := ast.Dispatch(fc, e.Right, t); err != nil {
		return err
	}
	fc.localSet(y)
	fc.localSet(x)

	fc.localGet(x)
	fc.localGet(x)
	fc.localGet(y)
	fc.op(pick(f32, wasm.OpF32Div, wasm.OpF64Div))
	fc.op(pick(f32, wasm.OpF32Trunc, wasm.OpF64Trunc))
	fc.localGet(y)
	fc.op(pick(f32, wasm.OpF32Mul, wasm.OpF64Mul))
	fc.op(pick(f32, wasm.OpF32Sub, wasm.OpF64Sub))
	return nil
}

func (fc *funcCompiler) VisitCast(t types.Type, e *ast.Cast) error {
	if err := ast.Dispatch(fc, e.Source.Expr, e.Source.Type); err != nil {
		return err
	}
	src := e.Source.Type
	switch e.Op {
	case ast.Wrap:
		if is64(src) {
			fc.op(wasm.OpI32WrapI64)
		}
		fc.canon(t)
	case ast.SExt:
		// Sub-word values are already carried sign-extended.
		if is64(t) && !is64(src) {
			fc.op(wasm.OpI64ExtendI32S)
		}
	case ast.ZExt:
		fc.maskNarrow(src)
		if is64(t) && !is64(src) {
			fc.op(wasm.OpI64ExtendI32U)
		}
	case ast.TruncSignedFloat:
		if is64(t) {
			fc.op(pick(src == types.F32, wasm.OpI64TruncF32S, wasm.OpI64TruncF64S))
		} else {
			fc.op(pick(src == types.F32, wasm.OpI32TruncF32S, wasm.OpI32TruncF64S))
		}
		fc.canon(t)
	case ast.TruncUnsignedFloat:
		if is64(t) {
			fc.op(pick(src == types.F32, wasm.OpI64TruncF32U, wasm.OpI64TruncF64U))
		} else {
			fc.op(pick(src == types.F32, wasm.OpI32TruncF32U, wasm.OpI32TruncF64U))
		}
		fc.canon(t)
	case ast.ConvertSignedInt:
		if t == types.F32 {
			fc.op(pick(is64(src), wasm.OpF32ConvertI64S, wasm.OpF32ConvertI32S))
		} else {
			fc.op(pick(is64(src), wasm.OpF64ConvertI64S, wasm.OpF64ConvertI32S))
		}
	case ast.ConvertUnsignedInt:
		fc.maskNarrow(src)
		if t == types.F32 {
			fc.op(pick(is64(src), wasm.OpF32ConvertI64U, wasm.OpF32ConvertI32U))
		} else {
			fc.op(pick(is64(src), wasm.OpF64ConvertI64U, wasm.OpF64ConvertI32U))
		}
	case ast.Promote:
		fc.op(wasm.OpF64PromoteF32)
	case ast.Demote:
		fc.op(wasm.OpF32DemoteF64)
	case ast.ReinterpretFloat:
		fc.op(pick(src == types.F32, wasm.OpI32ReinterpretF32, wasm.OpI64ReinterpretF64))
	case ast.ReinterpretInt:
		fc.op(pick(t == types.F32, wasm.OpF32ReinterpretI32, wasm.OpF64ReinterpretI64))
	case ast.ReinterpretBool:
		// Bool is 0 or 1 in i32; widening is the only work.
		if is64(t) {
			fc.op(wasm.OpI64ExtendI32U)
		}
	default:
		return fmt.Errorf("cast %s from %s to %s", e.Op, src, t)
	}
	return nil
}

var intCompare32 = map[ast.CompareOp]byte{
	ast.Eq: wasm.OpI32Eq, ast.Ne: wasm.OpI32Ne,
	ast.LtS: wasm.OpI32LtS, ast.LtU: wasm.OpI32LtU,
	ast.LeS: wasm.OpI32LeS, ast.LeU: wasm.OpI32LeU,
	ast.GtS: wasm.OpI32GtS, ast.GtU: wasm.OpI32GtU,
	ast.GeS: wasm.OpI32GeS, ast.GeU: wasm.OpI32GeU,
}

var intCompare64 = map[ast.CompareOp]byte{
	ast.Eq: wasm.OpI64Eq, ast.Ne: wasm.OpI64Ne,
	ast.LtS: wasm.OpI64LtS, ast.LtU: wasm.OpI64LtU,
	ast.LeS: wasm.OpI64LeS, ast.LeU: wasm.OpI64LeU,
	ast.GtS: wasm.OpI64GtS, ast.GtU: wasm.OpI64GtU,
	ast.GeS: wasm.OpI64GeS, ast.GeU: wasm.OpI64GeU,
}

var floatCompare32 = map[ast.CompareOp]byte{
	ast.Eq: wasm.OpF32Eq, ast.Ne: wasm.OpF32Ne,
	ast.Lt: wasm.OpF32Lt, ast.Le: wasm.OpF32Le,
	ast.Gt: wasm.OpF32Gt, ast.Ge: wasm.OpF32Ge,
}

var floatCompare64 = map[ast.CompareOp]byte{
	ast.Eq: wasm.OpF64Eq, ast.Ne: wasm.OpF64Ne,
	ast.Lt: wasm.OpF64Lt, ast.Le: wasm.OpF64Le,
	ast.Gt: wasm.OpF64Gt, ast.Ge: wasm.OpF64Ge,
}

// unsignedCompare reports whether a comparison reads the operands'
// unsigned bit pattern.
func unsignedCompare(op ast.CompareOp) bool {
	switch op {
	case ast.LtU, ast.LeU, ast.GtU, ast.GeU:
		return true
	}
	return false
}

func (fc *funcCompiler) VisitComparison(t types.Type, e *ast.Comparison) error {
	operand := e.OperandType
	maskOperands := isNarrow(operand) && unsignedCompare(e.Op)
	if err := ast.Dispatch(fc, e.Left, operand); err != nil {
		return err
	}
	if maskOperands {
		fc.maskNarrow(operand)
	}
	if err := ast.Dispatch(fc, e.Right, operand); err != nil {
		return err
	}
	if maskOperands {
		fc.maskNarrow(operand)
	}

	var table map[ast.CompareOp]byte
	switch {
	case operand == types.F32:
		table = floatCompare32
	case operand == types.F64:
		table = floatCompare64
	case is64(operand):
		table = intCompare64
	default:
		// Bool and the integer types carried in i32.
		table = intCompare32
	}
	opcode, ok := table[e.Op]
	if !ok {
		return fmt.Errorf("comparison %s on %s", e.Op, operand)
	}
	fc.op(opcode)
	return nil
}

func (fc *funcCompiler) VisitIfElse(t types.Type, e *ast.IfElse) error {
	if err := ast.Dispatch(fc, e.Condition, types.Bool); err != nil {
		return err
	}
	fc.beginBlock(wasm.OpIf, t)
	if err := ast.Dispatch(fc, e.Then, t); err != nil {
		return err
	}
	fc.op(wasm.OpElse)
	if err := ast.Dispatch(fc, e.Else, t); err != nil {
		return err
	}
	fc.endBlock()
	return nil
}

func (fc *funcCompiler) VisitSwitch(t types.Type, e *ast.Switch) error {
	numArms := len(e.Arms)
	if numArms == 0 {
		return fmt.Errorf("switch with no arms")
	}
	if e.DefaultArm < 0 || e.DefaultArm >= numArms {
		return fmt.Errorf("switch default arm %d of %d", e.DefaultArm, numArms)
	}

	// The key parks in a shared temporary for the dispatch chain; the
	// chain finishes before any arm (and any nested switch) compiles.
	keyVt := wasm.ValI32
	if is64(e.Key.Type) {
		keyVt = wasm.ValI64
	}
	keyLocal, _ := fc.scratch(keyVt)
	if err := ast.Dispatch(fc, e.Key.Expr, e.Key.Type); err != nil {
		return err
	}
	fc.localSet(keyLocal)

	fc.beginBlock(wasm.OpBlock, t)
	fc.pushTarget(e.End)

	// One void block per arm: exiting block i lands at arm i's body, so
	// fallthrough is falling off a block into the next arm.
	for i := 0; i < numArms; i++ {
		fc.beginBlock(wasm.OpBlock, types.Void)
	}

	// Key dispatch, innermost: br i exits to arm i.
	for i, arm := range e.Arms {
		if i == e.DefaultArm {
			continue
		}
		fc.localGet(keyLocal)
		if keyVt == wasm.ValI64 {
			fc.constI64(int64(arm.Key))
			fc.op(wasm.OpI64Eq)
		} else {
			fc.constI32(signExtendKey(e.Key.Type, arm.Key))
			fc.op(wasm.OpI32Eq)
		}
		fc.op(wasm.OpBrIf)
		fc.code.WriteU32(uint32(i))
	}
	fc.op(wasm.OpBr)
	fc.code.WriteU32(uint32(e.DefaultArm))

	for i, arm := range e.Arms {
		fc.endBlock()
		if i == numArms-1 {
			// The final arm yields the switch's result and flows to the
			// end block.
			if err := ast.Dispatch(fc, arm.Value, t); err != nil {
				return err
			}
		} else {
			if err := ast.Dispatch(fc, arm.Value, types.Void); err != nil {
				return err
			}
		}
	}

	fc.popTarget()
	fc.endBlock()
	return nil
}

// signExtendKey canonicalizes a case key the way key values are carried.
func signExtendKey(keyType types.Type, key uint64) int32 {
	switch keyType {
	case types.I8:
		return int32(int8(key))
	case types.I16:
		return int32(int16(key))
	default:
		return int32(uint32(key))
	}
}

func (fc *funcCompiler) VisitLabel(t types.Type, e *ast.Label) error {
	fc.beginBlock(wasm.OpBlock, t)
	fc.pushTarget(e.End)
	if err := ast.Dispatch(fc, e.Body, t); err != nil {
		return err
	}
	fc.popTarget()
	fc.endBlock()
	return nil
}

func (fc *funcCompiler) VisitLoop(t types.Type, e *ast.Loop) error {
	// The break target is the block around the loop; the continue target
	// is the loop head itself. The body repeats unconditionally — the
	// only way out is a branch to the break target.
	fc.beginBlock(wasm.OpBlock, t)
	fc.pushTarget(e.Break)
	fc.beginBlock(wasm.OpLoop, types.Void)
	fc.pushTarget(e.Continue)

	if err := ast.Dispatch(fc, e.Body, types.Void); err != nil {
		return err
	}
	fc.op(wasm.OpBr)
	fc.code.WriteU32(0)

	fc.popTarget()
	fc.endBlock()

	// Control cannot fall out of the loop head, but the validator does
	// not know that; the unreachable keeps the enclosing block's result
	// type satisfied.
	fc.op(wasm.OpUnreachable)

	fc.popTarget()
	fc.endBlock()
	return nil
}

func (fc *funcCompiler) VisitSequence(t types.Type, e *ast.Sequence) error {
	if err := ast.Dispatch(fc, e.Void, types.Void); err != nil {
		return err
	}
	return ast.Dispatch(fc, e.Result, t)
}

func (fc *funcCompiler) VisitBranch(t types.Type, e *ast.Branch) error {
	if e.Target.Type != types.Void {
		if e.Value == nil {
			return fmt.Errorf("branch to %s target without a value", e.Target.Type)
		}
		if err := ast.Dispatch(fc, e.Value, e.Target.Type); err != nil {
			return err
		}
	}
	return fc.branchTo(e.Target)
}

func (fc *funcCompiler) VisitReturn(t types.Type, e *ast.Return) error {
	if fc.fn.Type.Return != types.Void {
		if e.Value == nil {
			return fmt.Errorf("return without a value from a %s function", fc.fn.Type.Return)
		}
		if err := ast.Dispatch(fc, e.Value, fc.fn.Type.Return); err != nil {
			return err
		}
	}
	fc.op(wasm.OpReturn)
	return nil
}

func (fc *funcCompiler) VisitNop(t types.Type, e *ast.Nop) error {
	fc.op(wasm.OpNop)
	return nil
}

func (fc *funcCompiler) VisitDiscardResult(t types.Type, e *ast.DiscardResult) error {
	if err := ast.Dispatch(fc, e.Inner.Expr, e.Inner.Type); err != nil {
		return err
	}
	fc.op(wasm.OpDrop)
	return nil
}

func (fc *funcCompiler) VisitError(t types.Type, e *ast.Error) error {
	return fmt.Errorf("error node reached code generation: %s", e.Message)
}
