package wast

import (
	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
)

// functionContext is the state for parsing one function body: local name
// resolution plus the label and anonymous branch-target scopes.
type functionContext struct {
	mc *moduleContext
	fn *ast.Function

	localNames   map[string]int
	labelTargets map[string]*ast.BranchTarget

	// scopedTargets is the innermost-last stack of anonymous label
	// targets referenced by depth from `break`.
	scopedTargets []*ast.BranchTarget
}

func newFunctionContext(mc *moduleContext, fn *ast.Function) *functionContext {
	fc := &functionContext{
		mc:           mc,
		fn:           fn,
		localNames:   map[string]int{},
		labelTargets: map[string]*ast.BranchTarget{},
	}
	mc.buildVariableNames(fn.Locals, fc.localNames)
	return fc
}

// errorExpr records a diagnostic and returns an in-tree Error node of the
// class expected by the context.
func (fc *functionContext) errorExpr(t types.Type, n *Node, format string, args ...any) ast.Expr {
	rec := fc.mc.file.recordError(n, format, args...)
	return &ast.Error{Class: types.ClassOf(t), Message: rec.Message}
}

// fullMatch verifies that a form's children were fully consumed.
func (fc *functionContext) fullMatch(t types.Type, c *cursor, context string, result ast.Expr) ast.Expr {
	if !c.valid() {
		return result
	}
	return fc.errorExpr(t, c.at(), "unexpected input following %s", context)
}

// coerce converts a produced (expression, type) pair to the expected
// type. The only implicit conversions are: anything to void (discard),
// integer to bool (compare against zero), and bool to integer
// (reinterpret). Everything else is a type error.
func (fc *functionContext) coerce(t types.Type, te ast.TypedExpr, n *Node, context string) ast.Expr {
	if te.Type == t {
		return te.Expr
	}
	switch types.ClassOf(t) {
	case types.VoidClass:
		if te.Type != types.Void {
			return &ast.DiscardResult{Inner: te}
		}
	case types.BoolClass:
		if types.Is(te.Type, types.Int) {
			zero := &ast.Literal{Type: te.Type}
			return &ast.Comparison{Op: ast.Ne, OperandType: te.Type, Left: te.Expr, Right: zero}
		}
	case types.Int:
		if te.Type == types.Bool {
			return &ast.Cast{Class: types.Int, Op: ast.ReinterpretBool, Source: te}
		}
	}
	return fc.errorExpr(t, n, "type error: expecting a %s %s but found %s", t, context, te.Type)
}

// parseTypedExpr consumes one sibling and parses it as an expression of
// the given type.
func (fc *functionContext) parseTypedExpr(t types.Type, c *cursor, context string) ast.Expr {
	n := c.take()
	if n == nil {
		return fc.errorExpr(t, c.at(), "expected %s expression for %s", t, context)
	}
	if n.Kind == NodeError {
		return fc.errorExpr(t, n, "%s", n.Str)
	}
	if te, handled := fc.parseNonParametric(n); handled {
		return fc.coerce(t, te, n, context)
	}
	if e, handled := fc.parseParametric(t, n); handled {
		return e
	}
	return fc.errorExpr(t, n, "expected %s expression for %s", t, context)
}

// parseExprSequence parses nodes as a sequence whose final expression has
// the given type; earlier expressions yield void.
func (fc *functionContext) parseExprSequence(t types.Type, nodes []*Node, at *Node, context string) ast.Expr {
	if len(nodes) == 0 {
		return fc.errorExpr(t, at, "missing expression for %s", context)
	}
	return fc.parseExprSequenceN(t, newCursor(nodes, at), len(nodes), context)
}

// parseExprSequenceN parses exactly numOps siblings. Zero siblings yield
// a nop (used by empty fallthrough switch arms).
func (fc *functionContext) parseExprSequenceN(t types.Type, c *cursor, numOps int, context string) ast.Expr {
	if numOps == 0 {
		return ast.NopNode
	}
	if numOps == 1 {
		return fc.parseTypedExpr(t, c, context)
	}
	var voidPart ast.Expr
	for i := 0; i < numOps-1; i++ {
		e := fc.parseTypedExpr(types.Void, c, context)
		if voidPart == nil {
			voidPart = e
		} else {
			voidPart = &ast.Sequence{Class: types.VoidClass, Void: voidPart, Result: e}
		}
	}
	return &ast.Sequence{
		Class:  types.ClassOf(t),
		Void:   voidPart,
		Result: fc.parseTypedExpr(t, c, context),
	}
}

// parseNonParametric parses expressions whose result type is named by the
// opcode itself (const.i32, add.i32, load.i8_u, ...). It reports handled
// = false when the head symbol is not a non-parametric opcode.
func (fc *functionContext) parseNonParametric(n *Node) (ast.TypedExpr, bool) {
	if n.Kind != NodeList || len(n.List) == 0 || n.List[0].Kind != NodeSymbol {
		return ast.TypedExpr{}, false
	}
	op, first, second := splitSymbol(n.List[0].Sym)
	c := newCursor(n.List[1:], n)

	typedError := func(t types.Type, at *Node, format string, args ...any) (ast.TypedExpr, bool) {
		return ast.TypedExpr{Expr: fc.errorExpr(t, at, format, args...), Type: t}, true
	}
	finish := func(t types.Type, context string, e ast.Expr) (ast.TypedExpr, bool) {
		return ast.TypedExpr{Expr: fc.fullMatch(t, c, context, e), Type: t}, true
	}

	if op == "nop" && first == "" {
		return finish(types.Void, "nop", ast.NopNode)
	}

	if op == "const" {
		t, ok := constSuffix(first)
		if !ok {
			return ast.TypedExpr{}, false
		}
		if types.Is(t, types.Int) {
			value, ok := parseIntNode(c)
			if !ok {
				return typedError(t, c.at(), "const: expected integer")
			}
			lit := &ast.Literal{Type: t, Int: truncateLiteral(t, uint64(value))}
			return finish(t, "const", lit)
		}
		value, ok := parseFloatNode(c)
		if !ok {
			return typedError(t, c.at(), "const: expected decimal")
		}
		return finish(t, "const", &ast.Literal{Type: t, Float: value})
	}

	if op == "load" {
		result, memory, loadOp, ok := loadSuffix(first)
		if !ok {
			return ast.TypedExpr{}, false
		}
		address := fc.parseTypedExpr(types.I32, c, "load address")
		load := &ast.Load{
			Class:      types.ClassOf(result),
			Op:         loadOp,
			MemoryType: memory,
			Address:    address,
		}
		return finish(result, "load", load)
	}

	if op == "store" {
		value, memory, ok := storeSuffix(first)
		if !ok {
			return ast.TypedExpr{}, false
		}
		address := fc.parseTypedExpr(types.I32, c, "store address")
		stored := fc.parseTypedExpr(value, c, "store value")
		store := &ast.Store{
			MemoryType: memory,
			Address:    address,
			Value:      ast.TypedExpr{Expr: stored, Type: value},
		}
		return finish(types.Void, "store", store)
	}

	// Bityped cast symbols carry destination then source type.
	if second != "" {
		dst, okDst := types.ByName(first)
		src, okSrc := types.ByName(second)
		if okDst && okSrc {
			if castOp, ok := resolveCast(op, dst, src); ok {
				source := fc.parseTypedExpr(src, c, "cast source")
				cast := &ast.Cast{
					Class:  types.ClassOf(dst),
					Op:     castOp,
					Source: ast.TypedExpr{Expr: source, Type: src},
				}
				return finish(dst, op, cast)
			}
			return typedError(dst, n, "%s: invalid conversion from %s to %s", op, src, dst)
		}
		return ast.TypedExpr{}, false
	}

	t, ok := types.ByName(first)
	if !ok {
		return ast.TypedExpr{}, false
	}

	if compareOp, found := resolveCompare(op, t); found {
		left := fc.parseTypedExpr(t, c, "comparison left operand")
		right := fc.parseTypedExpr(t, c, "comparison right operand")
		cmp := &ast.Comparison{Op: compareOp, OperandType: t, Left: left, Right: right}
		return finish(types.Bool, op, cmp)
	}

	if binaryOp, found := resolveBinary(op, t); found {
		left := fc.parseTypedExpr(t, c, "binary left operand")
		right := fc.parseTypedExpr(t, c, "binary right operand")
		bin := &ast.Binary{Class: types.ClassOf(t), Op: binaryOp, Left: left, Right: right}
		return finish(t, op, bin)
	}

	if unaryOp, found := resolveUnary(op, t); found {
		operand := fc.parseTypedExpr(t, c, "unary operand")
		un := &ast.Unary{Class: types.ClassOf(t), Op: unaryOp, Operand: operand}
		return finish(t, op, un)
	}

	return ast.TypedExpr{}, false
}

// truncateLiteral masks an integer literal to its type's width.
func truncateLiteral(t types.Type, v uint64) uint64 {
	switch types.BitWidth(t) {
	case 8:
		return v & 0xff
	case 16:
		return v & 0xffff
	case 32:
		return v & 0xffffffff
	}
	return v
}

// parseParametric parses expressions valid in any type context (if, call,
// get_local, ...); the expected result type is threaded in. It reports
// handled = false when the head symbol is not a parametric opcode.
func (fc *functionContext) parseParametric(t types.Type, n *Node) (ast.Expr, bool) {
	if n.Kind != NodeList || len(n.List) == 0 || n.List[0].Kind != NodeSymbol {
		return nil, false
	}
	op, first, _ := splitSymbol(n.List[0].Sym)
	c := newCursor(n.List[1:], n)

	switch op {
	case "switch":
		keyType, ok := types.ByName(first)
		if !ok || !types.Is(keyType, types.Int) {
			return nil, false
		}
		return fc.parseSwitch(t, keyType, c, n), true

	case "if":
		condition := fc.parseTypedExpr(types.Bool, c, "if condition")
		then := fc.parseTypedExpr(t, c, "if then")
		var otherwise ast.Expr
		switch {
		case c.valid():
			otherwise = fc.parseTypedExpr(t, c, "if else")
		case t == types.Void:
			otherwise = ast.NopNode
		default:
			otherwise = fc.errorExpr(t, c.at(), "if without else used as value")
		}
		node := &ast.IfElse{Class: types.ClassOf(t), Condition: condition, Then: then, Else: otherwise}
		return fc.fullMatch(t, c, "if", node), true

	case "loop":
		return fc.parseLoop(t, c), true

	case "break":
		return fc.parseBreak(t, c), true

	case "return":
		returnType := fc.fn.Type.Return
		var value ast.Expr
		if returnType != types.Void {
			value = fc.parseTypedExpr(returnType, c, "return value")
		}
		node := &ast.Return{Class: types.ClassOf(t), Value: value}
		return fc.fullMatch(t, c, "return", node), true

	case "call":
		index, ok := parseNameOrIndex(c, fc.mc.functionNames, len(fc.mc.module.Functions))
		if !ok {
			return fc.errorExpr(t, c.at(), "call: expected function name or index"), true
		}
		callee := fc.mc.module.Functions[index]
		args := fc.parseCallArgs(callee.Type, c, "call parameter")
		node := &ast.Call{
			Kind:  ast.CallDirect,
			Class: types.ClassOf(callee.Type.Return),
			Index: index,
			Args:  args,
		}
		result := fc.coerce(t, ast.TypedExpr{Expr: node, Type: callee.Type.Return}, n, "call return value")
		return fc.fullMatch(t, c, "call", result), true

	case "call_import":
		index, ok := parseNameOrIndex(c, fc.mc.importNames, len(fc.mc.module.FunctionImports))
		if !ok {
			return fc.errorExpr(t, c.at(), "call_import: expected function import name or index"), true
		}
		imported := fc.mc.module.FunctionImports[index]
		args := fc.parseCallArgs(imported.Type, c, "call_import parameter")
		node := &ast.Call{
			Kind:  ast.CallImport,
			Class: types.ClassOf(imported.Type.Return),
			Index: index,
			Args:  args,
		}
		result := fc.coerce(t, ast.TypedExpr{Expr: node, Type: imported.Type.Return}, n, "call_import return value")
		return fc.fullMatch(t, c, "call_import", result), true

	case "call_indirect":
		tableIndex, ok := parseNameOrIndex(c, fc.mc.tableNames, len(fc.mc.module.FunctionTables))
		if !ok {
			return fc.errorExpr(t, c.at(), "call_indirect: expected function table index"), true
		}
		index := fc.parseTypedExpr(types.I32, c, "call_indirect function")
		table := fc.mc.module.FunctionTables[tableIndex]
		args := fc.parseCallArgs(table.Type, c, "call_indirect parameter")
		node := &ast.CallIndirect{
			Class:      types.ClassOf(table.Type.Return),
			TableIndex: tableIndex,
			Index:      index,
			Args:       args,
		}
		result := fc.coerce(t, ast.TypedExpr{Expr: node, Type: table.Type.Return}, n, "call_indirect return value")
		return fc.fullMatch(t, c, "call_indirect", result), true

	case "label":
		name, hasName := parseNameNode(c)
		if hasName {
			if _, shadowed := fc.labelTargets[name]; shadowed {
				return fc.errorExpr(t, c.at(), "label: name shadows outer label"), true
			}
		}
		target := fc.mc.module.NewBranchTarget(t)
		if hasName {
			fc.labelTargets[name] = target
		}
		fc.scopedTargets = append(fc.scopedTargets, target)
		body := fc.parseExprSequence(t, c.remaining(), c.at(), "label body")
		fc.scopedTargets = fc.scopedTargets[:len(fc.scopedTargets)-1]
		if hasName {
			delete(fc.labelTargets, name)
		}
		return &ast.Label{Class: types.ClassOf(t), End: target, Body: body}, true

	case "block":
		return fc.parseExprSequence(t, c.remaining(), c.at(), "block body"), true

	case "get_local":
		return fc.parseGetVariable(t, ast.ScopeLocal, c, n), true

	case "load_global":
		return fc.parseGetVariable(t, ast.ScopeGlobal, c, n), true

	case "set_local":
		return fc.parseSetVariable(t, ast.ScopeLocal, c, n), true

	case "store_global":
		return fc.parseSetVariable(t, ast.ScopeGlobal, c, n), true
	}

	return nil, false
}

func (fc *functionContext) parseCallArgs(sig types.Function, c *cursor, context string) []ast.Expr {
	args := make([]ast.Expr, len(sig.Parameters))
	for i, paramType := range sig.Parameters {
		args[i] = fc.parseTypedExpr(paramType, c, context)
	}
	return args
}

func (fc *functionContext) parseGetVariable(t types.Type, scope ast.VarScope, c *cursor, n *Node) ast.Expr {
	names, vars := fc.variableScope(scope)
	index, ok := parseNameOrIndex(c, names, len(vars))
	if !ok {
		if scope == ast.ScopeLocal {
			return fc.errorExpr(t, c.at(), "get_local: expected local name or index")
		}
		return fc.errorExpr(t, c.at(), "load_global: expected global name or index")
	}
	variableType := vars[index].Type
	node := &ast.GetVariable{Scope: scope, Class: types.ClassOf(variableType), Index: index}
	result := fc.coerce(t, ast.TypedExpr{Expr: node, Type: variableType}, n, "variable")
	return fc.fullMatch(t, c, "variable access", result)
}

func (fc *functionContext) parseSetVariable(t types.Type, scope ast.VarScope, c *cursor, n *Node) ast.Expr {
	names, vars := fc.variableScope(scope)
	index, ok := parseNameOrIndex(c, names, len(vars))
	if !ok {
		if scope == ast.ScopeLocal {
			return fc.errorExpr(t, c.at(), "set_local: expected local name or index")
		}
		return fc.errorExpr(t, c.at(), "store_global: expected global name or index")
	}
	value := fc.parseTypedExpr(vars[index].Type, c, "store value")
	node := &ast.SetVariable{Scope: scope, Index: index, Value: value}
	result := fc.coerce(t, ast.TypedExpr{Expr: node, Type: types.Void}, n, "variable")
	return fc.fullMatch(t, c, "variable store", result)
}

func (fc *functionContext) variableScope(scope ast.VarScope) (map[string]int, []ast.Variable) {
	if scope == ast.ScopeLocal {
		return fc.localNames, fc.fn.Locals
	}
	return fc.mc.globalNames, fc.mc.module.Globals
}

func (fc *functionContext) parseLoop(t types.Type, c *cursor) ast.Expr {
	breakTarget := fc.mc.module.NewBranchTarget(t)
	continueTarget := fc.mc.module.NewBranchTarget(types.Void)

	breakName, hasBreakName := parseNameNode(c)
	continueName, hasContinueName := parseNameNode(c)
	if hasBreakName {
		if _, shadowed := fc.labelTargets[breakName]; shadowed {
			return fc.errorExpr(t, c.at(), "loop: break label name shadows outer label")
		}
		fc.labelTargets[breakName] = breakTarget
	}
	if hasContinueName {
		if _, shadowed := fc.labelTargets[continueName]; shadowed {
			return fc.errorExpr(t, c.at(), "loop: continue label name shadows outer label")
		}
		fc.labelTargets[continueName] = continueTarget
	}

	body := fc.parseExprSequence(types.Void, c.remaining(), c.at(), "loop body")

	if hasBreakName {
		delete(fc.labelTargets, breakName)
	}
	if hasContinueName {
		delete(fc.labelTargets, continueName)
	}

	return &ast.Loop{
		Class:    types.ClassOf(t),
		Body:     body,
		Break:    breakTarget,
		Continue: continueTarget,
	}
}

func (fc *functionContext) parseBreak(t types.Type, c *cursor) ast.Expr {
	var target *ast.BranchTarget
	if n := c.peek(); n != nil && n.Kind == NodeInt {
		depth := n.Int
		if depth >= 0 && depth < int64(len(fc.scopedTargets)) {
			c.take()
			target = fc.scopedTargets[len(fc.scopedTargets)-1-int(depth)]
		}
	} else if name, ok := parseNameNode(c); ok {
		target = fc.labelTargets[name]
	} else if len(fc.scopedTargets) > 0 {
		target = fc.scopedTargets[len(fc.scopedTargets)-1]
	}
	if target == nil {
		return fc.errorExpr(t, c.at(), "break: expected label name or index")
	}

	var value ast.Expr
	if target.Type != types.Void {
		value = fc.parseTypedExpr(target.Type, c, "break value")
	}
	node := &ast.Branch{Class: types.ClassOf(t), Target: target, Value: value}
	return fc.fullMatch(t, c, "break", node)
}

func (fc *functionContext) parseSwitch(t types.Type, keyType types.Type, c *cursor, n *Node) ast.Expr {
	labelName, hasLabel := parseNameNode(c)
	if hasLabel {
		if _, shadowed := fc.labelTargets[labelName]; shadowed {
			return fc.errorExpr(t, c.at(), "switch: break label name shadows outer label")
		}
	}
	endTarget := fc.mc.module.NewBranchTarget(t)

	key := fc.parseTypedExpr(keyType, c, "switch key")

	if hasLabel {
		fc.labelTargets[labelName] = endTarget
	}
	defer func() {
		if hasLabel {
			delete(fc.labelTargets, labelName)
		}
	}()

	var arms []ast.SwitchArm
	for c.valid() {
		caseNode := c.peek()
		caseChildren, ok := taggedNode(caseNode, symCase)
		if !ok {
			break
		}
		c.take()
		cc := newCursor(caseChildren, caseNode)

		caseKey, ok := parseIntNode(cc)
		if !ok {
			return fc.errorExpr(t, cc.at(), "switch: missing integer case key")
		}

		// Count the case's operations and detect a trailing fallthrough
		// symbol. An empty case falls through too.
		numOps := 0
		fallsThrough := true
		for i, sibling := range cc.remaining() {
			if sibling.Kind == NodeSymbol && sibling.Sym == symFallthrough {
				fallsThrough = true
				if i != len(cc.remaining())-1 {
					return fc.errorExpr(t, sibling, "switch: expected fallthrough to be final symbol in case")
				}
				break
			}
			numOps++
			fallsThrough = false
		}

		var armValue ast.Expr
		if fallsThrough {
			armValue = fc.parseExprSequenceN(types.Void, cc, numOps, "switch case body")
		} else {
			value := fc.parseExprSequenceN(t, cc, numOps, "switch case body")
			// Arms that don't fall through branch to the switch end; a
			// void switch has no value to carry, so sequence the branch
			// after the body instead.
			if t != types.Void {
				armValue = &ast.Branch{Class: types.VoidClass, Target: endTarget, Value: value}
			} else {
				armValue = &ast.Sequence{
					Class:  types.VoidClass,
					Void:   value,
					Result: &ast.Branch{Class: types.VoidClass, Target: endTarget},
				}
			}
		}
		arms = append(arms, ast.SwitchArm{Key: uint64(caseKey), Value: armValue})
	}

	// The final arm is the default; it yields the switch's result type.
	defaultValue := fc.parseTypedExpr(t, c, "switch default value")
	arms = append(arms, ast.SwitchArm{Value: defaultValue})

	node := &ast.Switch{
		Class:      types.ClassOf(t),
		Key:        ast.TypedExpr{Expr: key, Type: keyType},
		Arms:       arms,
		DefaultArm: len(arms) - 1,
		End:        endTarget,
	}
	return fc.fullMatch(t, c, "switch", node)
}
