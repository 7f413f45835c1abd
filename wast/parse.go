// Package wast parses the textual S-expression module format into typed
// abstract syntax trees.
//
// Parsing is a two-pass resolution: the first pass records function
// signatures, imports, globals, and memory and data segments; function
// tables are resolved between the passes; the second pass then parses
// function bodies, with forward references already resolved, and records
// exports. Failures
// never abort the parse; each one becomes an ErrorRecord with a source
// locus plus, inside expressions, an in-tree Error node, and parsing
// continues with best-effort recovery.
package wast

import (
	"fmt"

	"github.com/wippyai/wast-runtime/arena"
	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/types"
)

// File is the result of parsing one source text: its modules, the
// assertions declared alongside them, and every diagnostic recorded on
// the way.
type File struct {
	Modules        []*ast.Module
	AssertEqs      []AssertEq
	AssertInvalids []AssertInvalid
	Errors         []*ast.ErrorRecord
}

// AssertEq records an `(assert_eq (invoke "name" args...) expected)`
// form. Argument and expected-value expressions are owned by a dummy
// module so they have an arena to live in.
type AssertEq struct {
	Module        *ast.Module // owns the argument expressions
	TargetModule  *ast.Module
	FunctionIndex int
	Args          []ast.TypedExpr
	Expected      ast.TypedExpr
	Locus         string
}

// AssertInvalid records an `(assert_invalid (module ...) "reason")` form.
// ErrorsSeen is the number of diagnostics the inner module produced; the
// assertion holds when it is nonzero.
type AssertInvalid struct {
	ErrorsSeen int
	Reason     string
	Locus      string
}

func (f *File) recordError(n *Node, format string, args ...any) *ast.ErrorRecord {
	locus := "0:0"
	describe := "null"
	if n != nil {
		locus = n.Locus()
		describe = n.Describe()
	}
	rec := &ast.ErrorRecord{
		Message: fmt.Sprintf("%s: %s (S-expression node is %s)", locus, fmt.Sprintf(format, args...), describe),
	}
	f.Errors = append(f.Errors, rec)
	return rec
}

// Parse reads every module and assertion in source. The returned file's
// Errors list is empty exactly when the input was well formed.
//
// The S-expression tree's decoded string literals live in a scoped arena
// for the duration of the parse; everything a module keeps (names, export strings, segment
// bytes) is copied into that module's own arena.
func Parse(source string) *File {
	file := &File{}
	scratch := arena.NewScoped()
	defer scratch.Release()
	roots := ReadSExpressions(source, &scratch.Arena)

	for _, root := range roots {
		if children, ok := taggedNode(root, symModule); ok {
			mc := &moduleContext{
				module:        ast.NewModule(),
				file:          file,
				functionNames: map[string]int{},
				globalNames:   map[string]int{},
				tableNames:    map[string]int{},
				importNames:   map[string]int{},
			}
			mc.parse(root, children)
			file.Modules = append(file.Modules, mc.module)
		}
	}

	for _, root := range roots {
		switch {
		case isTagged(root, symAssertEq):
			file.parseAssertEq(root)
		case isTagged(root, symAssertInvalid):
			file.parseAssertInvalid(root)
		case isTagged(root, symModule):
			// handled above
		case root.Kind == NodeError:
			file.recordError(root, "%s", root.Str)
		default:
			file.recordError(root, "unrecognized top-level form")
		}
	}

	return file
}

// cursor walks a node's children left to right, remembering the last node
// seen so diagnostics after exhaustion still have a locus.
type cursor struct {
	nodes []*Node
	pos   int
	last  *Node
}

func newCursor(nodes []*Node, at *Node) *cursor {
	return &cursor{nodes: nodes, last: at}
}

func (c *cursor) valid() bool { return c.pos < len(c.nodes) }

func (c *cursor) peek() *Node {
	if !c.valid() {
		return nil
	}
	return c.nodes[c.pos]
}

func (c *cursor) take() *Node {
	n := c.peek()
	if n != nil {
		c.pos++
		c.last = n
	}
	return n
}

// at returns the node diagnostics should point at: the next unconsumed
// node, or the last consumed one.
func (c *cursor) at() *Node {
	if n := c.peek(); n != nil {
		return n
	}
	return c.last
}

func (c *cursor) remaining() []*Node { return c.nodes[c.pos:] }

func isTagged(n *Node, tag string) bool {
	return n != nil && n.Kind == NodeList && len(n.List) > 0 &&
		n.List[0].Kind == NodeSymbol && n.List[0].Sym == tag
}

// taggedNode matches a list whose first child is the given symbol and
// returns the children after the tag.
func taggedNode(n *Node, tag string) ([]*Node, bool) {
	if !isTagged(n, tag) {
		return nil, false
	}
	return n.List[1:], true
}

func parseTypeNode(c *cursor) (types.Type, bool) {
	n := c.peek()
	if n == nil || n.Kind != NodeSymbol {
		return types.None, false
	}
	t, ok := types.ByName(n.Sym)
	if !ok {
		return types.None, false
	}
	c.take()
	return t, true
}

func parseIntNode(c *cursor) (int64, bool) {
	n := c.peek()
	if n == nil || n.Kind != NodeInt {
		return 0, false
	}
	c.take()
	return n.Int, true
}

func parseFloatNode(c *cursor) (float64, bool) {
	n := c.peek()
	if n == nil {
		return 0, false
	}
	switch n.Kind {
	case NodeFloat:
		c.take()
		return n.Float, true
	case NodeInt:
		c.take()
		return float64(n.Int), true
	}
	return 0, false
}

func parseStringNode(c *cursor) (string, bool) {
	n := c.peek()
	if n == nil || n.Kind != NodeString {
		return "", false
	}
	c.take()
	return n.Str, true
}

func parseNameNode(c *cursor) (string, bool) {
	n := c.peek()
	if n == nil || n.Kind != NodeName {
		return "", false
	}
	c.take()
	return n.Sym, true
}

// parseNameOrIndex resolves a `$name` against the given map or a
// non-negative integer against [0, numValid).
func parseNameOrIndex(c *cursor, names map[string]int, numValid int) (int, bool) {
	if n := c.peek(); n != nil && n.Kind == NodeInt {
		if n.Int >= 0 && n.Int < int64(numValid) {
			c.take()
			return int(n.Int), true
		}
		return 0, false
	}
	if name, ok := parseNameNode(c); ok {
		index, found := names[name]
		return index, found
	}
	return 0, false
}

// parseVariables reads `(name type)` or `type+` from a local, param, or
// global declaration's children, appending to vars. Names are copied into
// the module arena.
func (mc *moduleContext) parseVariables(c *cursor, vars *[]ast.Variable) int {
	if name, ok := parseNameNode(c); ok {
		t, ok := parseTypeNode(c)
		if !ok {
			mc.file.recordError(c.at(), "expected type")
			return 0
		}
		*vars = append(*vars, ast.Variable{Type: t, Name: mc.module.Arena.CopyString(name)})
		return 1
	}
	count := 0
	for c.valid() {
		t, ok := parseTypeNode(c)
		if !ok {
			mc.file.recordError(c.at(), "expected type")
			return count
		}
		*vars = append(*vars, ast.Variable{Type: t})
		count++
	}
	return count
}

// buildVariableNames indexes named variables, recording one error per
// duplicate name.
func (mc *moduleContext) buildVariableNames(vars []ast.Variable, out map[string]int) {
	for index, v := range vars {
		if v.Name == "" {
			continue
		}
		if _, dup := out[v.Name]; dup {
			mc.file.recordError(nil, "duplicate variable name %q", v.Name)
			continue
		}
		out[v.Name] = index
	}
}

// moduleContext is the state shared while parsing one module.
type moduleContext struct {
	module        *ast.Module
	file          *File
	functionNames map[string]int
	globalNames   map[string]int
	tableNames    map[string]int
	importNames   map[string]int
}

func (mc *moduleContext) parse(moduleNode *Node, children []*Node) {
	mc.parseDeclarations(children)
	mc.parseFunctionTables(children)
	mc.buildVariableNames(mc.module.Globals, mc.globalNames)
	mc.parseDefinitions(children)
}

// parseDeclarations is pass one: signatures, imports, globals, and memory.
func (mc *moduleContext) parseDeclarations(children []*Node) {
	hasMemory := false
	for _, n := range children {
		switch {
		case isTagged(n, symFunc):
			mc.declareFunction(n)
		case isTagged(n, symImport):
			mc.declareImport(n)
		case isTagged(n, symGlobal):
			nodes, _ := taggedNode(n, symGlobal)
			c := newCursor(nodes, n)
			mc.parseVariables(c, &mc.module.Globals)
			if c.valid() {
				mc.file.recordError(c.at(), "unexpected input following global declaration")
			}
		case isTagged(n, symMemory):
			if hasMemory {
				mc.file.recordError(n, "duplicate memory declaration")
				continue
			}
			hasMemory = true
			mc.declareMemory(n)
		case isTagged(n, symExport), isTagged(n, symTable):
			// pass two
		default:
			mc.file.recordError(n, "unrecognized declaration")
		}
	}
}

func (mc *moduleContext) declareFunction(n *Node) {
	nodes, _ := taggedNode(n, symFunc)
	c := newCursor(nodes, n)

	fn := &ast.Function{Type: types.NewFunction(types.Void)}
	index := len(mc.module.Functions)
	mc.module.Functions = append(mc.module.Functions, fn)

	if name, ok := parseNameNode(c); ok {
		fn.Name = mc.module.Arena.CopyString(name)
		if _, dup := mc.functionNames[name]; dup {
			mc.file.recordError(c.at(), "duplicate function name %q", name)
		} else {
			mc.functionNames[name] = index
		}
	}

	hasResult := false
	for c.valid() {
		child := c.peek()
		if inner, ok := taggedNode(child, symResult); ok {
			c.take()
			ic := newCursor(inner, child)
			if hasResult {
				mc.file.recordError(child, "duplicate result declaration")
				continue
			}
			t, ok := parseTypeNode(ic)
			if !ok {
				mc.file.recordError(ic.at(), "expected type")
				continue
			}
			fn.Type.Return = t
			hasResult = true
			if ic.valid() {
				mc.file.recordError(ic.at(), "unexpected input following result declaration")
			}
		} else if inner, ok := taggedNode(child, symParam); ok {
			c.take()
			ic := newCursor(inner, child)
			base := len(fn.Locals)
			count := mc.parseVariables(ic, &fn.Locals)
			for i := 0; i < count; i++ {
				fn.ParameterLocalIndices = append(fn.ParameterLocalIndices, base+i)
				fn.Type.Parameters = append(fn.Type.Parameters, fn.Locals[base+i].Type)
			}
			if ic.valid() {
				mc.file.recordError(ic.at(), "unexpected input following parameter declaration")
			}
		} else if inner, ok := taggedNode(child, symLocal); ok {
			c.take()
			ic := newCursor(inner, child)
			mc.parseVariables(ic, &fn.Locals)
			if ic.valid() {
				mc.file.recordError(ic.at(), "unexpected input following local declaration")
			}
		} else {
			// First body expression; pass two picks up from here.
			break
		}
	}
}

func (mc *moduleContext) declareImport(n *Node) {
	nodes, _ := taggedNode(n, symImport)
	c := newCursor(nodes, n)

	importIndex := len(mc.module.FunctionImports)
	internalName, hasInternalName := parseNameNode(c)
	if hasInternalName {
		internalName = mc.module.Arena.CopyString(internalName)
	}

	externalName, ok := parseStringNode(c)
	if !ok {
		mc.file.recordError(c.at(), "expected import name string")
		return
	}
	externalName = mc.module.Arena.CopyString(externalName)

	// A type symbol after the import string makes this a variable import.
	if t, ok := parseTypeNode(c); ok {
		globalIndex := len(mc.module.Globals)
		mc.module.Globals = append(mc.module.Globals, ast.Variable{Type: t, Name: internalName})
		mc.module.VariableImports = append(mc.module.VariableImports, ast.VariableImport{
			Type:        t,
			Name:        externalName,
			GlobalIndex: globalIndex,
		})
		if c.valid() {
			mc.file.recordError(c.at(), "unexpected input following import declaration")
		}
		return
	}

	if hasInternalName {
		if _, dup := mc.importNames[internalName]; dup {
			mc.file.recordError(n, "duplicate import name %q", internalName)
		} else {
			mc.importNames[internalName] = importIndex
		}
	}

	sig := types.NewFunction(types.Void)
	hasResult := false
	for c.valid() {
		child := c.take()
		if inner, ok := taggedNode(child, symResult); ok {
			ic := newCursor(inner, child)
			if hasResult {
				mc.file.recordError(child, "duplicate result declaration")
				continue
			}
			t, ok := parseTypeNode(ic)
			if !ok {
				mc.file.recordError(ic.at(), "expected type")
				continue
			}
			sig.Return = t
			hasResult = true
			if ic.valid() {
				mc.file.recordError(ic.at(), "unexpected input following result declaration")
			}
		} else if inner, ok := taggedNode(child, symParam); ok {
			ic := newCursor(inner, child)
			var params []ast.Variable
			mc.parseVariables(ic, &params)
			for _, p := range params {
				sig.Parameters = append(sig.Parameters, p.Type)
			}
			if ic.valid() {
				mc.file.recordError(ic.at(), "unexpected input following parameter declaration")
			}
		} else {
			mc.file.recordError(child, "expected param or result declaration")
		}
	}
	mc.module.FunctionImports = append(mc.module.FunctionImports, ast.FunctionImport{
		Type: sig,
		Name: externalName,
	})
}

func (mc *moduleContext) declareMemory(n *Node) {
	nodes, _ := taggedNode(n, symMemory)
	c := newCursor(nodes, n)

	initial, ok := parseIntNode(c)
	if !ok {
		mc.file.recordError(c.at(), "expected initial memory size integer")
		return
	}
	max, ok := parseIntNode(c)
	if !ok {
		max = initial
	}
	if initial < 0 || max < 0 || uint64(max) > ast.MaxMemoryBytes {
		mc.file.recordError(c.at(), "maximum memory size must be <=2^32 bytes")
		return
	}
	if initial > max {
		mc.file.recordError(c.at(), "initial memory size must be <= maximum memory size")
		return
	}
	mc.module.InitialMemoryBytes = uint64(initial)
	mc.module.MaxMemoryBytes = uint64(max)

	for c.valid() {
		child := c.take()
		inner, ok := taggedNode(child, symSegment)
		if !ok {
			mc.file.recordError(child, "expected segment declaration")
			continue
		}
		ic := newCursor(inner, child)
		base, ok := parseIntNode(ic)
		if !ok || base < 0 {
			mc.file.recordError(ic.at(), "expected segment base address integer")
			continue
		}
		data, ok := parseStringNode(ic)
		if !ok {
			mc.file.recordError(ic.at(), "expected segment data string")
			continue
		}
		end := uint64(base) + uint64(len(data))
		if end < uint64(base) || end > mc.module.InitialMemoryBytes {
			mc.file.recordError(ic.at(), "data segment bounds aren't contained by initial memory size")
			continue
		}
		mc.module.DataSegments = append(mc.module.DataSegments, ast.DataSegment{
			BaseAddress: uint64(base),
			Bytes:       mc.module.Arena.CopyBytes([]byte(data)),
		})
		if ic.valid() {
			mc.file.recordError(ic.at(), "unexpected input following segment declaration")
		}
	}
}

// parseFunctionTables runs between the passes: it needs every function
// signature but must finish before bodies reference tables.
func (mc *moduleContext) parseFunctionTables(children []*Node) {
	for _, n := range children {
		nodes, ok := taggedNode(n, symTable)
		if !ok {
			continue
		}
		c := newCursor(nodes, n)

		var tableName string
		if name, ok := parseNameNode(c); ok {
			tableName = name
		}

		table := ast.FunctionTable{}
		numFunctions := len(c.remaining())
		if numFunctions == 0 {
			mc.file.recordError(n, "function table must contain at least 1 function")
		} else {
			for c.valid() {
				before := c.pos
				index, ok := parseNameOrIndex(c, mc.functionNames, len(mc.module.Functions))
				if !ok {
					if c.pos == before {
						c.take()
					}
					mc.file.recordError(c.last, "expected function name or index")
					index = 0
				}
				table.FunctionIndices = append(table.FunctionIndices, index)
			}
			if numFunctions&(numFunctions-1) != 0 {
				mc.file.recordError(n, "function table size must be a power of two")
			}
			table.Type = mc.module.Functions[table.FunctionIndices[0]].Type
			for _, index := range table.FunctionIndices {
				if !mc.module.Functions[index].Type.Equal(table.Type) {
					mc.file.recordError(n, "function table must only contain functions of a single type")
				}
			}
		}
		tableIndex := len(mc.module.FunctionTables)
		mc.module.FunctionTables = append(mc.module.FunctionTables, table)
		if tableName != "" {
			if _, dup := mc.tableNames[tableName]; dup {
				mc.file.recordError(n, "duplicate table name %q", tableName)
			} else {
				mc.tableNames[tableName] = tableIndex
			}
		}
	}
}

// parseDefinitions is pass two: function bodies and exports, with every
// declaration visible.
func (mc *moduleContext) parseDefinitions(children []*Node) {
	functionIndex := 0
	for _, n := range children {
		switch {
		case isTagged(n, symFunc):
			nodes, _ := taggedNode(n, symFunc)
			c := newCursor(nodes, n)
			parseNameNode(c)
			for c.valid() {
				child := c.peek()
				if isTagged(child, symLocal) || isTagged(child, symParam) || isTagged(child, symResult) {
					c.take()
					continue
				}
				break
			}
			fn := mc.module.Functions[functionIndex]
			functionIndex++
			fc := newFunctionContext(mc, fn)
			fn.Body = fc.parseExprSequence(fn.Type.Return, c.remaining(), c.at(), "function body")

		case isTagged(n, symExport):
			nodes, _ := taggedNode(n, symExport)
			c := newCursor(nodes, n)
			name, ok := parseStringNode(c)
			if !ok {
				mc.file.recordError(c.at(), "expected export name string")
				continue
			}
			index, ok := parseNameOrIndex(c, mc.functionNames, len(mc.module.Functions))
			if !ok {
				mc.file.recordError(c.at(), "expected function name or index")
				continue
			}
			if _, dup := mc.module.Exports[name]; dup {
				mc.file.recordError(n, "duplicate export name %q", name)
				continue
			}
			mc.module.Exports[mc.module.Arena.CopyString(name)] = index
			if c.valid() {
				mc.file.recordError(c.at(), "unexpected input following export declaration")
			}
		}
	}
}

func (f *File) parseAssertEq(root *Node) {
	nodes, _ := taggedNode(root, symAssertEq)
	c := newCursor(nodes, root)

	invokeNode := c.take()
	invokeChildren, ok := taggedNode(invokeNode, symInvoke)
	if !ok {
		f.recordError(c.at(), "expected invoke expression")
		return
	}
	ic := newCursor(invokeChildren, invokeNode)
	exportName, ok := parseStringNode(ic)
	if !ok {
		f.recordError(ic.at(), "expected export name string")
		return
	}

	var targetModule *ast.Module
	functionIndex := 0
	for _, m := range f.Modules {
		if index, found := m.Exports[exportName]; found {
			targetModule = m
			functionIndex = index
			break
		}
	}
	if targetModule == nil {
		f.recordError(invokeNode, "couldn't find export with this name")
		return
	}

	// The invoke arguments and the expected value are constant
	// expressions; parse them in a dummy module and function scope.
	dummy := ast.NewModule()
	mc := &moduleContext{
		module:        dummy,
		file:          f,
		functionNames: map[string]int{},
		globalNames:   map[string]int{},
		tableNames:    map[string]int{},
		importNames:   map[string]int{},
	}
	fc := newFunctionContext(mc, &ast.Function{Type: types.NewFunction(types.Void)})

	target := targetModule.Functions[functionIndex]
	args := make([]ast.TypedExpr, len(target.Type.Parameters))
	for i, paramType := range target.Type.Parameters {
		args[i] = ast.TypedExpr{
			Expr: fc.parseTypedExpr(paramType, ic, "invoke parameter"),
			Type: paramType,
		}
	}
	if ic.valid() {
		f.recordError(ic.at(), "unexpected input following invoke parameters")
		return
	}

	expected := ast.TypedExpr{
		Expr: fc.parseTypedExpr(target.Type.Return, c, "assert_eq reference value"),
		Type: target.Type.Return,
	}
	if c.valid() {
		f.recordError(c.at(), "unexpected input following assert_eq expected value")
		return
	}

	f.AssertEqs = append(f.AssertEqs, AssertEq{
		Module:        dummy,
		TargetModule:  targetModule,
		FunctionIndex: functionIndex,
		Args:          args,
		Expected:      expected,
		Locus:         root.Locus(),
	})
}

func (f *File) parseAssertInvalid(root *Node) {
	nodes, _ := taggedNode(root, symAssertInvalid)
	c := newCursor(nodes, root)

	moduleNode := c.take()
	children, ok := taggedNode(moduleNode, symModule)
	if !ok {
		f.recordError(c.at(), "expected module")
		return
	}

	// Parse the inner module with a private error list so its expected
	// failures don't pollute the file.
	inner := &File{}
	mc := &moduleContext{
		module:        ast.NewModule(),
		file:          inner,
		functionNames: map[string]int{},
		globalNames:   map[string]int{},
		tableNames:    map[string]int{},
		importNames:   map[string]int{},
	}
	mc.parse(moduleNode, children)

	reason, _ := parseStringNode(c)
	f.AssertInvalids = append(f.AssertInvalids, AssertInvalid{
		ErrorsSeen: len(inner.Errors),
		Reason:     reason,
		Locus:      root.Locus(),
	})
}
