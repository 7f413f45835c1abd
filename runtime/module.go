package runtime

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/codegen"
	"github.com/wippyai/wast-runtime/errors"
	"github.com/wippyai/wast-runtime/intrinsics"
	"github.com/wippyai/wast-runtime/types"
	"github.com/wippyai/wast-runtime/wasm"
	"github.com/wippyai/wast-runtime/wast"
)

// LoadText parses a textual module, compiles it, links its imports
// against the intrinsic registry, and instantiates it. Parser
// diagnostics fail the load before compilation starts.
func (r *Runtime) LoadText(ctx context.Context, source string) (*Instance, error) {
	file := wast.Parse(source)
	if len(file.Errors) > 0 {
		messages := make([]string, 0, len(file.Errors))
		for _, rec := range file.Errors {
			messages = append(messages, rec.Message)
		}
		return nil, errors.ParseFailed(strings.Join(messages, "; "))
	}
	if len(file.Modules) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "source contains no module")
	}
	return r.LoadModule(ctx, file.Modules[0])
}

// LoadModule compiles, links, and instantiates a parsed module.
func (r *Runtime) LoadModule(ctx context.Context, m *ast.Module) (*Instance, error) {
	compiled, err := codegen.Compile(m)
	if err != nil {
		return nil, errors.CompileFailed(err)
	}
	Logger().Debug("module compiled",
		zap.Int("binaryBytes", len(compiled.Binary)),
		zap.Uint64("addressSpaceMaxBytes", compiled.AddressSpaceMaxBytes))

	// Resolve every import against the registry before touching the
	// backend, so a missing import reports all diagnostics at once and
	// leaves nothing half-instantiated.
	var missing []string
	resolvedFuncs := make([]*intrinsics.Function, 0, len(m.FunctionImports))
	seenFuncs := map[string]bool{}
	for _, imp := range m.FunctionImports {
		fn, ok := r.registry.FindFunction(imp.Name)
		if !ok || !fn.Type.Equal(imp.Type) {
			missing = append(missing, "missing imported function "+imp.Name+" : "+imp.Type.String())
			continue
		}
		if !seenFuncs[imp.Name] {
			seenFuncs[imp.Name] = true
			resolvedFuncs = append(resolvedFuncs, fn)
		}
	}
	resolvedValues := make([]*intrinsics.Value, 0, len(m.VariableImports))
	for _, imp := range m.VariableImports {
		value, ok := r.registry.FindValue(imp.Name)
		if ok && value.Type != imp.Type {
			value, ok = nil, false
		}
		if !ok {
			missing = append(missing, "missing imported variable "+imp.Name+" : "+imp.Type.String())
			continue
		}
		resolvedValues = append(resolvedValues, value)
	}
	if len(missing) > 0 {
		return nil, errors.MissingImport(strings.Join(missing, "; "))
	}

	inst := &Instance{runtime: r, astModule: m, sandbox: &Sandbox{}}

	if len(resolvedFuncs) > 0 {
		builder := r.wazero.NewHostModuleBuilder(codegen.EnvModule)
		for _, fn := range resolvedFuncs {
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(hostShim(fn, inst.sandbox),
					apiValueTypes(fn.Type.Parameters),
					apiResultTypes(fn.Type.Return)).
				Export(fn.Name)
		}
		inst.env, err = builder.Instantiate(ctx)
		if err != nil {
			inst.Close(ctx)
			return nil, errors.Load("instantiate host imports", err)
		}
	}

	if len(m.VariableImports) > 0 {
		synth := synthDataModule(m.VariableImports, resolvedValues)
		inst.data, err = r.wazero.InstantiateWithConfig(ctx, synth,
			wazero.NewModuleConfig().WithName(codegen.DataModule))
		if err != nil {
			inst.Close(ctx)
			return nil, errors.Load("instantiate variable imports", err)
		}
	}

	inst.module, err = r.wazero.InstantiateWithConfig(ctx, compiled.Binary,
		wazero.NewModuleConfig().WithName(r.instanceName()))
	if err != nil {
		inst.Close(ctx)
		return nil, errors.Load("instantiate module", err)
	}

	mem := inst.module.ExportedMemory(codegen.MemoryExport)
	if mem == nil {
		inst.Close(ctx)
		return nil, errors.Load("module has no memory export", nil)
	}
	inst.sandbox.mem = mem
	inst.sandbox.maxBytes = m.MaxMemoryBytes
	inst.sandbox.brk = uint32(m.InitialMemoryBytes)

	return inst, nil
}

// LoadBinary instantiates an already lowered binary module, resolving
// its function imports against the registry, and copies a raw memory
// image to offset zero.
func (r *Runtime) LoadBinary(ctx context.Context, binary []byte, memImage []byte) (*Instance, error) {
	compiled, err := r.wazero.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.Load("compile binary module", err)
	}
	defer compiled.Close(ctx)

	var missing []string
	var resolved []*intrinsics.Function
	seen := map[string]bool{}
	for _, def := range compiled.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		if moduleName != codegen.EnvModule {
			missing = append(missing, "unsupported import module "+moduleName)
			continue
		}
		fn, ok := r.registry.FindFunction(name)
		if !ok ||
			!valueTypesEqual(def.ParamTypes(), apiValueTypes(fn.Type.Parameters)) ||
			!valueTypesEqual(def.ResultTypes(), apiResultTypes(fn.Type.Return)) {
			missing = append(missing, "missing imported function "+name)
			continue
		}
		if !seen[name] {
			seen[name] = true
			resolved = append(resolved, fn)
		}
	}
	if len(missing) > 0 {
		return nil, errors.MissingImport(strings.Join(missing, "; "))
	}

	inst := &Instance{runtime: r, sandbox: &Sandbox{}}

	if len(resolved) > 0 {
		builder := r.wazero.NewHostModuleBuilder(codegen.EnvModule)
		for _, fn := range resolved {
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(hostShim(fn, inst.sandbox),
					apiValueTypes(fn.Type.Parameters),
					apiResultTypes(fn.Type.Return)).
				Export(fn.Name)
		}
		inst.env, err = builder.Instantiate(ctx)
		if err != nil {
			inst.Close(ctx)
			return nil, errors.Load("instantiate host imports", err)
		}
	}

	inst.module, err = r.wazero.InstantiateWithConfig(ctx, binary,
		wazero.NewModuleConfig().WithName(r.instanceName()))
	if err != nil {
		inst.Close(ctx)
		return nil, errors.Load("instantiate module", err)
	}

	if mem := inst.module.ExportedMemory(codegen.MemoryExport); mem != nil {
		inst.sandbox.mem = mem
		inst.sandbox.maxBytes = ast.MaxMemoryBytes
		inst.sandbox.brk = mem.Size()
		if len(memImage) > 0 {
			if err := inst.sandbox.Write(0, memImage); err != nil {
				inst.Close(ctx)
				return nil, errors.Load("copy memory image", err)
			}
		}
	} else if len(memImage) > 0 {
		inst.Close(ctx)
		return nil, errors.Load("memory image without module memory", nil)
	}

	return inst, nil
}

// hostShim adapts a registered intrinsic to the backend's raw call ABI.
// Intrinsic errors propagate as a panic the backend converts into a trap
// unwinding out of the guest call.
func hostShim(fn *intrinsics.Function, sandbox *Sandbox) api.GoModuleFunc {
	numParams := len(fn.Type.Parameters)
	returnsValue := fn.Type.Return != types.Void
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]uint64, numParams)
		copy(args, stack[:numParams])
		result, err := fn.Func(ctx, sandbox, args)
		if err != nil {
			panic(err)
		}
		if returnsValue {
			stack[0] = result
		}
	}
}

// synthDataModule builds the IR module that satisfies variable imports:
// one exported mutable global per import, initialized from the registry.
func synthDataModule(imports []ast.VariableImport, values []*intrinsics.Value) []byte {
	synth := &wasm.Module{}
	for i, imp := range imports {
		synth.Globals = append(synth.Globals, wasm.Global{
			Type: wasm.GlobalType{ValType: irValType(imp.Type), Mutable: true},
			Init: constInit(imp.Type, values[i].Bits),
		})
		synth.Exports = append(synth.Exports, wasm.Export{
			Name: imp.Name,
			Kind: wasm.KindGlobal,
			Idx:  uint32(i),
		})
	}
	return synth.Encode()
}

func constInit(t types.Type, bits uint64) []byte {
	w := wasm.NewWriter()
	switch irValType(t) {
	case wasm.ValI64:
		w.Byte(wasm.OpI64Const)
		w.WriteS64(int64(bits))
	case wasm.ValF32:
		w.Byte(wasm.OpF32Const)
		w.WriteU32LE(uint32(bits))
	case wasm.ValF64:
		w.Byte(wasm.OpF64Const)
		w.WriteBytes([]byte{
			byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24),
			byte(bits >> 32), byte(bits >> 40), byte(bits >> 48), byte(bits >> 56),
		})
	default:
		w.Byte(wasm.OpI32Const)
		w.WriteS32(int32(uint32(bits)))
	}
	return w.Bytes()
}

func irValType(t types.Type) wasm.ValType {
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

func apiValType(t types.Type) api.ValueType {
	switch t {
	case types.I64:
		return api.ValueTypeI64
	case types.F32:
		return api.ValueTypeF32
	case types.F64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

func apiValueTypes(params []types.Type) []api.ValueType {
	out := make([]api.ValueType, len(params))
	for i, p := range params {
		out[i] = apiValType(p)
	}
	return out
}

func apiResultTypes(ret types.Type) []api.ValueType {
	if ret == types.Void {
		return nil
	}
	return []api.ValueType{apiValType(ret)}
}

func valueTypesEqual(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
