package runtime

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wast-runtime/ast"
	"github.com/wippyai/wast-runtime/errors"
)

// Instance is a loaded, linked, natively compiled module. It is not safe
// for concurrent use: guest execution is single-threaded.
type Instance struct {
	runtime   *Runtime
	astModule *ast.Module
	module    api.Module
	env       api.Module
	data      api.Module
	sandbox   *Sandbox
}

// Module returns the AST module this instance was loaded from, or nil
// for binary loads.
func (i *Instance) Module() *ast.Module {
	return i.astModule
}

// Memory returns the instance's sandboxed guest memory.
func (i *Instance) Memory() *Sandbox {
	return i.sandbox
}

// Invoke calls an exported function with no arguments and returns its
// result as an unsigned 32-bit integer (zero for void functions). The
// export name is matched byte-wise. Runtime traps surface as errors.
func (i *Instance) Invoke(ctx context.Context, name string) (uint32, error) {
	results, err := i.InvokeWithArgs(ctx, name, nil)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return uint32(results[0]), nil
}

// InvokeWithArgs calls an exported function with raw argument words.
func (i *Instance) InvokeWithArgs(ctx context.Context, name string, args []uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "module doesn't contain named export "+name)
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, errors.Trap(err, "invoke "+name)
	}
	return results, nil
}

// Close releases the instance and its import bridge modules.
func (i *Instance) Close(ctx context.Context) error {
	var first error
	for _, mod := range []api.Module{i.module, i.env, i.data} {
		if mod == nil {
			continue
		}
		if err := mod.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
