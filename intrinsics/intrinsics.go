// Package intrinsics holds the process-wide registry of host functions
// and host values that guest modules import by name.
//
// Registration and deregistration happen during program or module setup;
// the runtime's link step looks imports up here and fails the load when
// a name is missing or its registered type does not match the import's
// declared type. All registry access is mutex-guarded.
package intrinsics

import (
	"context"
	"sync"

	wastruntime "github.com/wippyai/wast-runtime"
	"github.com/wippyai/wast-runtime/types"
)

// HostFunc is a host implementation of an imported function. Arguments
// arrive as raw 64-bit words matching the declared signature in order;
// the result is returned the same way (ignored for void signatures).
// Guest pointers are integer offsets into mem and must be bounds-checked
// through it. A returned error terminates the guest call as a trap.
type HostFunc func(ctx context.Context, mem wastruntime.Memory, args []uint64) (uint64, error)

// Function is a registered host function.
type Function struct {
	Name string
	Type types.Function
	Func HostFunc
}

// Value is a registered host value. Bits holds the raw value
// representation (floats as their IEEE bit pattern).
type Value struct {
	Name string
	Type types.Type
	Bits uint64
}

// Registry maps import names to host functions and values.
type Registry struct {
	mu        sync.Mutex
	functions map[string]*Function
	values    map[string]*Value
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		functions: map[string]*Function{},
		values:    map[string]*Value{},
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry modules link against unless
// given another one.
func Default() *Registry {
	return defaultRegistry
}

// RegisterFunction registers (or replaces) a host function.
func (r *Registry) RegisterFunction(name string, sig types.Function, fn HostFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = &Function{Name: name, Type: sig, Func: fn}
}

// RegisterValue registers (or replaces) a host value.
func (r *Registry) RegisterValue(name string, t types.Type, bits uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = &Value{Name: name, Type: t, Bits: bits}
}

// UnregisterFunction removes a host function.
func (r *Registry) UnregisterFunction(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.functions, name)
}

// UnregisterValue removes a host value.
func (r *Registry) UnregisterValue(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, name)
}

// FindFunction looks a host function up by name.
func (r *Registry) FindFunction(name string) (*Function, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.functions[name]
	return fn, ok
}

// FindValue looks a host value up by name.
func (r *Registry) FindValue(name string) (*Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[name]
	return v, ok
}
