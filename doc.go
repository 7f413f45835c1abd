// Package wastruntime is an ahead-of-time compiler and runtime for the
// S-expression text module format of a stack-typed virtual machine.
//
// Given a textual module, it builds a typed abstract syntax tree, lowers
// it to native machine code through a compiling WebAssembly backend,
// provisions a sandboxed linear memory, binds imported host functions
// from a process-wide intrinsic registry, and invokes exported entry
// functions.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	wastruntime/         Root package with the guest Memory interface
//	├── runtime/         High-level API: load, link, and run modules
//	├── wast/            S-expression text front-end (two-pass parser)
//	├── ast/             Typed expression tree and exhaustive dispatch
//	├── codegen/         AST lowering to the backend IR
//	├── wasm/            Backend IR binary encoding primitives
//	├── intrinsics/      Process-wide host function/value registry
//	├── types/           Primitive types, type classes, signatures
//	├── arena/           Bump-allocated module-lifetime storage
//	├── errors/          Structured error types
//	└── cmd/run/         Command-line driver
//
// # Quick Start
//
// Load and run a text module:
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	intrinsics.RegisterStdlib(intrinsics.Default(), os.Stdout)
//
//	inst, err := rt.LoadText(ctx, source)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	result, err := inst.Invoke(ctx, "main")
//
// # Concurrency
//
// Guest execution is single-threaded: one guest call runs at a time and
// host intrinsics block the calling goroutine. The intrinsic registry is
// the only process-wide mutable state and is mutex-guarded; everything
// else is owned by a single module value.
//
// # Memory
//
// Guest memory is a power-of-two sandbox: the code generator masks every
// load and store address into it, so no guest access can leave the
// reservation. Host intrinsics must use the bounds-checked Memory
// interface for guest pointers.
package wastruntime
