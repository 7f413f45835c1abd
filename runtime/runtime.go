// Package runtime loads compiled modules into the backend engine, links
// their imports against the intrinsic registry, provisions the sandboxed
// guest memory, and invokes exported functions.
package runtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wast-runtime/intrinsics"
)

// Runtime wraps the backend engine. One guest instance is live at a
// time: the import host modules use fixed names, so a previous instance
// must be closed before the next module loads.
type Runtime struct {
	wazero   wazero.Runtime
	registry *intrinsics.Registry
	seq      atomic.Uint64
}

// Config carries runtime construction options.
type Config struct {
	// Registry overrides the process-wide intrinsic registry.
	Registry *intrinsics.Registry

	// MemoryLimitPages caps instance memory in 64KiB pages. 0 keeps the
	// backend default (4GiB).
	MemoryLimitPages uint32
}

// New creates a runtime on the backend's compiling engine.
func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates a runtime with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) (*Runtime, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	registry := intrinsics.Default()
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.Registry != nil {
			registry = cfg.Registry
		}
	}
	return &Runtime{
		wazero:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		registry: registry,
	}, nil
}

// Registry returns the intrinsic registry this runtime links against.
func (r *Runtime) Registry() *intrinsics.Registry {
	return r.registry
}

// Close releases all runtime resources. All instances must be closed
// before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wazero.Close(ctx)
}

// instanceName generates a unique backend name for a loaded module.
func (r *Runtime) instanceName() string {
	return fmt.Sprintf("module-%d", r.seq.Add(1))
}
