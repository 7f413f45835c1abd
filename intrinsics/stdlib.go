package intrinsics

import (
	"context"
	"fmt"
	"io"
	"time"

	wastruntime "github.com/wippyai/wast-runtime"
	"github.com/wippyai/wast-runtime/errors"
	"github.com/wippyai/wast-runtime/types"
)

// RegisterStdlib registers the basic host intrinsics guest programs
// expect: abort, sbrk, character and string output, and wall-clock time.
// Output goes to out. Registration is explicit so callers control what a
// module may import.
func RegisterStdlib(r *Registry, out io.Writer) {
	r.RegisterFunction("_abort", types.NewFunction(types.Void),
		func(ctx context.Context, mem wastruntime.Memory, args []uint64) (uint64, error) {
			return 0, errors.Trap(nil, "guest abort")
		})

	r.RegisterFunction("_sbrk", types.NewFunction(types.I32, types.I32),
		func(ctx context.Context, mem wastruntime.Memory, args []uint64) (uint64, error) {
			return uint64(mem.Sbrk(int32(uint32(args[0])))), nil
		})

	r.RegisterFunction("_putchar", types.NewFunction(types.I32, types.I32),
		func(ctx context.Context, mem wastruntime.Memory, args []uint64) (uint64, error) {
			c := byte(args[0])
			if _, err := out.Write([]byte{c}); err != nil {
				return 0, errors.Trap(err, "write stdout")
			}
			return args[0] & 0xff, nil
		})

	r.RegisterFunction("_puts", types.NewFunction(types.I32, types.I32),
		func(ctx context.Context, mem wastruntime.Memory, args []uint64) (uint64, error) {
			s, err := readCString(mem, uint32(args[0]))
			if err != nil {
				return 0, err
			}
			if _, err := fmt.Fprintln(out, s); err != nil {
				return 0, errors.Trap(err, "write stdout")
			}
			return uint64(len(s)) + 1, nil
		})

	r.RegisterFunction("_time", types.NewFunction(types.I32),
		func(ctx context.Context, mem wastruntime.Memory, args []uint64) (uint64, error) {
			return uint64(uint32(time.Now().Unix())), nil
		})
}

// readCString reads a NUL-terminated guest string, bounds-checking every
// byte against the committed memory size.
func readCString(mem wastruntime.Memory, offset uint32) (string, error) {
	var buf []byte
	for {
		b, err := mem.ReadU8(offset)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
		offset++
	}
}
