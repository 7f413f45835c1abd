package intrinsics

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/wippyai/wast-runtime/types"
)

func TestRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	sig := types.NewFunction(types.I32, types.I32)
	r.RegisterFunction("_inc", sig, nil)

	fn, ok := r.FindFunction("_inc")
	if !ok {
		t.Fatal("registered function not found")
	}
	if !fn.Type.Equal(sig) {
		t.Fatalf("signature mismatch: %s", fn.Type)
	}
	if _, ok := r.FindFunction("_missing"); ok {
		t.Fatal("unregistered name resolved")
	}

	r.UnregisterFunction("_inc")
	if _, ok := r.FindFunction("_inc"); ok {
		t.Fatal("unregistered function still resolves")
	}
}

func TestRegisterValue(t *testing.T) {
	r := NewRegistry()
	r.RegisterValue("_errno", types.I32, 42)
	v, ok := r.FindValue("_errno")
	if !ok || v.Bits != 42 || v.Type != types.I32 {
		t.Fatalf("value lookup: ok=%v, %+v", ok, v)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RegisterFunction("_f", types.NewFunction(types.Void), nil)
				r.FindFunction("_f")
				r.UnregisterFunction("_f")
			}
		}()
	}
	wg.Wait()
}

func TestStdlibPutchar(t *testing.T) {
	r := NewRegistry()
	var out bytes.Buffer
	RegisterStdlib(r, &out)

	fn, ok := r.FindFunction("_putchar")
	if !ok {
		t.Fatal("_putchar not registered")
	}
	result, err := fn.Func(context.Background(), nil, []uint64{'A'})
	if err != nil {
		t.Fatalf("putchar: %v", err)
	}
	if result != 'A' || out.String() != "A" {
		t.Fatalf("putchar: result %d, wrote %q", result, out.String())
	}
}

func TestStdlibAbortTraps(t *testing.T) {
	r := NewRegistry()
	RegisterStdlib(r, &bytes.Buffer{})
	fn, _ := r.FindFunction("_abort")
	if _, err := fn.Func(context.Background(), nil, nil); err == nil {
		t.Fatal("abort must trap")
	}
}
