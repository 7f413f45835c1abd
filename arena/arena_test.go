package arena

import (
	"bytes"
	"testing"
)

func TestAllocZeroed(t *testing.T) {
	a := New()
	buf := a.Alloc(16)
	if len(buf) != 16 {
		t.Fatalf("len: got %d, want 16", len(buf))
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, b)
		}
	}
}

func TestAllocDoesNotAlias(t *testing.T) {
	a := New()
	first := a.Alloc(8)
	second := a.Alloc(8)
	for i := range first {
		first[i] = 0xAA
	}
	for i, b := range second {
		if b != 0 {
			t.Fatalf("second allocation byte %d modified: %#x", i, b)
		}
	}
}

func TestAllocLargerThanChunk(t *testing.T) {
	a := New()
	buf := a.Alloc(defaultChunkSize * 2)
	if len(buf) != defaultChunkSize*2 {
		t.Fatalf("len: got %d", len(buf))
	}
}

func TestCopyBytes(t *testing.T) {
	a := New()
	src := []byte("segment data")
	cp := a.CopyBytes(src)
	if !bytes.Equal(cp, src) {
		t.Fatalf("copy mismatch: %q", cp)
	}
	src[0] = 'X'
	if cp[0] != 's' {
		t.Fatal("arena copy aliases source")
	}
}

func TestCopyString(t *testing.T) {
	a := New()
	if got := a.CopyString("label"); got != "label" {
		t.Fatalf("got %q", got)
	}
	if got := a.CopyString(""); got != "" {
		t.Fatalf("empty string: got %q", got)
	}
}

func TestNextIDMonotonic(t *testing.T) {
	a := New()
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		id := a.NextID()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestTotalAllocatedBytes(t *testing.T) {
	a := New()
	a.Alloc(10)
	a.CopyBytes([]byte("12345"))
	if got := a.TotalAllocatedBytes(); got != 15 {
		t.Fatalf("allocated: got %d, want 15", got)
	}
}

func TestRelease(t *testing.T) {
	a := New()
	a.Alloc(1024)
	a.Release()
	if got := a.TotalAllocatedBytes(); got != 0 {
		t.Fatalf("allocated after release: got %d", got)
	}
	// The arena is reusable after a release.
	if buf := a.Alloc(8); len(buf) != 8 {
		t.Fatalf("alloc after release: got len %d", len(buf))
	}
}
