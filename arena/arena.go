// Package arena provides bump-allocated byte storage with a single bulk
// release per owner.
//
// The names, export strings and data-segment payloads a module keeps are
// copied into the owning module's Arena, so that storage lives and dies as
// one unit. A ScopedArena is the short-lived companion: the parser keeps
// the S-expression tree's decoded string literals in one and releases it
// when parsing returns. The code generator does not use an arena.
package arena

const defaultChunkSize = 64 * 1024

// Arena is a bump allocator. Allocations are never freed individually;
// Release drops the whole backing store at once.
//
// An Arena also hands out the module-scoped monotonic ids used for
// identity-based sentinels (see NextID). Ids are never reused within one
// arena.
type Arena struct {
	chunks    [][]byte
	current   []byte
	offset    int
	allocated uint64
	nextID    uint64
}

// New creates an empty arena.
func New() *Arena {
	return &Arena{}
}

// Alloc returns a zeroed byte slice of length n from the arena.
func (a *Arena) Alloc(n int) []byte {
	if n == 0 {
		return nil
	}
	if a.offset+n > len(a.current) {
		size := defaultChunkSize
		if n > size {
			size = n
		}
		a.current = make([]byte, size)
		a.chunks = append(a.chunks, a.current)
		a.offset = 0
	}
	buf := a.current[a.offset : a.offset+n : a.offset+n]
	a.offset += n
	a.allocated += uint64(n)
	return buf
}

// CopyBytes copies data into the arena and returns the arena-owned copy.
func (a *Arena) CopyBytes(data []byte) []byte {
	buf := a.Alloc(len(data))
	copy(buf, data)
	return buf
}

// CopyString copies s into the arena and returns the arena-owned string.
func (a *Arena) CopyString(s string) string {
	if s == "" {
		return ""
	}
	return string(a.CopyBytes([]byte(s)))
}

// NextID returns the next monotonic id scoped to this arena. The first id
// is 1 so the zero value never collides with an allocated id.
func (a *Arena) NextID() uint64 {
	a.nextID++
	return a.nextID
}

// TotalAllocatedBytes reports the number of bytes handed out so far.
func (a *Arena) TotalAllocatedBytes() uint64 {
	return a.allocated
}

// Release drops the backing store. The arena is reusable afterwards, but
// slices returned by earlier allocations must no longer be used.
func (a *Arena) Release() {
	a.chunks = nil
	a.current = nil
	a.offset = 0
	a.allocated = 0
}

// ScopedArena is an arena for short-lived bookkeeping, released by the
// caller when the enclosing scope (in this repository, one Parse call)
// ends.
type ScopedArena struct {
	Arena
}

// NewScoped creates a scoped arena.
func NewScoped() *ScopedArena {
	return &ScopedArena{}
}
