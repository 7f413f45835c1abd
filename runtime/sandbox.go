package runtime

import (
	"github.com/tetratelabs/wazero/api"

	wastruntime "github.com/wippyai/wast-runtime"
	"github.com/wippyai/wast-runtime/errors"
)

const pageSize = 64 * 1024

// Sandbox is the guest's linear memory view: a reservation of
// maxBytes with a committed break that starts at the module's declared
// initial size and moves with Sbrk. All host-side access bounds-checks
// against the committed break, not the backend's page-granular size.
type Sandbox struct {
	mem      api.Memory
	maxBytes uint64
	brk      uint32
}

func newSandbox(mem api.Memory, initialBytes, maxBytes uint64) *Sandbox {
	return &Sandbox{
		mem:      mem,
		maxBytes: maxBytes,
		brk:      uint32(initialBytes),
	}
}

// Size reports the committed memory size in bytes.
func (s *Sandbox) Size() uint32 {
	return s.brk
}

// Sbrk grows or shrinks the committed region by delta bytes, committing
// backing pages on demand, and returns the previous end.
// Out-of-reservation growth returns SbrkFailure.
func (s *Sandbox) Sbrk(delta int32) uint32 {
	previous := s.brk
	end := int64(previous) + int64(delta)
	if end < 0 || uint64(end) > s.maxBytes {
		return wastruntime.SbrkFailure
	}
	if need := uint64(end); need > uint64(s.mem.Size()) {
		pages := (need - uint64(s.mem.Size()) + pageSize - 1) / pageSize
		if _, ok := s.mem.Grow(uint32(pages)); !ok {
			return wastruntime.SbrkFailure
		}
	}
	s.brk = uint32(end)
	return previous
}

func (s *Sandbox) check(offset uint32, length uint32) error {
	end := uint64(offset) + uint64(length)
	if end > uint64(s.brk) {
		return errors.OutOfBounds("guest pointer outside committed memory")
	}
	return nil
}

// Read returns a copy of length bytes at offset.
func (s *Sandbox) Read(offset uint32, length uint32) ([]byte, error) {
	if err := s.check(offset, length); err != nil {
		return nil, err
	}
	data, ok := s.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds("guest pointer outside backing memory")
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// Write copies data into guest memory at offset.
func (s *Sandbox) Write(offset uint32, data []byte) error {
	if err := s.check(offset, uint32(len(data))); err != nil {
		return err
	}
	if !s.mem.Write(offset, data) {
		return errors.OutOfBounds("guest pointer outside backing memory")
	}
	return nil
}

// ReadU8 reads one byte at offset.
func (s *Sandbox) ReadU8(offset uint32) (uint8, error) {
	if err := s.check(offset, 1); err != nil {
		return 0, err
	}
	b, ok := s.mem.ReadByte(offset)
	if !ok {
		return 0, errors.OutOfBounds("guest pointer outside backing memory")
	}
	return b, nil
}

// ReadU32 reads a little-endian 32-bit word at offset.
func (s *Sandbox) ReadU32(offset uint32) (uint32, error) {
	if err := s.check(offset, 4); err != nil {
		return 0, err
	}
	v, ok := s.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds("guest pointer outside backing memory")
	}
	return v, nil
}

// WriteU8 writes one byte at offset.
func (s *Sandbox) WriteU8(offset uint32, value uint8) error {
	if err := s.check(offset, 1); err != nil {
		return err
	}
	if !s.mem.WriteByte(offset, value) {
		return errors.OutOfBounds("guest pointer outside backing memory")
	}
	return nil
}

// WriteU32 writes a little-endian 32-bit word at offset.
func (s *Sandbox) WriteU32(offset uint32, value uint32) error {
	if err := s.check(offset, 4); err != nil {
		return err
	}
	if !s.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds("guest pointer outside backing memory")
	}
	return nil
}

var _ wastruntime.Memory = (*Sandbox)(nil)
