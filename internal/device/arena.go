// Package device owns the raw memory tensors execute against. An Arena is a
// single bulk allocation handed out as integer offsets; nothing is freed
// individually and the whole region is invalidated together on Reset.
// Offsets instead of pointers keep ownership auditable after a reset.
package device

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrOutOfMemory is returned when an allocation does not fit the arena's
// backing region.
var ErrOutOfMemory = errors.New("arena out of memory")

// DefaultAlign is the allocation alignment used when callers pass 0.
// 64 bytes keeps float32 rows cache-line aligned.
const DefaultAlign = 64

// Arena is a bump allocator over one contiguous byte region.
// It is not safe for concurrent use; each graph invocation owns its arena.
type Arena struct {
	buf []byte
	off int
}

// NewArena creates an arena backed by size bytes.
func NewArena(size int) *Arena {
	if size < 0 {
		size = 0
	}
	return &Arena{buf: make([]byte, size)}
}

// Size returns the total capacity of the backing region.
func (a *Arena) Size() int { return len(a.buf) }

// Used returns the number of bytes handed out since the last Reset.
func (a *Arena) Used() int { return a.off }

// Allocate reserves size bytes at the given alignment and returns the offset
// of the reservation. It fails with ErrOutOfMemory when the region is
// exhausted; the arena is left unchanged on failure.
func (a *Arena) Allocate(size, align int) (int, error) {
	if size < 0 {
		return 0, fmt.Errorf("arena: negative allocation size %d", size)
	}
	if align <= 0 {
		align = DefaultAlign
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("arena: alignment %d is not a power of two", align)
	}

	off := (a.off + align - 1) &^ (align - 1)
	if off+size > len(a.buf) {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d, capacity %d",
			ErrOutOfMemory, size, off, len(a.buf))
	}
	a.off = off + size
	return off, nil
}

// Reset invalidates every handle at once. The backing bytes are zeroed so a
// pooled arena cannot leak values between invocations.
func (a *Arena) Reset() {
	clear(a.buf[:a.off])
	a.off = 0
}

// Bytes returns the region [off, off+size). The slice aliases the arena and
// must not be retained across Reset.
func (a *Arena) Bytes(off, size int) []byte {
	return a.buf[off : off+size]
}

// Float32 returns a float32 view over the region starting at off.
// The offset must be 4-byte aligned, which every planner-produced offset is.
func (a *Arena) Float32(off, n int) []float32 {
	if n == 0 {
		return nil
	}
	if off%4 != 0 {
		panic(fmt.Sprintf("arena: misaligned float32 view at offset %d", off))
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&a.buf[off])), n)
}

// Int32 returns an int32 view over the region starting at off.
func (a *Arena) Int32(off, n int) []int32 {
	if n == 0 {
		return nil
	}
	if off%4 != 0 {
		panic(fmt.Sprintf("arena: misaligned int32 view at offset %d", off))
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&a.buf[off])), n)
}
