package hel

import (
	"unsafe"

	"github.com/managarm/hel/internal/kernel"
)

// MappingFlags controls the protection and placement behavior of a
// memory mapping (§6).
type MappingFlags = kernel.MappingFlags

const (
	MapProtRead           MappingFlags = 1 << 0
	MapProtWrite          MappingFlags = 1 << 1
	MapProtExecute        MappingFlags = 1 << 2
	MapDontRequireBacking MappingFlags = 1 << 3
	MapFixed              MappingFlags = 1 << 4
	MapFixedNoReplace     MappingFlags = 1 << 5
)

// Mapping is a typed view onto a Hel memory mapping. Constructing one is
// inherently unsafe: the caller asserts that the mapped object's layout
// actually matches T, and that T's lifetime does not outlive the
// mapping itself.
type Mapping[T any] struct {
	space  Handle
	ptr    unsafe.Pointer
	length uintptr
}

// NewMapping maps the memory object described by h into space (pass
// ThisUniverse() for the caller's own address space) and views the
// result as *T. addr is a placement hint; pass 0 to let the kernel
// choose. Unmap must be called once the mapping is no longer needed,
// normally from the owning type's Close.
func NewMapping[T any](k kernel.Kernel, h Handle, space Handle, addr uintptr, offset, length uintptr, flags MappingFlags) (*Mapping[T], error) {
	mapped, err := k.MapMemory(h.toKernel(), space.toKernel(), addr, offset, length, flags)
	if err != nil {
		return nil, WrapError("NewMapping", err)
	}
	return &Mapping[T]{
		space:  space,
		ptr:    unsafe.Pointer(mapped),
		length: length,
	}, nil
}

// As returns a pointer to the mapped memory viewed as T, or nil if the
// mapping has already been unmapped.
func (m *Mapping[T]) As() *T {
	if m.ptr == nil {
		return nil
	}
	return (*T)(m.ptr)
}

// Len returns the length of the mapping in bytes.
func (m *Mapping[T]) Len() uintptr {
	return m.length
}

// Unmap releases the mapping. It is idempotent: calling it more than
// once, or on a mapping that was never fully established, is a no-op.
func (m *Mapping[T]) Unmap(k kernel.Kernel) error {
	if m.ptr == nil {
		return nil
	}
	addr := uintptr(m.ptr)
	m.ptr = nil
	if err := k.UnmapMemory(m.space.toKernel(), addr, m.length); err != nil {
		return WrapError("Mapping.Unmap", err)
	}
	return nil
}
