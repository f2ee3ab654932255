// Package kernel abstracts the Hel syscall boundary behind a single
// interface so the rest of the module never issues a raw syscall
// directly. It mirrors the teacher's internal/uring package: one
// interface, one real (build-tagged) implementation, and one in-memory
// implementation for tests.
package kernel

import (
	"fmt"

	"github.com/managarm/hel/internal/uapi"
)

// KernelError carries a raw kernel error code (§6's HelError) out of a
// Kernel implementation. The root package's error taxonomy
// (FromHelError) maps RawCode to an ErrorCode; internal/kernel cannot
// produce that itself without importing the root package, which would
// cycle back here.
type KernelError struct {
	Op      string
	RawCode uint32
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel: %s: raw error %d", e.Op, e.RawCode)
}

// QueueParameters describes the geometry of a CreateQueue call.
type QueueParameters = uapi.QueueParameters

// ActionDescriptor is the wire shape of one sub-operation in a
// submitAsync call.
type ActionDescriptor = uapi.ActionDescriptor

// MappingFlags controls the protection and placement behavior of a
// MapMemory call.
type MappingFlags uint32

// DriveFlags controls how DriveQueue blocks, if at all.
type DriveFlags uint32

const (
	// DriveNoWait returns immediately after draining ready completions.
	DriveNoWait DriveFlags = 0
	// DriveWait blocks on the supplied futex word until it no longer
	// equals waitValue, or until a completion becomes ready.
	DriveWait DriveFlags = 1 << 0
)

// Kernel is the set of Hel entry points the rest of this module drives
// an async IPC session through. A method that fails with a kernel
// error code returns it untranslated as a *KernelError; the root
// package's WrapError maps it to a hel-level error via FromHelError.
// Failures outside the kernel's code set (a failed syscall, a bad
// argument to the simulated kernel) come back as plain errors.
type Kernel interface {
	// CreateQueue allocates a completion queue with the given geometry
	// and returns a handle to it.
	CreateQueue(params QueueParameters) (Handle, error)

	// DriveQueue asks the kernel to make progress on queue, optionally
	// blocking on waitWord while it still equals waitValue.
	DriveQueue(queue Handle, flags DriveFlags, waitWord *uint32, waitValue uint32) error

	// SubmitAsync submits a chain of actions against lane, routing the
	// eventual completion to queue tagged with context.
	SubmitAsync(lane Handle, actions []ActionDescriptor, queue Handle, context uint64) error

	// SubmitAwaitClock schedules a completion on queue, tagged with
	// context, once the kernel clock passes nanos.
	SubmitAwaitClock(nanos uint64, queue Handle, context uint64) error

	// MapMemory maps length bytes of obj into space at addr (0 lets the
	// kernel choose) with the given offset and flags, returning the
	// resulting address.
	MapMemory(obj, space Handle, addr uintptr, offset, length uintptr, flags MappingFlags) (uintptr, error)

	// UnmapMemory reverses a prior MapMemory call.
	UnmapMemory(space Handle, addr uintptr, length uintptr) error

	// CloseDescriptor releases a descriptor from a universe.
	CloseDescriptor(universe, descriptor int64) error

	// TransferDescriptor duplicates descriptor into targetUniverse,
	// returning the new descriptor's value there.
	TransferDescriptor(descriptor, targetUniverse int64) (int64, error)

	// GetClock returns the current kernel clock, in nanoseconds.
	GetClock() (uint64, error)

	// FutexWait blocks while *word == expected, up to timeoutNanos (a
	// negative value waits indefinitely).
	FutexWait(word *uint32, expected uint32, timeoutNanos int64) error

	// FutexWake wakes any waiters blocked on word.
	FutexWake(word *uint32) error
}

// Handle is the descriptor pair (value, owning universe) the kernel
// boundary speaks in. It is a narrow local type rather than an import
// of the root package's Handle to avoid a package cycle; the root
// package converts at the boundary (see handle.go's toKernel, and
// HandleFromRawInUniverse for the other direction).
type Handle struct {
	Descriptor int64
	Universe   int64
}
