package hel

import (
	"github.com/managarm/hel/internal/kernel"
	"github.com/managarm/hel/internal/uapi"
)

// Handle is an owned reference to a kernel object: a descriptor value
// plus the universe (descriptor table) it lives in (§4.2).
type Handle struct {
	descriptor int64
	universe   int64
	pseudo     bool
}

// NullHandle returns the null handle value.
func NullHandle() Handle {
	return Handle{descriptor: uapi.HelNullHandle, universe: uapi.HelThisUniverse, pseudo: true}
}

// ThisUniverse returns the pseudo-handle referring to the calling
// process's own universe.
func ThisUniverse() Handle {
	return Handle{descriptor: uapi.HelThisUniverse, universe: uapi.HelNullHandle, pseudo: true}
}

// ThisThread returns the pseudo-handle referring to the calling thread.
func ThisThread() Handle {
	return Handle{descriptor: uapi.HelThisThread, universe: uapi.HelNullHandle, pseudo: true}
}

// ZeroMemory returns the pseudo-handle backing zero-filled anonymous
// mappings.
func ZeroMemory() Handle {
	return Handle{descriptor: uapi.HelZeroMemory, universe: uapi.HelNullHandle, pseudo: true}
}

// HandleFromRaw wraps a raw descriptor returned by the kernel, assumed
// to live in the caller's own universe.
func HandleFromRaw(raw int64) Handle {
	return Handle{descriptor: raw, universe: uapi.HelThisUniverse}
}

// HandleFromRawInUniverse wraps a raw descriptor living in an explicit
// universe.
func HandleFromRawInUniverse(raw, universe int64) Handle {
	return Handle{descriptor: raw, universe: universe}
}

// Descriptor returns the raw descriptor value.
func (h Handle) Descriptor() int64 {
	return h.descriptor
}

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool {
	return h.descriptor == uapi.HelNullHandle
}

func (h Handle) toKernel() kernel.Handle {
	return kernel.Handle{Descriptor: h.descriptor, Universe: h.universe}
}

// Close releases the handle, a no-op if it is already null or one of
// the immortal pseudo-handles (NullHandle/ThisUniverse/ThisThread/
// ZeroMemory never own kernel resources this package could leak).
// Idempotent: calling Close twice on the same *Handle is safe.
func (h *Handle) Close(k kernel.Kernel) error {
	if h.pseudo || h.descriptor == uapi.HelNullHandle {
		return nil
	}
	if err := k.CloseDescriptor(h.universe, h.descriptor); err != nil {
		return WrapError("Handle.Close", err)
	}
	h.descriptor = uapi.HelNullHandle
	return nil
}

// CloneInto duplicates h into the target universe, returning the new
// handle there.
func (h Handle) CloneInto(k kernel.Kernel, universe Handle) (Handle, error) {
	newDescriptor, err := k.TransferDescriptor(h.descriptor, universe.descriptor)
	if err != nil {
		return Handle{}, WrapError("Handle.CloneInto", err)
	}
	return Handle{descriptor: newDescriptor, universe: universe.descriptor}, nil
}

// Clone duplicates h into the caller's own universe.
func (h Handle) Clone(k kernel.Kernel) (Handle, error) {
	return h.CloneInto(k, ThisUniverse())
}
