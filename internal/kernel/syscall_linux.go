//go:build linux

package kernel

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/managarm/hel/internal/logging"
	"github.com/managarm/hel/internal/uapi"
)

// Hel syscall entry points (§6). These are the managarm kernel's own
// syscall numbers, not Linux's — this build only exists so the raw
// syscall.Syscall6 plumbing has a GOOS to live under; running this
// binary on a real Linux kernel will fail every call with ENOSYS,
// which is expected (§15 non-goals: the kernel ABI itself is mocked or
// simulated only in this module's own tests).
const (
	sysHelCreateQueue        = 900
	sysHelDriveQueue         = 901
	sysHelSubmitAsync        = 902
	sysHelSubmitAwaitClock   = 903
	sysHelMapMemory          = 904
	sysHelUnmapMemory        = 905
	sysHelCloseDescriptor    = 906
	sysHelTransferDescriptor = 907
	sysHelGetClock           = 908
	sysHelFutexWait          = 909
	sysHelFutexWake          = 910
)

// realKernel issues Hel syscalls directly, grounded on the teacher's
// minimalRing: no cgo, raw syscall numbers, unsafe.Pointer argument
// marshaling.
type realKernel struct {
	logger *logging.Logger
}

// NewRealKernel returns the real, syscall-driving Kernel
// implementation.
func NewRealKernel(logger *logging.Logger) Kernel {
	return &realKernel{logger: logger}
}

func (k *realKernel) logf(format string, args ...any) {
	if k.logger != nil {
		k.logger.Debugf(format, args...)
	}
}

func helErr(op string, raw uintptr) error {
	if raw == uapi.HelErrNone {
		return nil
	}
	return &KernelError{Op: op, RawCode: uint32(raw)}
}

func (k *realKernel) CreateQueue(params QueueParameters) (Handle, error) {
	k.logf("helCreateQueue ringShift=%d numChunks=%d chunkSize=%d", params.RingShift, params.NumCqChunks, params.ChunkSize)

	var rawHandle int64
	raw, _, errno := syscall.Syscall(sysHelCreateQueue,
		uintptr(unsafe.Pointer(&params)),
		uintptr(unsafe.Pointer(&rawHandle)),
		0)
	if errno != 0 {
		return Handle{}, fmt.Errorf("helCreateQueue syscall failed: %w", errno)
	}
	if err := helErr("CreateQueue", raw); err != nil {
		return Handle{}, err
	}
	return Handle{Descriptor: rawHandle, Universe: uapi.HelThisUniverse}, nil
}

func (k *realKernel) DriveQueue(queue Handle, flags DriveFlags, waitWord *uint32, waitValue uint32) error {
	var waitWordArg uintptr
	if waitWord != nil {
		waitWordArg = uintptr(unsafe.Pointer(waitWord))
	}
	raw, _, errno := syscall.Syscall6(sysHelDriveQueue,
		uintptr(queue.Descriptor),
		uintptr(flags),
		waitWordArg,
		uintptr(waitValue),
		0, 0)
	if errno != 0 {
		return fmt.Errorf("helDriveQueue syscall failed: %w", errno)
	}
	return helErr("DriveQueue", raw)
}

func (k *realKernel) SubmitAsync(lane Handle, actions []ActionDescriptor, queue Handle, context uint64) error {
	buf := uapi.EncodeActionDescriptors(actions)
	var bufPtr unsafe.Pointer
	if len(buf) > 0 {
		bufPtr = unsafe.Pointer(&buf[0])
	}
	k.logf("helSubmitAsync lane=%d queue=%d context=%d actions=%d", lane.Descriptor, queue.Descriptor, context, len(actions))

	raw, _, errno := syscall.Syscall6(sysHelSubmitAsync,
		uintptr(lane.Descriptor),
		uintptr(bufPtr),
		uintptr(len(actions)),
		uintptr(queue.Descriptor),
		uintptr(context),
		0)
	if errno != 0 {
		return fmt.Errorf("helSubmitAsync syscall failed: %w", errno)
	}
	return helErr("SubmitAsync", raw)
}

func (k *realKernel) SubmitAwaitClock(nanos uint64, queue Handle, context uint64) error {
	raw, _, errno := syscall.Syscall6(sysHelSubmitAwaitClock,
		uintptr(nanos),
		uintptr(queue.Descriptor),
		uintptr(context),
		0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("helSubmitAwaitClock syscall failed: %w", errno)
	}
	return helErr("SubmitAwaitClock", raw)
}

// MapMemory reserves a private anonymous region with unix.Mmap (the
// same primitive the teacher uses to stand up its own shared ring,
// runner.go's mmapQueues) and then asks the kernel to bind obj into
// it. A real managarm target would have the kernel choose and report
// back the address directly; reserving the range ourselves first lets
// this Go process hold a normal, GC-safe []byte-backed pointer to it.
func (k *realKernel) MapMemory(obj, space Handle, addr uintptr, offset, length uintptr, flags MappingFlags) (uintptr, error) {
	prot := unix.PROT_NONE
	if flags&MappingFlags(uapi.HelMapProtRead) != 0 {
		prot |= unix.PROT_READ
	}
	if flags&MappingFlags(uapi.HelMapProtWrite) != 0 {
		prot |= unix.PROT_WRITE
	}
	if flags&MappingFlags(uapi.HelMapProtExecute) != 0 {
		prot |= unix.PROT_EXEC
	}

	region, err := unix.Mmap(-1, 0, int(length), prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("mmap reservation failed: %w", err)
	}
	regionAddr := uintptr(unsafe.Pointer(&region[0]))

	raw, _, errno := syscall.Syscall6(sysHelMapMemory,
		uintptr(obj.Descriptor),
		uintptr(space.Descriptor),
		regionAddr,
		offset,
		length,
		uintptr(flags))
	if errno != 0 {
		unix.Munmap(region)
		return 0, fmt.Errorf("helMapMemory syscall failed: %w", errno)
	}
	if err := helErr("MapMemory", raw); err != nil {
		unix.Munmap(region)
		return 0, err
	}
	return regionAddr, nil
}

func (k *realKernel) UnmapMemory(space Handle, addr uintptr, length uintptr) error {
	raw, _, errno := syscall.Syscall(sysHelUnmapMemory, uintptr(space.Descriptor), addr, length)
	if errno != 0 {
		return fmt.Errorf("helUnmapMemory syscall failed: %w", errno)
	}
	if err := helErr("UnmapMemory", raw); err != nil {
		return err
	}
	region := unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
	return unix.Munmap(region)
}

func (k *realKernel) CloseDescriptor(universe, descriptor int64) error {
	raw, _, errno := syscall.Syscall(sysHelCloseDescriptor, uintptr(universe), uintptr(descriptor), 0)
	if errno != 0 {
		return fmt.Errorf("helCloseDescriptor syscall failed: %w", errno)
	}
	return helErr("CloseDescriptor", raw)
}

func (k *realKernel) TransferDescriptor(descriptor, targetUniverse int64) (int64, error) {
	var newDescriptor int64
	raw, _, errno := syscall.Syscall(sysHelTransferDescriptor,
		uintptr(descriptor),
		uintptr(targetUniverse),
		uintptr(unsafe.Pointer(&newDescriptor)))
	if errno != 0 {
		return 0, fmt.Errorf("helTransferDescriptor syscall failed: %w", errno)
	}
	if err := helErr("TransferDescriptor", raw); err != nil {
		return 0, err
	}
	return newDescriptor, nil
}

func (k *realKernel) GetClock() (uint64, error) {
	var clock uint64
	raw, _, errno := syscall.Syscall(sysHelGetClock, uintptr(unsafe.Pointer(&clock)), 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("helGetClock syscall failed: %w", errno)
	}
	if err := helErr("GetClock", raw); err != nil {
		return 0, err
	}
	return clock, nil
}

func (k *realKernel) FutexWait(word *uint32, expected uint32, timeoutNanos int64) error {
	raw, _, errno := syscall.Syscall6(sysHelFutexWait,
		uintptr(unsafe.Pointer(word)),
		uintptr(expected),
		uintptr(timeoutNanos),
		0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("helFutexWait syscall failed: %w", errno)
	}
	return helErr("FutexWait", raw)
}

func (k *realKernel) FutexWake(word *uint32) error {
	raw, _, errno := syscall.Syscall(sysHelFutexWake, uintptr(unsafe.Pointer(word)), 0, 0)
	if errno != 0 {
		return fmt.Errorf("helFutexWake syscall failed: %w", errno)
	}
	return helErr("FutexWake", raw)
}

var _ Kernel = (*realKernel)(nil)
