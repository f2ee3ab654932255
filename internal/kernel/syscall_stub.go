//go:build !linux

package kernel

import "github.com/managarm/hel/internal/logging"

// stubKernel implements Kernel for platforms that cannot issue the
// real Hel syscalls, grounded on the teacher's iouring_stub.go:
// every method returns ErrCodeUnsupportedOperation rather than
// compiling out the real implementation's call sites.
type stubKernel struct {
	logger *logging.Logger
}

// NewRealKernel returns a stub Kernel on non-Linux platforms. Callers
// that need a working Kernel on these platforms should use
// NewSimulatedKernel instead.
func NewRealKernel(logger *logging.Logger) Kernel {
	return &stubKernel{logger: logger}
}

func unsupported(op string) error {
	return &KernelError{Op: op, RawCode: 4} // HelErrUnsupportedOperation
}

func (k *stubKernel) CreateQueue(params QueueParameters) (Handle, error) {
	return Handle{}, unsupported("CreateQueue")
}

func (k *stubKernel) DriveQueue(queue Handle, flags DriveFlags, waitWord *uint32, waitValue uint32) error {
	return unsupported("DriveQueue")
}

func (k *stubKernel) SubmitAsync(lane Handle, actions []ActionDescriptor, queue Handle, context uint64) error {
	return unsupported("SubmitAsync")
}

func (k *stubKernel) SubmitAwaitClock(nanos uint64, queue Handle, context uint64) error {
	return unsupported("SubmitAwaitClock")
}

func (k *stubKernel) MapMemory(obj, space Handle, addr uintptr, offset, length uintptr, flags MappingFlags) (uintptr, error) {
	return 0, unsupported("MapMemory")
}

func (k *stubKernel) UnmapMemory(space Handle, addr uintptr, length uintptr) error {
	return unsupported("UnmapMemory")
}

func (k *stubKernel) CloseDescriptor(universe, descriptor int64) error {
	return unsupported("CloseDescriptor")
}

func (k *stubKernel) TransferDescriptor(descriptor, targetUniverse int64) (int64, error) {
	return 0, unsupported("TransferDescriptor")
}

func (k *stubKernel) GetClock() (uint64, error) {
	return 0, unsupported("GetClock")
}

func (k *stubKernel) FutexWait(word *uint32, expected uint32, timeoutNanos int64) error {
	return unsupported("FutexWait")
}

func (k *stubKernel) FutexWake(word *uint32) error {
	return unsupported("FutexWake")
}

var _ Kernel = (*stubKernel)(nil)
