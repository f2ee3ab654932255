package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/managarm/hel/internal/uapi"
)

func testParams() QueueParameters {
	return QueueParameters{
		NumCqChunks: 4,
		ChunkSize:   256,
		RingShift:   4,
	}
}

func TestSimulatedKernelCreateQueue(t *testing.T) {
	k := NewSimulatedKernel()
	queue, err := k.CreateQueue(testParams())
	require.NoError(t, err)
	assert.NotZero(t, queue.Descriptor)
}

func TestSimulatedKernelDeliverRequiresSuppliedChunk(t *testing.T) {
	k := NewSimulatedKernel()
	queue, err := k.CreateQueue(testParams())
	require.NoError(t, err)

	err = k.Deliver(queue, 1, uapi.EncodeSimpleResult(uapi.SimpleResult{Error: uapi.HelErrNone}))
	assert.Error(t, err)
}

func TestSimulatedKernelMapMemoryReturnsQueueBuffer(t *testing.T) {
	k := NewSimulatedKernel()
	queue, err := k.CreateQueue(testParams())
	require.NoError(t, err)

	addr, err := k.MapMemory(queue, Handle{Descriptor: uapi.HelThisUniverse}, 0, 0, 64, MappingFlags(uapi.HelMapProtRead|uapi.HelMapProtWrite))
	require.NoError(t, err)
	assert.NotZero(t, addr)
}

func TestSimulatedKernelMapMemoryZeroMemory(t *testing.T) {
	k := NewSimulatedKernel()
	addr, err := k.MapMemory(Handle{Descriptor: uapi.HelZeroMemory}, Handle{Descriptor: uapi.HelThisUniverse}, 0, 0, 64, MappingFlags(uapi.HelMapProtRead|uapi.HelMapProtWrite))
	require.NoError(t, err)
	assert.NotZero(t, addr)
}

func TestSimulatedKernelGetClockAndSetClock(t *testing.T) {
	k := NewSimulatedKernel()
	k.SetClock(123)
	v, err := k.GetClock()
	require.NoError(t, err)
	assert.Equal(t, uint64(123), v)
}

func TestSimulatedKernelFutexWaitMismatchReturnsImmediately(t *testing.T) {
	k := NewSimulatedKernel()
	word := uint32(5)
	err := k.FutexWait(&word, 9, -1)
	assert.NoError(t, err)
}

func TestSimulatedKernelFutexWakeUnblocksWaiter(t *testing.T) {
	k := NewSimulatedKernel()
	word := uint32(0)
	done := make(chan struct{})
	go func() {
		_ = k.FutexWait(&word, 0, -1)
		close(done)
	}()

	for k.CallCounts()["FutexWait"] == 0 {
	}
	assert.NoError(t, k.FutexWake(&word))
	<-done
}

func TestSimulatedKernelInjectCancelledOnce(t *testing.T) {
	k := NewSimulatedKernel()
	k.InjectCancelledOnce(1)
	word := uint32(0)
	err := k.FutexWait(&word, 0, -1)
	assert.Error(t, err)
	var ke *KernelError
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, uint32(uapi.HelErrCancelled), ke.RawCode)

	word = 1
	err = k.FutexWait(&word, 0, -1)
	assert.NoError(t, err)
}

func TestSimulatedKernelCloseAndTransferDescriptor(t *testing.T) {
	k := NewSimulatedKernel()
	queue, err := k.CreateQueue(testParams())
	require.NoError(t, err)

	newDescriptor, err := k.TransferDescriptor(queue.Descriptor, 1)
	require.NoError(t, err)
	assert.NotEqual(t, queue.Descriptor, newDescriptor)

	assert.NoError(t, k.CloseDescriptor(uapi.HelThisUniverse, queue.Descriptor))
}
