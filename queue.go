package hel

import (
	"sync/atomic"
	"unsafe"

	"github.com/managarm/hel/internal/kernel"
	"github.com/managarm/hel/internal/logging"
	"github.com/managarm/hel/internal/uapi"
)

// Queue is a completion-queue carrier for the ring-indexed Hel ABI
// variant: a circular set of chunks, each holding a run of completion
// records, plus an index array mapping ring positions to chunk
// numbers. Submissions land directly in whichever chunk is currently
// "supplied" to the kernel; Wait drains them in order.
type Queue struct {
	ringShift        int
	numChunks        int
	chunksOffset     int
	reservedPerChunk int

	activeChunks  int
	retrieveIndex int
	nextIndex     int
	lastProgress  int
	hadWaiters    bool
	refCounts     []int

	handle  Handle
	mapping *Mapping[uapi.QueueHeader]
	logger  *logging.Logger
}

// NewQueue creates a Hel queue with the given ring geometry and maps
// its shared buffer into the caller's address space.
func NewQueue(k kernel.Kernel, ringShift, numChunks, chunkSize int, logger *logging.Logger) (*Queue, error) {
	params := uapi.QueueParameters{
		NumCqChunks: uint32(numChunks),
		ChunkSize:   uint32(chunkSize),
		RingShift:   uint32(ringShift),
	}
	rawHandle, err := k.CreateQueue(params)
	if err != nil {
		return nil, WrapError("NewQueue", err)
	}
	handle := HandleFromRawInUniverse(rawHandle.Descriptor, rawHandle.Universe)

	chunksOffset, reservedPerChunk, totalSize := uapi.Geometry(ringShift, numChunks, chunkSize)
	mappedSize := uapi.RoundUpPage(totalSize, uapi.PageSize)

	mapping, err := NewMapping[uapi.QueueHeader](k, handle, ThisUniverse(), 0, 0, uintptr(mappedSize), MapProtRead|MapProtWrite)
	if err != nil {
		return nil, WrapError("NewQueue", err)
	}

	if logger != nil {
		logger = logger.WithQueue(int(handle.Descriptor()))
	}

	q := &Queue{
		ringShift:        ringShift,
		numChunks:        numChunks,
		chunksOffset:     chunksOffset,
		reservedPerChunk: reservedPerChunk,
		refCounts:        make([]int, numChunks),
		handle:           handle,
		mapping:          mapping,
		logger:           logger,
	}

	// Supply the first chunk immediately rather than waiting for the
	// first Wait call to do it lazily: a submission racing ahead of the
	// first Wait (the common case, since submitters rarely block on
	// their own completion queue before issuing work) must already have
	// somewhere for its completion to land.
	if err := q.resetAndEnqueue(k, 0); err != nil {
		return nil, WrapError("NewQueue", err)
	}
	q.activeChunks = 1

	return q, nil
}

// Handle returns the queue's submission-target handle.
func (q *Queue) Handle() Handle {
	return q.handle
}

func (q *Queue) ringMask() int {
	return (1 << q.ringShift) - 1
}

func (q *Queue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Debugf(format, args...)
	}
}

// headFutexPtr points at the HeadFutex word at the start of the shared
// mapping.
func (q *Queue) headFutexPtr() *uint32 {
	return (*uint32)(q.mapping.ptr)
}

func (q *Queue) indexArrayOffset() int {
	return int(unsafe.Sizeof(uapi.QueueHeader{}))
}

func (q *Queue) getIndex(index int) int32 {
	pos := index & q.ringMask()
	ptr := (*int32)(unsafe.Add(q.mapping.ptr, q.indexArrayOffset()+pos*4))
	return *ptr
}

func (q *Queue) setIndex(index int, value int32) {
	pos := index & q.ringMask()
	ptr := (*int32)(unsafe.Add(q.mapping.ptr, q.indexArrayOffset()+pos*4))
	*ptr = value
}

// chunkBase returns the byte offset of chunk chunkNum within the
// mapping. The index is wrapped by the ring mask (matching the ported
// source) rather than by numChunks, so a chunk_num out of the logical
// chunk range would read garbage rather than panic — callers never
// pass one, since every path that produces a chunk_num derives it from
// either retrieveIndex or activeChunks, both of which stay within
// [0, numChunks).
func (q *Queue) chunkBase(chunkNum int) int {
	idx := chunkNum & q.ringMask()
	return q.chunksOffset + idx*q.reservedPerChunk
}

func (q *Queue) progressFutexPtr(chunkNum int) *uint32 {
	return (*uint32)(unsafe.Add(q.mapping.ptr, q.chunkBase(chunkNum)+4))
}

func (q *Queue) chunkBufferPtr(chunkNum int) unsafe.Pointer {
	return unsafe.Add(q.mapping.ptr, q.chunkBase(chunkNum)+int(unsafe.Sizeof(uapi.ChunkHeader{})))
}

// Wait blocks until a completion is available and returns it as a
// QueueElement. Released chunks are recycled automatically; callers
// must call Release on the returned element once they're done reading
// its data.
func (q *Queue) Wait(k kernel.Kernel) (*QueueElement, error) {
	for {
		if q.retrieveIndex == q.nextIndex {
			if err := q.resetAndEnqueue(k, q.activeChunks); err != nil {
				return nil, err
			}
			q.activeChunks++
			continue
		} else if q.hadWaiters && q.activeChunks < (1<<q.ringShift) {
			if err := q.resetAndEnqueue(k, q.activeChunks); err != nil {
				return nil, err
			}
			q.activeChunks++
			q.hadWaiters = false
		}

		done, err := q.waitProgressFutex(k)
		if err != nil {
			return nil, err
		}
		if done {
			if err := q.releaseChunk(k, int(q.getIndex(q.retrieveIndex))); err != nil {
				return nil, err
			}
			q.lastProgress = 0
			q.retrieveIndex = (q.retrieveIndex + 1) & int(uapi.HelHeadMask)
			continue
		}

		// Matches the ported source: the chunk actually being read from
		// is retrieveIndex masked by the ring, not a lookup through the
		// index array. The index array is only consulted once a chunk
		// is fully drained, to learn which chunk number to recycle.
		chunkNum := q.retrieveIndex & q.ringMask()
		base := q.chunkBufferPtr(chunkNum)
		elementPtr := unsafe.Add(base, q.lastProgress)

		header, err := uapi.DecodeElementHeader(unsafe.Slice((*byte)(elementPtr), elementHeaderSize))
		if err != nil {
			return nil, WrapError("Queue.Wait", err)
		}

		q.lastProgress += elementHeaderSize
		q.lastProgress += int(header.Length)

		data := unsafe.Slice((*byte)(unsafe.Add(elementPtr, elementHeaderSize)), header.Length)

		return newQueueElement(q, data, header.Context, chunkNum), nil
	}
}

const elementHeaderSize = int(unsafe.Sizeof(uapi.ElementHeader{}))

func (q *Queue) resetAndEnqueue(k kernel.Kernel, chunkNum int) error {
	idx := chunkNum & q.ringMask()
	atomic.StoreUint32(q.progressFutexPtr(idx), 0)
	q.setIndex(q.nextIndex, int32(chunkNum))
	q.nextIndex = (q.nextIndex + 1) & int(uapi.HelHeadMask)

	if err := q.wakeHeadFutex(k); err != nil {
		return err
	}
	q.refCounts[idx] = 1
	return nil
}

func (q *Queue) retainChunk(chunkNum int) {
	idx := chunkNum & q.ringMask()
	if q.refCounts[idx] <= 0 {
		panic(&FatalError{Msg: "retainChunk on a chunk with zero references"})
	}
	q.refCounts[idx]++
}

func (q *Queue) releaseChunk(k kernel.Kernel, chunkNum int) error {
	idx := chunkNum & q.ringMask()
	if q.refCounts[idx] <= 0 {
		panic(&FatalError{Msg: "releaseChunk on a chunk with zero references"})
	}
	refCount := q.refCounts[idx]
	q.refCounts[idx]--
	if refCount > 1 {
		return nil
	}
	q.logf("releaseChunk: recycling chunk %d", idx)
	return q.resetAndEnqueue(k, idx)
}

func (q *Queue) wakeHeadFutex(k kernel.Kernel) error {
	newFutex := int32(q.nextIndex)
	oldFutex := atomic.SwapUint32(q.headFutexPtr(), uint32(newFutex))

	if int32(oldFutex)&uapi.HelHeadWaiters != 0 {
		if err := k.FutexWake(q.headFutexPtr()); err != nil {
			return WrapError("Queue.wakeHeadFutex", err)
		}
		q.hadWaiters = true
	}
	return nil
}

// waitProgressFutex waits for the chunk currently being retrieved to
// make progress or finish, retrying transparently on Cancelled (a
// spurious futex wakeup, not a real error).
func (q *Queue) waitProgressFutex(k kernel.Kernel) (bool, error) {
	for {
		ptr := q.progressFutexPtr(q.retrieveIndex)
		futex := atomic.LoadUint32(ptr)

		for {
			if uint32(q.lastProgress) != futex&uapi.HelProgressMask {
				return false, nil
			}
			if futex&uapi.HelProgressDone != 0 {
				return true, nil
			}
			if futex&uapi.HelProgressWaiters != 0 {
				break
			}

			newFutex := uint32(q.lastProgress) | uapi.HelProgressWaiters
			if atomic.CompareAndSwapUint32(ptr, futex, newFutex) {
				futex = newFutex
				break
			}
			futex = atomic.LoadUint32(ptr)
		}

		waitValue := uint32(q.lastProgress) | uapi.HelProgressWaiters
		err := k.FutexWait(ptr, waitValue, -1)
		if err != nil {
			if IsCancelled(WrapError("Queue.waitProgressFutex", err)) {
				q.logf("waitProgressFutex: retrying after a spurious wakeup on chunk %d", q.retrieveIndex&q.ringMask())
				continue
			}
			return false, WrapError("Queue.waitProgressFutex", err)
		}
	}
}

// PushSQ would submit work via a persistent linked-list submission
// queue. The ring-indexed ABI variant this module targets has no such
// queue — actions are submitted with a single call per Action chain —
// so this is a stub kept for API symmetry with the completion side.
func (q *Queue) PushSQ(k kernel.Kernel, actions []uapi.ActionDescriptor) error {
	return NewError("Queue.PushSQ", ErrCodeUnsupportedOperation)
}

// QueueElement is one completion retrieved from a Queue. Its data is
// valid only until Release is called.
type QueueElement struct {
	queue    *Queue
	data     []byte
	context  uint64
	chunkNum int
	offset   int
}

func newQueueElement(q *Queue, data []byte, context uint64, chunkNum int) *QueueElement {
	q.retainChunk(chunkNum)
	return &QueueElement{queue: q, data: data, context: context, chunkNum: chunkNum}
}

// Context returns the opaque context value the kernel echoed back,
// identifying which pending operation this completion belongs to.
func (e *QueueElement) Context() uint64 {
	return e.context
}

// Data returns the remaining, unconsumed bytes of this element.
func (e *QueueElement) Data() []byte {
	return e.data[e.offset:]
}

// Advance consumes length bytes of the element's data. It panics if
// length would run past the end of the element, mirroring the
// ported source's assertion.
func (e *QueueElement) Advance(length int) {
	if e.offset+length > len(e.data) {
		panic(&FatalError{Msg: "QueueElement.Advance past end of data"})
	}
	e.offset += length
}

// Release returns the element's chunk to the pool, recycling it once
// every outstanding reference has been released. Callers must call
// this exactly once per element retrieved from Wait.
func (e *QueueElement) Release(k kernel.Kernel) error {
	return e.queue.releaseChunk(k, e.chunkNum)
}
