package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/managarm/hel/internal/logging"
	"github.com/managarm/hel/internal/uapi"
)

// ActionResponder synthesizes the raw result-record bytes a submitted
// action chain would produce, given the lane it targeted and the
// actions submitted against it. It does not include the ElementHeader
// — SimulatedKernel adds that.
type ActionResponder func(lane Handle, actions []ActionDescriptor) ([]byte, error)

func defaultResponder(lane Handle, actions []ActionDescriptor) ([]byte, error) {
	return uapi.EncodeSimpleResult(uapi.SimpleResult{Error: uapi.HelErrNone}), nil
}

type simObject struct {
	kind   string // "queue" or "memory"
	buffer []byte

	ringShift        int
	numChunks        int
	chunksOffset     int
	reservedPerChunk int
}

// SimulatedKernel is an in-memory stand-in for a real Hel kernel,
// grounded on the teacher's MockBackend pattern: it implements the
// entire Kernel interface, tracks call counts, and lets tests inject
// Cancelled/fault behavior on demand (§8's "simulated kernel"
// scenarios).
type SimulatedKernel struct {
	mu             sync.Mutex
	logger         *logging.Logger
	nextDescriptor int64
	objects        map[int64]*simObject
	clock          uint64
	responder      ActionResponder
	callCounts     map[string]int

	cancelFutexWaitCount int // remaining FutexWait calls that should return Cancelled

	futexMu sync.Mutex
	futexes map[uintptr]*sync.Cond
}

// NewSimulatedKernel creates an empty simulated kernel.
func NewSimulatedKernel() *SimulatedKernel {
	return &SimulatedKernel{
		objects:    make(map[int64]*simObject),
		responder:  defaultResponder,
		callCounts: make(map[string]int),
		futexes:    make(map[uintptr]*sync.Cond),
	}
}

// SetLogger attaches a logger used for debug tracing of simulated
// kernel operations.
func (k *SimulatedKernel) SetLogger(l *logging.Logger) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.logger = l
}

// SetActionResponder overrides how SubmitAsync synthesizes a
// completion's result bytes. Tests exercising a particular result
// shape (LengthResult, HandleResult, ...) install a responder that
// returns the matching encoding.
func (k *SimulatedKernel) SetActionResponder(r ActionResponder) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if r == nil {
		r = defaultResponder
	}
	k.responder = r
}

// SetClock sets the simulated kernel clock, in nanoseconds.
func (k *SimulatedKernel) SetClock(nanos uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.clock = nanos
}

// InjectCancelledOnce makes the next n FutexWait calls fail with
// ErrCodeCancelled instead of blocking, exercising the queue's
// transparent-retry path (§4.4.5).
func (k *SimulatedKernel) InjectCancelledOnce(n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelFutexWaitCount = n
}

// CallCounts returns a copy of the per-method call counters.
func (k *SimulatedKernel) CallCounts() map[string]int {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]int, len(k.callCounts))
	for name, n := range k.callCounts {
		out[name] = n
	}
	return out
}

func (k *SimulatedKernel) count(name string) {
	k.callCounts[name]++
}

func (k *SimulatedKernel) logf(format string, args ...any) {
	if k.logger != nil {
		k.logger.Debugf(format, args...)
	}
}

// CreateQueue allocates a backing buffer sized per params' geometry.
func (k *SimulatedKernel) CreateQueue(params QueueParameters) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count("CreateQueue")

	ringShift := int(params.RingShift)
	numChunks := int(params.NumCqChunks)
	chunkSize := int(params.ChunkSize)
	chunksOffset, reservedPerChunk, totalSize := uapi.Geometry(ringShift, numChunks, chunkSize)

	k.nextDescriptor++
	descriptor := k.nextDescriptor
	k.objects[descriptor] = &simObject{
		kind:             "queue",
		buffer:           make([]byte, uapi.RoundUpPage(totalSize, 4096)),
		ringShift:        ringShift,
		numChunks:        numChunks,
		chunksOffset:     chunksOffset,
		reservedPerChunk: reservedPerChunk,
	}
	k.logf("created simulated queue descriptor=%d ringShift=%d numChunks=%d chunkSize=%d", descriptor, ringShift, numChunks, chunkSize)
	return Handle{Descriptor: descriptor, Universe: uapi.HelThisUniverse}, nil
}

// DriveQueue is this port's own submission-path kick (no literal
// counterpart in the ported source). In the simulated
// kernel every SubmitAsync call delivers its completion synchronously,
// so DriveQueue only needs to honor the optional futex wait.
func (k *SimulatedKernel) DriveQueue(queue Handle, flags DriveFlags, waitWord *uint32, waitValue uint32) error {
	k.mu.Lock()
	k.count("DriveQueue")
	k.mu.Unlock()
	if flags&DriveWait != 0 && waitWord != nil {
		return k.FutexWait(waitWord, waitValue, -1)
	}
	return nil
}

// SubmitAsync synthesizes a completion via the installed
// ActionResponder and writes it into the target queue's currently
// supplied chunk, following the same progress-futex protocol the
// queue's consumer side expects (§4.4.3): the low 30 bits of a chunk's
// progress futex are always "bytes written so far", so resuming a
// partially-filled chunk is just reading that value back.
func (k *SimulatedKernel) SubmitAsync(lane Handle, actions []ActionDescriptor, queue Handle, context uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count("SubmitAsync")

	resultBytes, err := k.responder(lane, actions)
	if err != nil {
		return err
	}
	return k.deliverLocked(queue, context, resultBytes)
}

// Deliver is a lower-level test hook that writes a completion with an
// explicit result payload, bypassing the action responder. Useful for
// scenario tests that need exact control of the bytes a QueueElement
// will parse.
func (k *SimulatedKernel) Deliver(queue Handle, context uint64, resultBytes []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.deliverLocked(queue, context, resultBytes)
}

func (k *SimulatedKernel) deliverLocked(queue Handle, context uint64, resultBytes []byte) error {
	obj, ok := k.objects[queue.Descriptor]
	if !ok || obj.kind != "queue" {
		return fmt.Errorf("kernel: SubmitAsync: %d is not a queue", queue.Descriptor)
	}

	ringMask := (1 << obj.ringShift) - 1
	headFutexPtr := (*uint32)(unsafe.Pointer(&obj.buffer[0]))
	head := *headFutexPtr & uint32(uapi.HelHeadMask)
	if head == 0 {
		return fmt.Errorf("kernel: SubmitAsync: no chunk supplied to queue %d yet", queue.Descriptor)
	}
	ringPos := int(head-1) & ringMask

	indexArrayOffset := int(unsafe.Sizeof(uapi.QueueHeader{}))
	indexPtr := (*int32)(unsafe.Pointer(&obj.buffer[indexArrayOffset+ringPos*4]))
	chunkNum := int(*indexPtr)
	if chunkNum < 0 || chunkNum >= obj.numChunks {
		return fmt.Errorf("kernel: SubmitAsync: corrupt index entry %d for queue %d", chunkNum, queue.Descriptor)
	}

	chunkBase := obj.chunksOffset + chunkNum*obj.reservedPerChunk
	chunkHeaderSize := int(unsafe.Sizeof(uapi.ChunkHeader{}))
	progressFutexPtr := (*uint32)(unsafe.Pointer(&obj.buffer[chunkBase+4]))

	progress := *progressFutexPtr & uapi.HelProgressMask
	hadWaiters := *progressFutexPtr&uapi.HelProgressWaiters != 0

	header := uapi.EncodeElementHeader(uapi.ElementHeader{
		Length:  uint32(len(resultBytes)),
		Opcode:  0,
		Context: context,
	})
	record := append(header, resultBytes...)

	payloadOffset := chunkBase + chunkHeaderSize + int(progress)
	if payloadOffset+len(record) > chunkBase+obj.reservedPerChunk {
		return fmt.Errorf("kernel: SubmitAsync: chunk %d too small for completion", chunkNum)
	}
	copy(obj.buffer[payloadOffset:], record)

	newProgress := progress + uint32(len(record))
	*progressFutexPtr = newProgress & uapi.HelProgressMask

	k.logf("delivered completion queue=%d chunk=%d context=%d bytes=%d", queue.Descriptor, chunkNum, context, len(record))

	if hadWaiters {
		k.futexWakeLocked(progressFutexPtr)
	}
	return nil
}

// MarkChunkDone sets the Done bit on the queue's currently active
// chunk, exercising the consumer's "chunk exhausted" path.
func (k *SimulatedKernel) MarkChunkDone(queue Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	obj, ok := k.objects[queue.Descriptor]
	if !ok || obj.kind != "queue" {
		return fmt.Errorf("kernel: MarkChunkDone: %d is not a queue", queue.Descriptor)
	}
	ringMask := (1 << obj.ringShift) - 1
	headFutexPtr := (*uint32)(unsafe.Pointer(&obj.buffer[0]))
	head := *headFutexPtr & uint32(uapi.HelHeadMask)
	if head == 0 {
		return fmt.Errorf("kernel: MarkChunkDone: no chunk supplied to queue %d yet", queue.Descriptor)
	}
	ringPos := int(head-1) & ringMask
	indexArrayOffset := int(unsafe.Sizeof(uapi.QueueHeader{}))
	indexPtr := (*int32)(unsafe.Pointer(&obj.buffer[indexArrayOffset+ringPos*4]))
	chunkNum := int(*indexPtr)
	chunkBase := obj.chunksOffset + chunkNum*obj.reservedPerChunk
	progressFutexPtr := (*uint32)(unsafe.Pointer(&obj.buffer[chunkBase+4]))

	hadWaiters := *progressFutexPtr&uapi.HelProgressWaiters != 0
	*progressFutexPtr |= uapi.HelProgressDone

	if hadWaiters {
		k.futexWakeLocked(progressFutexPtr)
	}
	return nil
}

// MapMemory returns the address of the backing buffer for obj,
// ignoring addr/space (the simulated kernel has a single address
// space). A ZeroMemory object allocates a fresh zeroed buffer of
// length bytes on first use.
func (k *SimulatedKernel) MapMemory(obj, space Handle, addr uintptr, offset, length uintptr, flags MappingFlags) (uintptr, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count("MapMemory")

	if obj.Descriptor == uapi.HelZeroMemory {
		buf := make([]byte, length)
		k.nextDescriptor++
		descriptor := k.nextDescriptor
		k.objects[descriptor] = &simObject{kind: "memory", buffer: buf}
		return uintptr(unsafe.Pointer(&buf[0])), nil
	}

	o, ok := k.objects[obj.Descriptor]
	if !ok {
		return 0, fmt.Errorf("kernel: MapMemory: unknown object %d", obj.Descriptor)
	}
	end := int(offset) + int(length)
	if end > len(o.buffer) {
		return 0, fmt.Errorf("kernel: MapMemory: mapping %d bytes at offset %d exceeds object size %d", length, offset, len(o.buffer))
	}
	return uintptr(unsafe.Pointer(&o.buffer[offset])), nil
}

// UnmapMemory is a no-op bookkeeping call in the simulated kernel: the
// backing Go slice is reclaimed by the garbage collector once nothing
// references it, there is no real address space to punch a hole in.
func (k *SimulatedKernel) UnmapMemory(space Handle, addr uintptr, length uintptr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count("UnmapMemory")
	return nil
}

// CloseDescriptor removes a descriptor from the simulated object
// table.
func (k *SimulatedKernel) CloseDescriptor(universe, descriptor int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count("CloseDescriptor")
	delete(k.objects, descriptor)
	return nil
}

// TransferDescriptor duplicates a descriptor's object reference under
// a new descriptor number, standing in for a real cross-universe
// transfer.
func (k *SimulatedKernel) TransferDescriptor(descriptor, targetUniverse int64) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count("TransferDescriptor")

	obj, ok := k.objects[descriptor]
	if !ok {
		return 0, fmt.Errorf("kernel: TransferDescriptor: unknown descriptor %d", descriptor)
	}
	k.nextDescriptor++
	newDescriptor := k.nextDescriptor
	k.objects[newDescriptor] = obj
	return newDescriptor, nil
}

// GetClock returns the simulated clock value.
func (k *SimulatedKernel) GetClock() (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count("GetClock")
	return k.clock, nil
}

// SubmitAwaitClock delivers a completion to queue as soon as the
// simulated clock has already passed nanos, otherwise it returns
// immediately without scheduling anything — tests drive clock-based
// completions explicitly via SetClock followed by Deliver, since a
// simulated clock has no background ticker.
func (k *SimulatedKernel) SubmitAwaitClock(nanos uint64, queue Handle, context uint64) error {
	k.mu.Lock()
	clockNow := k.clock
	k.count("SubmitAwaitClock")
	k.mu.Unlock()

	if clockNow < nanos {
		return nil
	}
	return k.Deliver(queue, context, uapi.EncodeSimpleResult(uapi.SimpleResult{Error: uapi.HelErrNone}))
}

// FutexWait blocks while *word == expected, honoring fault injection
// from InjectCancelledOnce.
func (k *SimulatedKernel) FutexWait(word *uint32, expected uint32, timeoutNanos int64) error {
	k.mu.Lock()
	k.count("FutexWait")
	if k.cancelFutexWaitCount > 0 {
		k.cancelFutexWaitCount--
		k.mu.Unlock()
		return &KernelError{Op: "futexWait", RawCode: uapi.HelErrCancelled}
	}
	k.mu.Unlock()

	addr := uintptr(unsafe.Pointer(word))
	k.futexMu.Lock()
	cond, ok := k.futexes[addr]
	if !ok {
		cond = sync.NewCond(&k.futexMu)
		k.futexes[addr] = cond
	}
	if atomic.LoadUint32(word) != expected {
		k.futexMu.Unlock()
		return nil
	}
	if timeoutNanos < 0 {
		cond.Wait()
		k.futexMu.Unlock()
		return nil
	}

	timer := time.AfterFunc(time.Duration(timeoutNanos), func() {
		k.futexMu.Lock()
		cond.Broadcast()
		k.futexMu.Unlock()
	})
	cond.Wait()
	timer.Stop()
	k.futexMu.Unlock()
	return nil
}

// FutexWake wakes any waiters blocked on word.
func (k *SimulatedKernel) FutexWake(word *uint32) error {
	k.mu.Lock()
	k.count("FutexWake")
	k.mu.Unlock()

	k.futexMu.Lock()
	k.futexWakeLocked(word)
	k.futexMu.Unlock()
	return nil
}

func (k *SimulatedKernel) futexWakeLocked(word *uint32) {
	addr := uintptr(unsafe.Pointer(word))
	if cond, ok := k.futexes[addr]; ok {
		cond.Broadcast()
	}
}

var _ Kernel = (*SimulatedKernel)(nil)
