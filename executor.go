package hel

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/managarm/hel/internal/kernel"
	"github.com/managarm/hel/internal/logging"
)

// cookieEntry is the type-erased half of an operationState[T] that the
// executor's cookie map can hold regardless of T.
type cookieEntry interface {
	complete(el *QueueElement)
}

// complete delivers el to the operation this state belongs to. A nil
// waker here means the operation's most recent poll was made with a
// nil *Waker, so no task will be woken to poll it again; this is
// treated as a dropped future, a normal cancellation rather than a
// protocol violation. Nobody is left to call parse and read the
// element, so this releases its chunk itself rather than handing it to
// a poll that will never come, instead of panicking.
func (s *operationState[T]) complete(el *QueueElement) {
	if s.waker == nil {
		if err := el.Release(s.exec.kernel); err != nil && s.exec.logger != nil {
			s.exec.logger.WithError(err).Debugf("operationState.complete: release on dropped future's element failed")
		}
		return
	}
	s.element = el
	w := s.waker
	s.waker = nil
	w.Wake()
}

// task is one runnable unit in the executor's FIFO run queue. run polls
// whatever future it owns and returns true once that future (and
// anything chained after it) has produced a final value.
type task struct {
	run func() bool
}

// executorInner holds an Executor's mutable state: the run queue and
// the cookie table matching completion contexts back to the operation
// waiting on them. Factored out of Executor so operation.go can depend
// on it without importing the whole Executor surface.
type executorInner struct {
	runQueue []*task
	cookies  map[uint64]cookieEntry
	nextID   uint64
}

func (in *executorInner) registerCookie(e cookieEntry) uint64 {
	in.nextID++
	id := in.nextID
	in.cookies[id] = e
	return id
}

func (in *executorInner) releaseCookie(id uint64) {
	delete(in.cookies, id)
}

// Executor drives one completion queue's worth of asynchronous
// operations to completion. It is single-threaded: every call must
// come from the same goroutine that created it (see EnterExecutor),
// mirroring the ported source's thread-pinned, non-Send executor.
type Executor struct {
	kernel kernel.Kernel
	queue  *Queue
	inner  *executorInner
	logger *logging.Logger
}

// NewExecutor creates a queue of the given geometry and an Executor
// bound to it.
func NewExecutor(k kernel.Kernel, ringShift, numChunks, chunkSize int, logger *logging.Logger) (*Executor, error) {
	q, err := NewQueue(k, ringShift, numChunks, chunkSize, logger)
	if err != nil {
		return nil, WrapError("NewExecutor", err)
	}
	return &Executor{
		kernel: k,
		queue:  q,
		inner:  &executorInner{cookies: make(map[uint64]cookieEntry)},
		logger: logger,
	}, nil
}

// QueueHandle returns the handle of the completion queue this executor
// drives, the destination async submissions must target.
func (e *Executor) QueueHandle() Handle {
	return e.queue.Handle()
}

// Kernel returns the kernel interface this executor drives its queue
// against, for protocol packages that need to read the clock or issue
// a kernel call alongside (rather than through) an async operation.
func (e *Executor) Kernel() kernel.Kernel {
	return e.kernel
}

func spawnInner[T any](e *Executor, fut Future[T], onDone func(T, error)) {
	t := &task{}
	t.run = func() bool {
		w := &Waker{wake: func() {
			e.inner.runQueue = append(e.inner.runQueue, t)
		}}
		res := fut.Poll(w)
		if !res.Ready {
			return false
		}
		if onDone != nil {
			onDone(res.Value, res.Err)
		}
		return true
	}
	e.inner.runQueue = append(e.inner.runQueue, t)
}

// Spawn schedules fut to run to completion without waiting for its
// result, the fire-and-forget counterpart to BlockOn.
func Spawn[T any](e *Executor, fut Future[T]) {
	spawnInner(e, fut, nil)
}

// RunOnce pops tasks off the front of the run queue and polls each in
// turn, returning true as soon as one of them completes. It does not
// drain the rest of the queue afterward: a task that's still pending
// stays off the queue until its waker re-enqueues it. Returns false
// once the queue empties without any task completing.
func (e *Executor) RunOnce() bool {
	for len(e.inner.runQueue) > 0 {
		t := e.inner.runQueue[0]
		e.inner.runQueue = e.inner.runQueue[1:]
		if t.run() {
			return true
		}
	}
	return false
}

// Wait blocks for the next completion on this executor's queue and
// delivers it to the operation that submitted it. A completion
// carrying a cookie nothing registered is a protocol violation: either
// the kernel replayed a stale context or an operation's bookkeeping
// dropped an entry it still owned.
func (e *Executor) Wait() error {
	el, err := e.queue.Wait(e.kernel)
	if err != nil {
		return err
	}
	cookie := el.Context()
	entry, ok := e.inner.cookies[cookie]
	if !ok {
		panic(&FatalError{Msg: fmt.Sprintf("completion for unregistered cookie %d", cookie)})
	}
	delete(e.inner.cookies, cookie)
	entry.complete(el)
	return nil
}

// BlockOn drives the executor's run queue and completion queue until
// fut resolves, running any other tasks spawned onto the same executor
// along the way.
func BlockOn[T any](e *Executor, fut Future[T]) (T, error) {
	var result T
	var resultErr error
	done := false
	spawnInner(e, fut, func(v T, err error) {
		result = v
		resultErr = err
		done = true
	})
	for !done {
		if !e.RunOnce() {
			if err := e.Wait(); err != nil {
				var zero T
				return zero, err
			}
		}
	}
	return result, resultErr
}

// executorRegistry maps pinned goroutines to the Executor installed on
// them. Go has no thread-local storage, so this stands in for the
// ported source's thread_local! executor cell: EnterExecutor records
// the calling goroutine's identity (extracted from its own stack
// trace, the same trick the wider ecosystem uses in the absence of a
// language-level facility) and CurrentExecutor looks it back up.
// Callers are expected to have called runtime.LockOSThread() first, so
// the goroutine this identity names never migrates mid-session.
var executorRegistry sync.Map // map[uint64]*Executor

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		panic(&FatalError{Msg: "goroutineID: could not parse runtime.Stack output"})
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		panic(&FatalError{Msg: "goroutineID: could not parse runtime.Stack output"})
	}
	return id
}

// ExecutorGuard restores a goroutine's previously pinned Executor (or
// the absence of one) when the scope that called EnterExecutor is
// done, the same stack discipline as the ported source's
// ExecutorGuard: entering nests, it doesn't clobber.
type ExecutorGuard struct {
	gid      uint64
	had      bool
	previous *Executor
}

// Close restores whatever Executor (if any) was pinned to this
// goroutine before the matching EnterExecutor call, undoing the nesting
// rather than clearing the slot outright.
func (g ExecutorGuard) Close() {
	if g.had {
		executorRegistry.Store(g.gid, g.previous)
	} else {
		executorRegistry.Delete(g.gid)
	}
}

// EnterExecutor pins e to the calling goroutine, which must first call
// runtime.LockOSThread so it is never rescheduled onto another thread
// mid-session. It returns a guard that restores whatever was pinned
// before this call (nesting EnterExecutor calls is safe); call Close
// on it when the executor's session ends.
func EnterExecutor(e *Executor) ExecutorGuard {
	gid := goroutineID()
	previous, had := executorRegistry.Load(gid)
	executorRegistry.Store(gid, e)
	if !had {
		return ExecutorGuard{gid: gid}
	}
	return ExecutorGuard{gid: gid, had: true, previous: previous.(*Executor)}
}

// CurrentExecutor returns the Executor pinned to the calling goroutine
// by EnterExecutor. It panics if none is installed: unlike a missing
// value in a map, a goroutine asking for "its" executor without ever
// entering one is always a programming error.
func CurrentExecutor() *Executor {
	v, ok := executorRegistry.Load(goroutineID())
	if !ok {
		panic(&FatalError{Msg: "CurrentExecutor: no executor entered on this goroutine"})
	}
	return v.(*Executor)
}
