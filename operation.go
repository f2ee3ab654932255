package hel

import "time"

// PollResult is the outcome of polling a Future: either ready with a
// value (or error), or still pending.
type PollResult[T any] struct {
	Ready bool
	Value T
	Err   error
}

// Future is hel's stand-in for Rust's poll-based std::future::Future:
// Go has no async/await, so callers drive a Future by polling it from
// inside the Executor's run loop until it reports Ready.
type Future[T any] interface {
	Poll(w *Waker) PollResult[T]
}

// FutureFunc adapts a plain poll function into a Future.
type FutureFunc[T any] func(w *Waker) PollResult[T]

func (f FutureFunc[T]) Poll(w *Waker) PollResult[T] { return f(w) }

// Waker lets the completion side of an operation re-schedule the task
// that's waiting on it.
type Waker struct {
	wake func()
}

// Wake re-schedules the task that installed this waker. Safe to call
// on a nil Waker.
func (w *Waker) Wake() {
	if w != nil && w.wake != nil {
		w.wake()
	}
}

// operationState tracks one in-flight asynchronous operation: whether
// it has been submitted yet, the waker to invoke once it completes,
// and the completion element once it arrives. It is the Go-native
// replacement for the ported source's Rc<OperationState> leaked across
// the kernel boundary as a raw pointer: here the "leak" is an entry in
// the owning executor's cookie map, and "reclaiming" it is deleting
// that entry, so the GC never has to track a pointer the kernel also
// holds.
type operationState[T any] struct {
	exec      *Executor
	submitted bool
	waker     *Waker
	element   *QueueElement
	parse     func(*QueueElement) (T, error)
}

// newAsyncOperation returns a Future that submits once (via submit) on
// first poll, then waits for the matching completion to be delivered
// through the executor's cookie map. submit must place at most one
// element onto the queue if it returns nil, and none if it returns an
// error.
func newAsyncOperation[T any](e *Executor, submit func(h Handle, cookie uint64) error, parse func(*QueueElement) (T, error)) Future[T] {
	state := &operationState[T]{exec: e, parse: parse}
	var cookie uint64
	var submitErr error

	return FutureFunc[T](func(w *Waker) PollResult[T] {
		if state.element != nil {
			element := state.element
			state.element = nil
			value, err := parse(element)
			if relErr := element.Release(e.kernel); relErr != nil && err == nil {
				err = relErr
			}
			return PollResult[T]{Ready: true, Value: value, Err: err}
		}
		if submitErr != nil {
			return PollResult[T]{Ready: true, Err: submitErr}
		}

		if !state.submitted {
			cookie = e.inner.registerCookie(state)
			if err := submit(e.QueueHandle(), cookie); err != nil {
				e.inner.releaseCookie(cookie)
				submitErr = WrapError("newAsyncOperation", err)
				return PollResult[T]{Ready: true, Err: submitErr}
			}
			state.submitted = true
		}

		state.waker = w
		return PollResult[T]{Ready: false}
	})
}

// SleepUntil returns a Future that completes once the kernel clock
// reaches t.
func SleepUntil(e *Executor, t Time) Future[struct{}] {
	return newAsyncOperation(e, func(h Handle, cookie uint64) error {
		return e.kernel.SubmitAwaitClock(t.Value(), h.toKernel(), cookie)
	}, func(el *QueueElement) (struct{}, error) {
		_, err := parseSimpleResult(el)
		return struct{}{}, err
	})
}

// SleepFor returns a Future that completes after d has elapsed,
// computed against the kernel clock at the moment it's first polled.
// The deadline is resolved and the underlying SleepUntil operation
// built once, on that first poll, and reused for every poll after: an
// operation that isn't ready never becomes ready within a single call,
// so rebuilding it on every poll would restart the submission forever
// instead of ever observing its completion.
func SleepFor(e *Executor, d time.Duration) Future[struct{}] {
	var inner Future[struct{}]
	return FutureFunc[struct{}](func(w *Waker) PollResult[struct{}] {
		if inner == nil {
			now, err := Now(e.kernel)
			if err != nil {
				return PollResult[struct{}]{Ready: true, Err: err}
			}
			inner = SleepUntil(e, now.Add(d))
		}
		return inner.Poll(w)
	})
}

// SubmitAsync submits an Action chain against lane and returns a
// Future resolving to its boxed result once the kernel completes it.
// Callers downcast the result to the shape their Action.ParseResult
// produces (a single value for a leaf action, a slice/array for a
// composed chain).
func SubmitAsync(e *Executor, lane Handle, action Action) Future[any] {
	return newAsyncOperation(e, func(h Handle, cookie uint64) error {
		count := ActionSlotCount(action)
		descriptors := make([]ActionDescriptor, count)
		action.WriteActions(false, descriptors)
		if e.logger != nil {
			e.logger.WithLane(lane.Descriptor()).Debugf("SubmitAsync: submitting %d action slot(s), cookie %d", count, cookie)
		}
		return e.kernel.SubmitAsync(lane.toKernel(), descriptors, h.toKernel(), cookie)
	}, func(el *QueueElement) (any, error) {
		return action.ParseResult(el)
	})
}
