// Package clock re-exports hel's Time type and adds the clock helpers
// the protocol packages share: reading the kernel clock through an
// executor, and running a future against a timeout. Nothing here issues
// a kernel call of its own; it's a thin composition over
// hel.Now/hel.SleepFor.
package clock

import (
	"time"

	"github.com/managarm/hel"
)

// Time is hel's kernel-clock value, nanoseconds since boot.
type Time = hel.Time

// Now reads the current kernel clock through e's kernel.
func Now(e *hel.Executor) (Time, error) {
	return hel.Now(e.Kernel())
}

// WithTimeout races fut against a deadline d out from now, returning
// the wrapped future's value if it wins, or ErrTimeout if the deadline
// elapses first. Both branches are polled on every drive so neither one
// starves the other.
func WithTimeout[T any](e *hel.Executor, d time.Duration, fut hel.Future[T]) hel.Future[T] {
	deadline := hel.SleepFor(e, d)
	return hel.FutureFunc[T](func(w *hel.Waker) hel.PollResult[T] {
		if res := fut.Poll(w); res.Ready {
			return res
		}
		if res := deadline.Poll(w); res.Ready {
			var zero T
			if res.Err != nil {
				return hel.PollResult[T]{Ready: true, Err: res.Err}
			}
			return hel.PollResult[T]{Ready: true, Value: zero, Err: ErrTimeout}
		}
		return hel.PollResult[T]{Ready: false}
	})
}

// ErrTimeout is returned by WithTimeout when the deadline elapses
// before the wrapped future resolves.
var ErrTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "clock: deadline exceeded" }
