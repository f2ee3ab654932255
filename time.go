package hel

import (
	"fmt"
	"time"

	"github.com/managarm/hel/internal/kernel"
)

// Time is a value of the system-wide clock, in nanoseconds since boot
// (§4.8).
type Time uint64

// Now returns the current value of the kernel clock.
func Now(k kernel.Kernel) (Time, error) {
	clock, err := k.GetClock()
	if err != nil {
		return 0, WrapError("Time.Now", err)
	}
	return Time(clock), nil
}

// Value returns the raw nanosecond count.
func (t Time) Value() uint64 {
	return uint64(t)
}

// Add returns t advanced by d. Overflow is a programming error, not a
// recoverable condition — §9's design intent calls wraparound on a
// clock value protocol-corrupting, so this panics with a *FatalError
// rather than wrapping silently.
func (t Time) Add(d time.Duration) Time {
	delta := uint64(d.Nanoseconds())
	sum := uint64(t) + delta
	if sum < uint64(t) {
		panic(&FatalError{Msg: fmt.Sprintf("Time.Add overflow: %d + %d", t, delta)})
	}
	return Time(sum)
}

// Sub returns t moved back by d, panicking on underflow for the same
// reason Add panics on overflow.
func (t Time) Sub(d time.Duration) Time {
	delta := uint64(d.Nanoseconds())
	if delta > uint64(t) {
		panic(&FatalError{Msg: fmt.Sprintf("Time.Sub underflow: %d - %d", t, delta)})
	}
	return Time(uint64(t) - delta)
}

// Before reports whether t is strictly earlier than u.
func (t Time) Before(u Time) bool {
	return t < u
}

// After reports whether t is strictly later than u.
func (t Time) After(u Time) bool {
	return t > u
}
