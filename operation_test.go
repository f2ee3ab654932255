package hel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/managarm/hel/internal/kernel"
	"github.com/managarm/hel/internal/uapi"
)

func TestSubmitAsyncResolvesViaBlockOn(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	e, err := NewExecutor(k, 4, 4, 256, nil)
	require.NoError(t, err)

	result, err := BlockOn(e, SubmitAsync(e, HandleFromRaw(1), SendBuffer{Data: []byte("ping")}))
	require.NoError(t, err)
	simple, ok := result.(uapi.SimpleResult)
	require.True(t, ok)
	assert.Equal(t, uint32(uapi.HelErrNone), simple.Error)
}

func TestSubmitAsyncPropagatesSubmitError(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	e, err := NewExecutor(k, 4, 4, 256, nil)
	require.NoError(t, err)
	k.SetActionResponder(func(lane kernel.Handle, actions []kernel.ActionDescriptor) ([]byte, error) {
		return nil, &kernel.KernelError{Op: "SubmitAsync", RawCode: uapi.HelErrFault}
	})

	_, err = BlockOn(e, SubmitAsync(e, HandleFromRaw(1), SendBuffer{Data: []byte("ping")}))
	assert.True(t, IsCode(err, ErrCodeFault))
}

func TestSleepUntilResolvesOnClockCompletion(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	e, err := NewExecutor(k, 4, 4, 256, nil)
	require.NoError(t, err)

	// The simulated kernel only resolves a clock wait synchronously, once
	// the target has already passed, so the deadline must be now-or-earlier
	// for this to resolve without a second, external clock-advancing actor.
	now, err := Now(k)
	require.NoError(t, err)

	_, err = BlockOn(e, SleepUntil(e, now))
	require.NoError(t, err)
	assert.Equal(t, 1, k.CallCounts()["SubmitAwaitClock"])
}

func TestSleepForReadsClockAtPollTimeNotConstructionTime(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	e, err := NewExecutor(k, 4, 4, 256, nil)
	require.NoError(t, err)

	fut := SleepFor(e, time.Millisecond)
	assert.Equal(t, 0, k.CallCounts()["GetClock"], "SleepFor must not read the clock until polled")

	result := fut.Poll(nil)
	assert.False(t, result.Ready)
	assert.Equal(t, 1, k.CallCounts()["GetClock"], "the first poll must read the clock exactly once")
}

func TestWakerWakeIsSafeOnNilWaker(t *testing.T) {
	var w *Waker
	assert.NotPanics(t, func() { w.Wake() })
}
