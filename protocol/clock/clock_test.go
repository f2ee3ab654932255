package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/managarm/hel"
	"github.com/managarm/hel/internal/kernel"
)

func TestWithTimeoutReturnsInnerResultWhenItWinsFirst(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	e, err := hel.NewExecutor(k, 4, 4, 256, nil)
	require.NoError(t, err)

	inner := hel.SubmitAsync(e, hel.HandleFromRaw(1), hel.SendBuffer{Data: []byte("ping")})
	result, err := hel.BlockOn(e, WithTimeout(e, time.Hour, inner))
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestWithTimeoutReturnsErrTimeoutWhenDeadlineWinsFirst(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	e, err := hel.NewExecutor(k, 4, 4, 256, nil)
	require.NoError(t, err)

	neverResolves := hel.FutureFunc[any](func(w *hel.Waker) hel.PollResult[any] {
		return hel.PollResult[any]{Ready: false}
	})

	_, err = hel.BlockOn(e, WithTimeout(e, 0, neverResolves))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNowReadsExecutorKernelClock(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	k.SetClock(42)
	e, err := hel.NewExecutor(k, 4, 4, 256, nil)
	require.NoError(t, err)

	now, err := Now(e)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), now.Value())
}
