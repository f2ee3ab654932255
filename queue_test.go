package hel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/managarm/hel/internal/kernel"
)

func waitForCall(t *testing.T, k *kernel.SimulatedKernel, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if k.CallCounts()[name] > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a call to %s", name)
}

func TestQueueWaitReceivesCompletion(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	q, err := NewQueue(k, 4, 4, 256, nil)
	require.NoError(t, err)

	elements := make(chan *QueueElement, 1)
	errs := make(chan error, 1)
	go func() {
		el, err := q.Wait(k)
		if err != nil {
			errs <- err
			return
		}
		elements <- el
	}()

	waitForCall(t, k, "FutexWait")
	require.NoError(t, k.SubmitAsync(kernel.Handle{}, nil, q.Handle().toKernel(), 42))

	select {
	case err := <-errs:
		t.Fatalf("Wait failed: %v", err)
	case el := <-elements:
		assert.Equal(t, uint64(42), el.Context())
		require.NoError(t, el.Release(k))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a completion")
	}
}

func TestQueueWaitRetriesOnCancelled(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	k.InjectCancelledOnce(2)
	q, err := NewQueue(k, 4, 4, 256, nil)
	require.NoError(t, err)

	elements := make(chan *QueueElement, 1)
	errs := make(chan error, 1)
	go func() {
		el, err := q.Wait(k)
		if err != nil {
			errs <- err
			return
		}
		elements <- el
	}()

	waitForCall(t, k, "FutexWait")
	require.NoError(t, k.SubmitAsync(kernel.Handle{}, nil, q.Handle().toKernel(), 7))

	select {
	case err := <-errs:
		t.Fatalf("Wait failed: %v", err)
	case el := <-elements:
		assert.Equal(t, uint64(7), el.Context())
		require.NoError(t, el.Release(k))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a completion")
	}
}

func TestQueuePushSQIsUnsupported(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	q, err := NewQueue(k, 4, 4, 256, nil)
	require.NoError(t, err)

	err = q.PushSQ(k, nil)
	assert.True(t, IsCode(err, ErrCodeUnsupportedOperation))
}

func TestQueueElementAdvancePanicsPastEnd(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	q, err := NewQueue(k, 4, 4, 256, nil)
	require.NoError(t, err)
	q.refCounts[0] = 1
	el := newQueueElement(q, []byte{1, 2, 3}, 0, 0)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*FatalError)
		assert.True(t, ok)
		require.NoError(t, el.Release(k))
	}()
	el.Advance(10)
}
