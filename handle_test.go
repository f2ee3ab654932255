package hel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/managarm/hel/internal/kernel"
)

func TestPseudoHandlesAreImmortal(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	h := ThisUniverse()
	require.NoError(t, h.Close(k))
	assert.Equal(t, ThisUniverse(), h)
}

func TestNullHandleIsNull(t *testing.T) {
	assert.True(t, NullHandle().IsNull())
	assert.False(t, ThisUniverse().IsNull())
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	queue, err := k.CreateQueue(kernel.QueueParameters{NumCqChunks: 1, ChunkSize: 64, RingShift: 1})
	require.NoError(t, err)

	h := HandleFromRawInUniverse(queue.Descriptor, queue.Universe)
	require.NoError(t, h.Close(k))
	assert.True(t, h.IsNull())
	require.NoError(t, h.Close(k))
}

func TestHandleCloneIntoTransfersDescriptor(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	queue, err := k.CreateQueue(kernel.QueueParameters{NumCqChunks: 1, ChunkSize: 64, RingShift: 1})
	require.NoError(t, err)

	h := HandleFromRawInUniverse(queue.Descriptor, queue.Universe)
	cloned, err := h.Clone(k)
	require.NoError(t, err)
	assert.NotEqual(t, h.Descriptor(), cloned.Descriptor())
}
