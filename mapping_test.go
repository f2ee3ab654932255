package hel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/managarm/hel/internal/kernel"
)

func TestNewMappingZeroMemory(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	m, err := NewMapping[uint64](k, ZeroMemory(), ThisUniverse(), 0, 0, 8, MapProtRead|MapProtWrite)
	require.NoError(t, err)
	require.NotNil(t, m.As())

	*m.As() = 0xdeadbeef
	assert.EqualValues(t, 0xdeadbeef, *m.As())
	assert.EqualValues(t, 8, m.Len())
}

func TestMappingUnmapIsIdempotent(t *testing.T) {
	k := kernel.NewSimulatedKernel()
	m, err := NewMapping[uint64](k, ZeroMemory(), ThisUniverse(), 0, 0, 8, MapProtRead|MapProtWrite)
	require.NoError(t, err)

	require.NoError(t, m.Unmap(k))
	assert.Nil(t, m.As())
	require.NoError(t, m.Unmap(k))
}
