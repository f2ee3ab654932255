package mbus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualsFilterEncodesNonEmpty(t *testing.T) {
	var buf bytes.Buffer
	Equals("class", "block").encode(&buf)
	assert.NotZero(t, buf.Len())
}

func TestConjunctionEncodesOperandCount(t *testing.T) {
	var buf bytes.Buffer
	Conjunction(Equals("a", "1"), Equals("b", "2")).encode(&buf)
	assert.Greater(t, buf.Len(), 1)

	count, err := getUint32(bytes.NewReader(buf.Bytes()[1:]))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), count)
}

func TestDecodeItemRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	original := ArrayItem{StringItem("hello"), StringItem("world")}
	original.encode(&buf)

	r := bytes.NewReader(buf.Bytes())
	decoded, err := decodeItem(r)
	require.NoError(t, err)

	arr, ok := decoded.(ArrayItem)
	require.True(t, ok)
	require.Len(t, arr, 2)
	assert.Equal(t, StringItem("hello"), arr[0])
	assert.Equal(t, StringItem("world"), arr[1])
}

func TestEnumeratorTracksSeenEntities(t *testing.T) {
	en := NewEnumerator(Equals("class", "block"))
	assert.Empty(t, en.seenIDs)
	en.seenIDs[5] = true
	assert.True(t, en.seenIDs[5])
}
