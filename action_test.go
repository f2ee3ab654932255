package hel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/managarm/hel/internal/uapi"
)

func TestSendBufferWriteActions(t *testing.T) {
	a := SendBuffer{Data: []byte("hello")}
	out := make([]ActionDescriptor, a.ActionCount())
	a.WriteActions(false, out)
	assert.Equal(t, int32(uapi.HelActionSendFromBuffer), out[0].Type)
	assert.EqualValues(t, 5, out[0].Length)
	assert.Zero(t, out[0].Flags&uapi.HelItemChain)
}

func TestActionsChainsFlags(t *testing.T) {
	a := Actions(SendBuffer{Data: []byte("x")}, ReceiveInline{})
	assert.Equal(t, 2, a.ActionCount())

	out := make([]ActionDescriptor, ActionSlotCount(a))
	a.WriteActions(false, out)
	assert.NotZero(t, out[0].Flags&uapi.HelItemChain)
	assert.Zero(t, out[1].Flags&uapi.HelItemChain)
}

func TestOfferWriteActionsSetsAncillaryAndWantLane(t *testing.T) {
	o := Offer{WantLane: true, Action: ReceiveInline{}}
	out := make([]ActionDescriptor, o.ActionCount())
	o.WriteActions(false, out)
	assert.NotZero(t, out[0].Flags&uapi.HelItemWantLane)
	assert.NotZero(t, out[0].Flags&uapi.HelItemAncillary)
	assert.Equal(t, int32(uapi.HelActionRecvInline), out[1].Type)
}

func TestParseSimpleResultSuccess(t *testing.T) {
	raw := uapi.EncodeSimpleResult(uapi.SimpleResult{Error: uapi.HelErrNone})
	header := uapi.EncodeElementHeader(uapi.ElementHeader{Length: uint32(len(raw)), Context: 9})
	buf := append(header, raw...)

	q := &Queue{}
	q.refCounts = []int{1}
	el := newQueueElement(q, buf[len(header):], 9, 0)

	result, err := parseSimpleResult(el)
	require.NoError(t, err)
	assert.Equal(t, uint32(uapi.HelErrNone), result.Error)
}

func TestParseSimpleResultPropagatesError(t *testing.T) {
	q := &Queue{}
	q.refCounts = []int{1}
	raw := uapi.EncodeSimpleResult(uapi.SimpleResult{Error: uapi.HelErrFault})
	el := newQueueElement(q, raw, 0, 0)

	_, err := parseSimpleResult(el)
	assert.True(t, IsCode(err, ErrCodeFault))
}

func TestParseInlineResultReadsPayload(t *testing.T) {
	q := &Queue{}
	q.refCounts = []int{1}
	payload := []byte("hi")
	raw := uapi.EncodeInlineResult(uapi.InlineResult{Error: uapi.HelErrNone, Length: uint32(len(payload))}, payload)
	el := newQueueElement(q, raw, 0, 0)

	result, err := parseInlineResult(el)
	require.NoError(t, err)
	assert.Equal(t, "hi", result.String())
}
