package hel

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/gopkg/unsafex"

	"github.com/managarm/hel/internal/uapi"
)

const (
	unsafeSizeofSimpleResult = unsafe.Sizeof(uapi.SimpleResult{})
	unsafeSizeofLengthResult = unsafe.Sizeof(uapi.LengthResult{})
	unsafeSizeofHandleResult = unsafe.Sizeof(uapi.HandleResult{})
	unsafeSizeofInlineResult = unsafe.Sizeof(uapi.InlineResult{})
)

// ActionDescriptor is the wire form a submitAsync call sends to the
// kernel, one per sub-operation in an Action chain.
type ActionDescriptor = uapi.ActionDescriptor

// Action is one step (or a composed chain of steps) of an asynchronous
// submission. Go has no const-generic variadic tuples, so unlike the
// ported source's tuple-of-actions trait impl, composition happens at
// run time through Actions: the slot count that would have been
// computed by the compiler is instead checked at run time by an
// assertion in actionList.WriteActions.
type Action interface {
	// ActionCount reports how many ActionDescriptor slots WriteActions
	// needs.
	ActionCount() int
	// WriteActions fills out[:ActionCount()] with this action's
	// descriptors. hasNext tells the last descriptor whether to set the
	// Chain flag, continuing into a sibling action appended after it.
	WriteActions(hasNext bool, out []ActionDescriptor)
	// ParseResult consumes this action's share of element's data and
	// returns its boxed result. Typed wrappers (see Offer, SendBuffer,
	// ...) are expected to type-assert the concrete type back out.
	ParseResult(e *QueueElement) (any, error)
}

// Offer submits an accept/offer exchange, optionally requesting a new
// lane handle, and chains a nested action that rides along with it.
type Offer struct {
	WantLane bool
	Action   Action
}

func (o Offer) ActionCount() int {
	return 1 + o.Action.ActionCount()
}

func (o Offer) WriteActions(hasNext bool, out []ActionDescriptor) {
	var flags uint32
	if o.WantLane {
		flags |= uapi.HelItemWantLane
	}
	if hasNext || o.Action.ActionCount() > 0 {
		flags |= uapi.HelItemChain
	}
	if o.Action.ActionCount() > 0 {
		flags |= uapi.HelItemAncillary
	}
	out[0] = ActionDescriptor{Type: uapi.HelActionOffer, Flags: flags, Handle: uapi.HelNullHandle}
	o.Action.WriteActions(hasNext, out[1:])
}

func (o Offer) ParseResult(e *QueueElement) (any, error) {
	handleResult, err := parseHandleResult(e)
	if err != nil {
		return nil, err
	}
	inner, err := o.Action.ParseResult(e)
	if err != nil {
		return nil, err
	}
	return [2]any{handleResult, inner}, nil
}

// SendBuffer sends data as a single descriptor, returning a
// SimpleResult.
type SendBuffer struct {
	Data []byte
}

func (s SendBuffer) ActionCount() int { return 1 }

func (s SendBuffer) WriteActions(hasNext bool, out []ActionDescriptor) {
	var flags uint32
	if hasNext {
		flags = uapi.HelItemChain
	}
	var bufAddr uint64
	if len(s.Data) > 0 {
		bufAddr = uint64(uintptr(unsafe.Pointer(&s.Data[0])))
	}
	out[0] = ActionDescriptor{
		Type:   uapi.HelActionSendFromBuffer,
		Flags:  flags,
		Buffer: bufAddr,
		Length: uint64(len(s.Data)),
		Handle: uapi.HelNullHandle,
	}
}

func (s SendBuffer) ParseResult(e *QueueElement) (any, error) {
	return parseSimpleResult(e)
}

// ReceiveBuffer receives into a caller-supplied buffer, returning a
// LengthResult with the number of bytes actually written.
type ReceiveBuffer struct {
	Data []byte
}

func (r ReceiveBuffer) ActionCount() int { return 1 }

func (r ReceiveBuffer) WriteActions(hasNext bool, out []ActionDescriptor) {
	var flags uint32
	if hasNext {
		flags = uapi.HelItemChain
	}
	var bufAddr uint64
	if len(r.Data) > 0 {
		bufAddr = uint64(uintptr(unsafe.Pointer(&r.Data[0])))
	}
	out[0] = ActionDescriptor{
		Type:   uapi.HelActionRecvToBuffer,
		Flags:  flags,
		Buffer: bufAddr,
		Length: uint64(len(r.Data)),
		Handle: uapi.HelNullHandle,
	}
}

func (r ReceiveBuffer) ParseResult(e *QueueElement) (any, error) {
	return parseLengthResult(e)
}

// ReceiveInline receives data the kernel writes inline into the
// completion record itself, avoiding a caller-supplied buffer.
type ReceiveInline struct{}

func (ReceiveInline) ActionCount() int { return 1 }

func (ReceiveInline) WriteActions(hasNext bool, out []ActionDescriptor) {
	var flags uint32
	if hasNext {
		flags = uapi.HelItemChain
	}
	out[0] = ActionDescriptor{Type: uapi.HelActionRecvInline, Flags: flags, Handle: uapi.HelNullHandle}
}

func (ReceiveInline) ParseResult(e *QueueElement) (any, error) {
	return parseInlineResult(e)
}

// PullDescriptor pulls a handle across the lane, returning a
// HandleResult.
type PullDescriptor struct{}

func (PullDescriptor) ActionCount() int { return 1 }

func (PullDescriptor) WriteActions(hasNext bool, out []ActionDescriptor) {
	var flags uint32
	if hasNext {
		flags = uapi.HelItemChain
	}
	out[0] = ActionDescriptor{Type: uapi.HelActionPullDescriptor, Flags: flags, Handle: uapi.HelNullHandle}
}

func (PullDescriptor) ParseResult(e *QueueElement) (any, error) {
	return parseHandleResult(e)
}

// actionList composes a run-time vector of actions into a single
// chained Action, standing in for the ported source's tuple-of-actions
// trait implementation.
type actionList struct {
	actions []Action
}

// Actions composes a sequence of actions into a single Action chained
// with the Chain flag, the run-time equivalent of the ported source's
// compile-time tuple composition.
func Actions(actions ...Action) Action {
	return actionList{actions: actions}
}

func (a actionList) ActionCount() int {
	total := 0
	for _, action := range a.actions {
		total += action.ActionCount()
	}
	return total
}

func (a actionList) WriteActions(hasNext bool, out []ActionDescriptor) {
	if ActionSlotCount(a) != len(out) {
		panic(&FatalError{Msg: fmt.Sprintf("actionList.WriteActions: slot count mismatch: want %d, got %d", ActionSlotCount(a), len(out))})
	}
	index := 0
	for i, action := range a.actions {
		count := action.ActionCount()
		childHasNext := hasNext
		if i+1 < len(a.actions) {
			childHasNext = true
		}
		action.WriteActions(childHasNext, out[index:index+count])
		index += count
	}
}

func (a actionList) ParseResult(e *QueueElement) (any, error) {
	results := make([]any, len(a.actions))
	for i, action := range a.actions {
		r, err := action.ParseResult(e)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// ActionSlotCount returns the number of ActionDescriptor slots a
// WriteActions call against a needs. SubmitAsync (operation.go) sizes
// its descriptor buffer with it, and actionList.WriteActions asserts
// the buffer it is handed has exactly this many slots, the run-time
// substitute for the ported source's compile-time ACTION_COUNT.
func ActionSlotCount(a Action) int {
	return a.ActionCount()
}

func parseSimpleResult(e *QueueElement) (uapi.SimpleResult, error) {
	r, err := uapi.DecodeSimpleResult(e.Data())
	if err != nil {
		return uapi.SimpleResult{}, WrapError("Action.ParseResult", err)
	}
	e.Advance(int(unsafeSizeofSimpleResult))
	if err := FromHelError("Action.ParseResult", r.Error); err != nil {
		return r, err
	}
	return r, nil
}

func parseLengthResult(e *QueueElement) (uapi.LengthResult, error) {
	r, err := uapi.DecodeLengthResult(e.Data())
	if err != nil {
		return uapi.LengthResult{}, WrapError("Action.ParseResult", err)
	}
	e.Advance(int(unsafeSizeofLengthResult))
	if err := FromHelError("Action.ParseResult", r.Error); err != nil {
		return r, err
	}
	return r, nil
}

func parseHandleResult(e *QueueElement) (uapi.HandleResult, error) {
	r, err := uapi.DecodeHandleResult(e.Data())
	if err != nil {
		return uapi.HandleResult{}, WrapError("Action.ParseResult", err)
	}
	e.Advance(int(unsafeSizeofHandleResult))
	if err := FromHelError("Action.ParseResult", r.Error); err != nil {
		return r, err
	}
	return r, nil
}

// InlineResult is the parsed, self-contained form of a ReceiveInline
// completion: the header plus its own copy of the payload bytes (the
// QueueElement's backing buffer is only valid until Release).
type InlineResult struct {
	Payload []byte
}

// String exposes the inline payload as a string without copying,
// valid for as long as Payload itself is kept alive by the caller.
func (r InlineResult) String() string {
	return unsafex.BinaryToString(r.Payload)
}

func parseInlineResult(e *QueueElement) (InlineResult, error) {
	header, err := uapi.DecodeInlineResult(e.Data())
	if err != nil {
		return InlineResult{}, WrapError("Action.ParseResult", err)
	}
	if err := FromHelError("Action.ParseResult", header.Error); err != nil {
		return InlineResult{}, err
	}
	e.Advance(int(unsafeSizeofInlineResult))

	length := int(header.Length)
	data := e.Data()
	if len(data) < length {
		return InlineResult{}, WrapError("Action.ParseResult", uapi.ErrInsufficientData)
	}
	payload := make([]byte, length)
	copy(payload, data[:length])
	e.Advance(uapi.PadTo8(length))
	return InlineResult{Payload: payload}, nil
}
