// Package hw exposes a hardware-resource device as a thin client over
// hel's core submission machinery: request PCI config info, or pull a
// BAR/IRQ handle across the conversation lane a device offers.
package hw

import (
	"encoding/binary"
	"fmt"

	"github.com/managarm/hel"
	"github.com/managarm/hel/internal/uapi"
)

// PciInfo is the subset of a device's PCI configuration this client
// cares about.
type PciInfo struct {
	VendorID uint16
	DeviceID uint16
}

// Device is a client handle to a managarm hardware-resource server.
type Device struct {
	handle hel.Handle
}

// NewDevice wraps an already-established lane to a hardware-resource
// server.
func NewDevice(handle hel.Handle) Device {
	return Device{handle: handle}
}

// GetPciInfo requests the device's PCI configuration.
func (d Device) GetPciInfo(e *hel.Executor) (PciInfo, error) {
	req := encodeGetPciInfoRequest()
	action := hel.Offer{WantLane: true, Action: hel.Actions(hel.SendBuffer{Data: req}, hel.ReceiveInline{})}

	raw, err := hel.BlockOn(e, hel.SubmitAsync(e, d.handle, action))
	if err != nil {
		return PciInfo{}, err
	}
	inline, err := offerInlineReply(raw)
	if err != nil {
		return PciInfo{}, err
	}
	return decodePciInfo(inline.Payload)
}

// AccessBar pulls a handle for the given BAR index.
func (d Device) AccessBar(e *hel.Executor, bar int) (hel.Handle, error) {
	return d.pullDescriptor(e, encodeIndexRequest(accessBarOpcode, int64(bar)))
}

// AccessIrq pulls a handle for the device's IRQ line at index.
func (d Device) AccessIrq(e *hel.Executor, index int) (hel.Handle, error) {
	return d.pullDescriptor(e, encodeIndexRequest(accessIrqOpcode, int64(index)))
}

func (d Device) pullDescriptor(e *hel.Executor, req []byte) (hel.Handle, error) {
	action := hel.Offer{
		WantLane: true,
		Action:   hel.Actions(hel.SendBuffer{Data: req}, hel.ReceiveInline{}, hel.PullDescriptor{}),
	}
	raw, err := hel.BlockOn(e, hel.SubmitAsync(e, d.handle, action))
	if err != nil {
		return hel.Handle{}, err
	}
	pair, ok := raw.([2]any)
	if !ok {
		return hel.Handle{}, fmt.Errorf("hw: unexpected offer result shape %T", raw)
	}
	inner, ok := pair[1].([]any)
	if !ok || len(inner) != 3 {
		return hel.Handle{}, fmt.Errorf("hw: unexpected offer chain shape %T", pair[1])
	}
	pulled, ok := inner[2].(uapi.HandleResult)
	if !ok {
		return hel.Handle{}, fmt.Errorf("hw: unexpected pull result shape %T", inner[2])
	}
	return hel.HandleFromRaw(pulled.Handle), nil
}

func offerInlineReply(raw any) (hel.InlineResult, error) {
	pair, ok := raw.([2]any)
	if !ok {
		return hel.InlineResult{}, fmt.Errorf("hw: unexpected offer result shape %T", raw)
	}
	inner, ok := pair[1].([]any)
	if !ok || len(inner) != 2 {
		return hel.InlineResult{}, fmt.Errorf("hw: unexpected offer chain shape %T", pair[1])
	}
	inline, ok := inner[1].(hel.InlineResult)
	if !ok {
		return hel.InlineResult{}, fmt.Errorf("hw: unexpected receive result shape %T", inner[1])
	}
	return inline, nil
}

const (
	getPciInfoOpcode = iota
	accessBarOpcode
	accessIrqOpcode
)

func encodeGetPciInfoRequest() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, getPciInfoOpcode)
	return buf
}

func encodeIndexRequest(opcode uint32, index int64) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], opcode)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(index))
	return buf
}

func decodePciInfo(payload []byte) (PciInfo, error) {
	if len(payload) < 8 {
		return PciInfo{}, fmt.Errorf("hw: short PciInfo payload (%d bytes)", len(payload))
	}
	errCode := binary.LittleEndian.Uint32(payload[0:4])
	if errCode != uapi.HelErrNone {
		return PciInfo{}, hel.FromHelError("hw.GetPciInfo", errCode)
	}
	return PciInfo{
		VendorID: binary.LittleEndian.Uint16(payload[4:6]),
		DeviceID: binary.LittleEndian.Uint16(payload[6:8]),
	}, nil
}
