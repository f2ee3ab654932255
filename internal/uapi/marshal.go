package uapi

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientData is returned when a decode call is handed fewer
// bytes than the record it is asked to decode requires.
var ErrInsufficientData = errors.New("uapi: insufficient data")

// EncodeElementHeader encodes a completion-element header, the
// counterpart to DecodeElementHeader. Used by the simulated kernel to
// synthesize completions for tests.
func EncodeElementHeader(h ElementHeader) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.Opcode)
	binary.LittleEndian.PutUint64(buf[8:16], h.Context)
	return buf
}

// EncodeSimpleResult is SimpleResult's encoder, the counterpart to
// DecodeSimpleResult.
func EncodeSimpleResult(r SimpleResult) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], r.Error)
	return buf
}

// EncodeLengthResult is LengthResult's encoder.
func EncodeLengthResult(r LengthResult) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], r.Error)
	binary.LittleEndian.PutUint64(buf[8:16], r.Length)
	return buf
}

// EncodeHandleResult is HandleResult's encoder.
func EncodeHandleResult(r HandleResult) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], r.Error)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Handle))
	return buf
}

// EncodeInlineResult encodes an InlineResult header followed by its
// payload, padded to an 8-byte boundary.
func EncodeInlineResult(r InlineResult, payload []byte) []byte {
	buf := make([]byte, PadTo8(8+len(payload)))
	binary.LittleEndian.PutUint32(buf[0:4], r.Error)
	binary.LittleEndian.PutUint32(buf[4:8], r.Length)
	copy(buf[8:], payload)
	return buf
}

// DecodeElementHeader decodes a completion-element header from the
// front of a chunk's payload bytes (§4.4.3/§6).
func DecodeElementHeader(data []byte) (ElementHeader, error) {
	if len(data) < 16 {
		return ElementHeader{}, ErrInsufficientData
	}
	return ElementHeader{
		Length:  binary.LittleEndian.Uint32(data[0:4]),
		Opcode:  binary.LittleEndian.Uint32(data[4:8]),
		Context: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// DecodeSimpleResult decodes a SimpleResult record (§4.7).
func DecodeSimpleResult(data []byte) (SimpleResult, error) {
	if len(data) < 8 {
		return SimpleResult{}, ErrInsufficientData
	}
	return SimpleResult{Error: binary.LittleEndian.Uint32(data[0:4])}, nil
}

// DecodeLengthResult decodes a LengthResult record (§4.7).
func DecodeLengthResult(data []byte) (LengthResult, error) {
	if len(data) < 16 {
		return LengthResult{}, ErrInsufficientData
	}
	return LengthResult{
		Error:  binary.LittleEndian.Uint32(data[0:4]),
		Length: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// DecodeHandleResult decodes a HandleResult record (§4.7).
func DecodeHandleResult(data []byte) (HandleResult, error) {
	if len(data) < 16 {
		return HandleResult{}, ErrInsufficientData
	}
	return HandleResult{
		Error:  binary.LittleEndian.Uint32(data[0:4]),
		Handle: int64(binary.LittleEndian.Uint64(data[8:16])),
	}, nil
}

// DecodeInlineResult decodes an InlineResult header. The caller is
// responsible for slicing out the `Length`-byte payload that follows
// and for skipping the padding up to the next 8-byte boundary.
func DecodeInlineResult(data []byte) (InlineResult, error) {
	if len(data) < 8 {
		return InlineResult{}, ErrInsufficientData
	}
	return InlineResult{
		Error:  binary.LittleEndian.Uint32(data[0:4]),
		Length: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// PadTo8 rounds n up to the next multiple of 8, matching the inline
// result payload padding rule (§4.7).
func PadTo8(n int) int {
	return (n + 7) &^ 7
}

// EncodeActionDescriptors marshals a slice of action descriptors into
// the raw byte form the kernel's submitAsync entry point expects. Used
// only by the real (non-simulated) Kernel implementation, which must
// hand the kernel a flat buffer rather than Go-level structs.
func EncodeActionDescriptors(actions []ActionDescriptor) []byte {
	const recordSize = 32
	buf := make([]byte, len(actions)*recordSize)
	for i, a := range actions {
		off := i * recordSize
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(a.Type))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], a.Flags)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], a.Buffer)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], a.Length)
		binary.LittleEndian.PutUint64(buf[off+24:off+32], uint64(a.Handle))
	}
	return buf
}

// RoundUp64 rounds n up to the next multiple of 64, the alignment the
// kernel uses for the queue header and each chunk's reserved region
// (§3/§6).
func RoundUp64(n int) int {
	return (n + 63) &^ 63
}

// RoundUpPage rounds n up to the next multiple of the given page size.
func RoundUpPage(n, pageSize int) int {
	if pageSize <= 0 {
		pageSize = 4096
	}
	return (n + pageSize - 1) &^ (pageSize - 1)
}
