package uapi

import "unsafe"

// QueueParameters describes the geometry of a CreateQueue call (§3).
// NumSqChunks and RingShift are optional depending on the ABI variant;
// this port only drives the ring-indexed variant, so RingShift is
// always populated and NumSqChunks stays zero (see PushSQ in queue.go).
type QueueParameters struct {
	NumCqChunks uint32
	ChunkSize   uint32
	NumSqChunks uint32
	RingShift   uint32
}

// QueueHeader is the fixed portion at the start of a queue's shared
// mapping (§6). In the ring-indexed variant it is immediately followed
// by an inline index array of `1 << RingShift` int32 entries, then the
// chunk region at ChunksOffset.
type QueueHeader struct {
	HeadFutex int32
	_         int32 // reserved, keeps 8-byte alignment for the index array
}

// Compile-time size check: the header must be exactly 8 bytes so
// ChunksOffset's rounding arithmetic matches the kernel's.
var _ [8]byte = [unsafe.Sizeof(QueueHeader{})]byte{}

// ChunkHeader precedes each chunk's payload bytes in the mapping (§6).
type ChunkHeader struct {
	Next          uint32
	ProgressFutex uint32
}

var _ [8]byte = [unsafe.Sizeof(ChunkHeader{})]byte{}

// ElementHeader precedes each completion record written into a chunk
// (§6). Context is pointer-sized to carry either a raw leaked pointer
// (on native targets) or a cookie integer (this port's arena index).
type ElementHeader struct {
	Length  uint32
	Opcode  uint32
	Context uint64
}

var _ [16]byte = [unsafe.Sizeof(ElementHeader{})]byte{}

// ActionDescriptor matches the kernel's action struct (§6) that a
// submitAsync call consumes, one per sub-operation in an Action.
type ActionDescriptor struct {
	Type   int32
	Flags  uint32
	Buffer uint64
	Length uint64
	Handle int64
}

var _ [32]byte = [unsafe.Sizeof(ActionDescriptor{})]byte{}

// SimpleResult carries only a status code (§4.7/§6).
type SimpleResult struct {
	Error uint32
	_     uint32
}

var _ [8]byte = [unsafe.Sizeof(SimpleResult{})]byte{}

// LengthResult carries a status code plus a byte count.
type LengthResult struct {
	Error  uint32
	_      uint32
	Length uint64
}

var _ [16]byte = [unsafe.Sizeof(LengthResult{})]byte{}

// HandleResult carries a status code plus a (possibly null) handle.
type HandleResult struct {
	Error  uint32
	_      uint32
	Handle int64
}

var _ [16]byte = [unsafe.Sizeof(HandleResult{})]byte{}

// InlineResult carries a status code and a length; `Length` inline
// bytes immediately follow this header, padded to an 8-byte boundary.
type InlineResult struct {
	Error  uint32
	Length uint32
}

var _ [8]byte = [unsafe.Sizeof(InlineResult{})]byte{}
