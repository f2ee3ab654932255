package uapi

import "unsafe"

// Geometry computes the byte layout of a queue's shared mapping from
// its creation parameters, mirroring queue.rs's construction
// arithmetic exactly: the chunk region starts after the header and
// inline index array, both rounded up to a 64-byte boundary, and each
// chunk reserves ChunkHeader-plus-payload rounded the same way.
func Geometry(ringShift, numChunks, chunkSize int) (chunksOffset, reservedPerChunk, totalSize int) {
	indexArrayBytes := int(unsafe.Sizeof(int32(0))) << ringShift
	chunksOffset = RoundUp64(int(unsafe.Sizeof(QueueHeader{})) + indexArrayBytes)
	reservedPerChunk = RoundUp64(int(unsafe.Sizeof(ChunkHeader{})) + chunkSize)
	totalSize = chunksOffset + reservedPerChunk*numChunks
	return
}
