package upload

// Chunk math shared by the upload service, the assembly pipeline and
// the range server. Chunking is pure: the same (fileSize, chunkSize,
// index) always maps to the same byte range.

// TotalChunks returns ceil(fileSize / chunkSize).
func TotalChunks(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	n := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		n++
	}
	return int(n)
}

// ChunkRange returns the byte offset and length of a chunk within the
// source file. Every chunk is chunkSize bytes except the last, which
// holds the remainder. A length of 0 means the index is out of range.
func ChunkRange(fileSize, chunkSize int64, index int) (offset, length int64) {
	if index < 0 || fileSize <= 0 || chunkSize <= 0 {
		return 0, 0
	}

	offset = int64(index) * chunkSize
	if offset >= fileSize {
		return 0, 0
	}

	length = chunkSize
	if remaining := fileSize - offset; remaining < chunkSize {
		length = remaining
	}
	return offset, length
}

// CoveringChunks returns the inclusive range of chunk indices that
// cover the byte range [start, end] of the source file.
func CoveringChunks(chunkSize, start, end int64) (first, last int) {
	if chunkSize <= 0 || end < start {
		return 0, -1
	}
	return int(start / chunkSize), int(end / chunkSize)
}
