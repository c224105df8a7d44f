package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		want      int
	}{
		{"exact multiple", 100, 10, 10},
		{"with remainder", 105, 10, 11},
		{"single partial chunk", 5, 10, 1},
		{"single exact chunk", 10, 10, 1},
		{"zero file", 0, 10, 0},
		{"zero chunk size", 100, 0, 0},
		{"5MiB chunks over 52MiB", 52 * 1024 * 1024, 5 * 1024 * 1024, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TotalChunks(tt.fileSize, tt.chunkSize))
		})
	}
}

func TestChunkRange(t *testing.T) {
	fileSize := int64(105)
	chunkSize := int64(10)

	offset, length := ChunkRange(fileSize, chunkSize, 0)
	assert.Equal(t, int64(0), offset)
	assert.Equal(t, int64(10), length)

	offset, length = ChunkRange(fileSize, chunkSize, 5)
	assert.Equal(t, int64(50), offset)
	assert.Equal(t, int64(10), length)

	// final chunk holds the remainder
	offset, length = ChunkRange(fileSize, chunkSize, 10)
	assert.Equal(t, int64(100), offset)
	assert.Equal(t, int64(5), length)

	// out of range
	_, length = ChunkRange(fileSize, chunkSize, 11)
	assert.Equal(t, int64(0), length)

	_, length = ChunkRange(fileSize, chunkSize, -1)
	assert.Equal(t, int64(0), length)
}

func TestChunkRangesCoverFile(t *testing.T) {
	fileSize := int64(52*1024*1024 + 7)
	chunkSize := int64(5 * 1024 * 1024)

	var covered int64
	for i := 0; i < TotalChunks(fileSize, chunkSize); i++ {
		offset, length := ChunkRange(fileSize, chunkSize, i)
		assert.Equal(t, covered, offset)
		covered += length
	}
	assert.Equal(t, fileSize, covered)
}

func TestCoveringChunks(t *testing.T) {
	chunkSize := int64(5 * 1024 * 1024)

	// a range spanning the first chunk boundary
	first, last := CoveringChunks(chunkSize, 4194304, 6291455)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, last)

	// fully inside one chunk
	first, last = CoveringChunks(chunkSize, 0, 1023)
	assert.Equal(t, 0, first)
	assert.Equal(t, 0, last)

	// boundary byte belongs to the next chunk
	first, last = CoveringChunks(chunkSize, chunkSize, chunkSize)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, last)

	// inverted range
	first, last = CoveringChunks(chunkSize, 10, 5)
	assert.Greater(t, first, last)
}

func TestChunkBatches(t *testing.T) {
	batches := ChunkBatches(52, 10)
	assert.Len(t, batches, 6)
	assert.Equal(t, [2]int{0, 10}, batches[0])
	assert.Equal(t, [2]int{50, 52}, batches[5])

	batches = ChunkBatches(10, 10)
	assert.Len(t, batches, 1)
	assert.Equal(t, [2]int{0, 10}, batches[0])

	assert.Nil(t, ChunkBatches(0, 10))
}
