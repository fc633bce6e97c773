package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrInvalidChunkSize is returned by Split for a non-positive chunk size.
var ErrInvalidChunkSize = errors.New("protocol: chunk size must be positive")

// Split cuts data into ordered chunks of at most maxChunkBytes. With
// lineAligned set, every piece except the final one ends right after a
// '\n' when its window contains one. Empty input yields no chunks.
func Split(data []byte, maxChunkBytes int, lineAligned bool) ([]Chunk, error) {
	if maxChunkBytes <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, maxChunkBytes)
	}
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]Chunk, 0, (len(data)+maxChunkBytes-1)/maxChunkBytes)
	for processed := 0; processed < len(data); {
		remaining := len(data) - processed
		size := min(maxChunkBytes, remaining)
		if lineAligned && remaining > maxChunkBytes {
			if i := bytes.LastIndexByte(data[processed:processed+size], '\n'); i >= 0 {
				size = i + 1
			}
		}
		piece := make([]byte, size)
		copy(piece, data[processed:processed+size])
		out = append(out, Chunk{SequenceNumber: int32(len(out)), Data: piece})
		processed += size
	}
	for i := range out {
		out[i].TotalChunks = int32(len(out))
	}
	return out, nil
}
