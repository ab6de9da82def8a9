package files

import (
	"github.com/assistantd/assistantd/pkg/models"
)

// Chunker splits file text into overlapping fixed-size chunks. Offsets are
// byte positions into the original content.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Overlap must be smaller than size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks content for a file. Chunk boundaries back up to the nearest
// whitespace where possible so words are not cut mid-rune run.
func (c *Chunker) Split(fileID string, content string) []*models.Chunk {
	if content == "" {
		return nil
	}

	var chunks []*models.Chunk
	step := c.size - c.overlap
	seq := 0
	for start := 0; start < len(content); start += step {
		end := start + c.size
		if end > len(content) {
			end = len(content)
		} else {
			end = breakAt(content, end)
		}

		chunks = append(chunks, &models.Chunk{
			ID:          models.NewID(models.ChunkIDPrefix),
			FileID:      fileID,
			Sequence:    seq,
			StartOffset: start,
			EndOffset:   end,
			Text:        content[start:end],
		})
		seq++

		if end == len(content) {
			break
		}
		// Keep the stride anchored to the soft break so overlap stays stable.
		step = end - start - c.overlap
		if step <= 0 {
			step = 1
		}
	}
	return chunks
}

// breakAt backs a cut point up to the nearest whitespace within a small
// window, returning the original point when no whitespace is close.
func breakAt(content string, pos int) int {
	const window = 100
	low := pos - window
	if low < 0 {
		low = 0
	}
	for i := pos; i > low; i-- {
		switch content[i-1] {
		case ' ', '\n', '\t':
			return i
		}
	}
	return pos
}
