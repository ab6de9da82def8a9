package files

import (
	"strings"
	"testing"
)

func TestSplitShortContentSingleChunk(t *testing.T) {
	chunker := NewChunker(100, 10)
	chunks := chunker.Split("file_1", "hello world")

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != "hello world" || c.StartOffset != 0 || c.EndOffset != len("hello world") {
		t.Errorf("chunk = %+v", c)
	}
	if c.Sequence != 0 || c.FileID != "file_1" {
		t.Errorf("chunk metadata = %+v", c)
	}
}

func TestSplitEmptyContent(t *testing.T) {
	if chunks := NewChunker(100, 10).Split("file_1", ""); chunks != nil {
		t.Fatalf("expected nil for empty content, got %d chunks", len(chunks))
	}
}

func TestSplitCoversAllContentWithOverlap(t *testing.T) {
	content := strings.Repeat("word ", 200) // 1000 bytes
	chunker := NewChunker(300, 50)
	chunks := chunker.Split("file_1", content)

	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	if chunks[0].StartOffset != 0 {
		t.Errorf("first chunk starts at %d", chunks[0].StartOffset)
	}
	if last := chunks[len(chunks)-1]; last.EndOffset != len(content) {
		t.Errorf("last chunk ends at %d, want %d", last.EndOffset, len(content))
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.StartOffset >= prev.EndOffset {
			t.Errorf("chunk %d does not overlap predecessor: prev end %d, cur start %d",
				i, prev.EndOffset, cur.StartOffset)
		}
		if cur.Sequence != prev.Sequence+1 {
			t.Errorf("sequence gap at chunk %d", i)
		}
	}
}

func TestSplitOffsetsMatchText(t *testing.T) {
	content := strings.Repeat("alpha beta gamma delta ", 60)
	chunks := NewChunker(250, 40).Split("file_1", content)

	for _, c := range chunks {
		if content[c.StartOffset:c.EndOffset] != c.Text {
			t.Fatalf("chunk %d text does not match offsets", c.Sequence)
		}
	}
}

func TestSplitPrefersWordBoundaries(t *testing.T) {
	content := strings.Repeat("boundary ", 100)
	chunks := NewChunker(200, 20).Split("file_1", content)

	for _, c := range chunks {
		if c.EndOffset == len(content) {
			continue
		}
		if !strings.HasSuffix(c.Text, " ") {
			t.Errorf("chunk %d does not end on whitespace: %q", c.Sequence, c.Text[len(c.Text)-10:])
		}
	}
}
