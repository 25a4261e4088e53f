package capture

import (
	"bytes"
	"testing"
)

func TestChunkBuffer_FlushConcatenatesAndClears(t *testing.T) {
	t.Parallel()

	var b ChunkBuffer
	frames := [][]byte{{1, 2}, {3}, {4, 5, 6}}
	total := 0
	for _, f := range frames {
		b.Append(f)
		total += len(f)
	}
	if b.Len() != total || b.Frames() != 3 {
		t.Fatalf("Len = %d Frames = %d, want %d/3", b.Len(), b.Frames(), total)
	}

	got := b.Flush()
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Flush = %v", got)
	}
	if b.Len() != 0 || b.Frames() != 0 {
		t.Errorf("buffer not empty after Flush: Len = %d Frames = %d", b.Len(), b.Frames())
	}
	if again := b.Flush(); again != nil {
		t.Errorf("Flush of empty buffer = %v, want nil", again)
	}
}

func TestChunkBuffer_IgnoresEmptyFrames(t *testing.T) {
	t.Parallel()

	var b ChunkBuffer
	b.Append(nil)
	b.Append([]byte{})
	if b.Frames() != 0 {
		t.Errorf("Frames = %d, want 0", b.Frames())
	}
}

func TestChunkBuffer_Reset(t *testing.T) {
	t.Parallel()

	var b ChunkBuffer
	b.Append([]byte{1})
	b.Reset()
	if b.Flush() != nil {
		t.Error("Flush after Reset returned data")
	}
}
