package capture

// ChunkBuffer is an ordered, append-only list of frame payloads waiting to be
// sent as one chunk. It is not safe for concurrent use.
type ChunkBuffer struct {
	frames [][]byte
	size   int
}

// Append adds one frame payload. Empty payloads are ignored.
func (b *ChunkBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.frames = append(b.frames, p)
	b.size += len(p)
}

// Len returns the total number of buffered bytes.
func (b *ChunkBuffer) Len() int { return b.size }

// Frames returns the number of buffered frames.
func (b *ChunkBuffer) Frames() int { return len(b.frames) }

// Flush returns the buffered frames concatenated in order and clears the
// buffer. It returns nil when the buffer is empty.
func (b *ChunkBuffer) Flush() []byte {
	if b.size == 0 {
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, f := range b.frames {
		out = append(out, f...)
	}
	b.Reset()
	return out
}

// Reset discards everything buffered.
func (b *ChunkBuffer) Reset() {
	clear(b.frames)
	b.frames = b.frames[:0]
	b.size = 0
}
