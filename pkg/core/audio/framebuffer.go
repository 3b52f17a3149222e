package audio

// FrameBuffer re-frames a byte stream into fixed-size chunks. It never emits
// a partial chunk from Push; the remainder is retained for the next call.
type FrameBuffer struct {
	threshold int
	pending   []byte
}

// NewFrameBuffer returns a buffer emitting chunks of threshold bytes.
// Thresholds below one byte are treated as one.
func NewFrameBuffer(threshold int) *FrameBuffer {
	if threshold < 1 {
		threshold = 1
	}
	return &FrameBuffer{threshold: threshold, pending: make([]byte, 0, threshold)}
}

// Threshold is the chunk size in bytes.
func (b *FrameBuffer) Threshold() int { return b.threshold }

// Push appends p and returns every complete chunk now available, in order.
// The returned chunks do not alias p or the buffer's storage.
func (b *FrameBuffer) Push(p []byte) [][]byte {
	if len(p) == 0 {
		return nil
	}
	b.pending = append(b.pending, p...)
	if len(b.pending) < b.threshold {
		return nil
	}

	count := len(b.pending) / b.threshold
	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		chunk := make([]byte, b.threshold)
		copy(chunk, b.pending[i*b.threshold:(i+1)*b.threshold])
		chunks = append(chunks, chunk)
	}
	rest := len(b.pending) - count*b.threshold
	copy(b.pending, b.pending[count*b.threshold:])
	b.pending = b.pending[:rest]
	return chunks
}

// Pending returns a copy of the retained remainder.
func (b *FrameBuffer) Pending() []byte {
	out := make([]byte, len(b.pending))
	copy(out, b.pending)
	return out
}

// Len is the number of retained bytes.
func (b *FrameBuffer) Len() int { return len(b.pending) }

// Reset drops the remainder.
func (b *FrameBuffer) Reset() { b.pending = b.pending[:0] }

// FlushPadded emits the remainder as one full chunk padded with silence.
// It returns nil when nothing is pending.
func (b *FrameBuffer) FlushPadded() []byte {
	if len(b.pending) == 0 {
		return nil
	}
	chunk := make([]byte, b.threshold)
	copy(chunk, b.pending)
	b.pending = b.pending[:0]
	return chunk
}
