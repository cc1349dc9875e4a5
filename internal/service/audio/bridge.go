// Package audio holds the in-memory audio kept for re-priming provider
// connections. Audio here is never persisted.
package audio

import "time"

// BytesPerSample for 16-bit PCM.
const BytesPerSample = 2

// Writer receives replayed chunks.
type Writer interface {
	Write(chunk []byte)
}

// BridgeBuffer retains the most recent audio, bounded by duration rather
// than chunk count. Not safe for concurrent use; it belongs to one session
// controller.
type BridgeBuffer struct {
	capacity int
	chunks   [][]byte
	size     int
}

// NewBridgeBuffer sizes the buffer for d of mono PCM at sampleRate. A
// non-positive duration disables buffering.
func NewBridgeBuffer(d time.Duration, sampleRate int) *BridgeBuffer {
	capacity := 0
	if d > 0 && sampleRate > 0 {
		capacity = int(d.Seconds() * float64(sampleRate) * BytesPerSample)
	}
	return &BridgeBuffer{capacity: capacity}
}

// Append copies chunk into the buffer, then evicts the oldest chunks while
// the total exceeds capacity. The newest chunk is always kept. Returns the
// number of chunks evicted.
func (b *BridgeBuffer) Append(chunk []byte) int {
	if b.capacity == 0 || len(chunk) == 0 {
		return 0
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	b.chunks = append(b.chunks, c)
	b.size += len(c)

	evicted := 0
	for b.size > b.capacity && len(b.chunks) > 1 {
		b.size -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
		evicted++
	}
	return evicted
}

// Replay writes every buffered chunk, oldest first. The buffer keeps its
// contents.
func (b *BridgeBuffer) Replay(w Writer) int {
	for _, c := range b.chunks {
		w.Write(c)
	}
	return len(b.chunks)
}

// Len returns the number of buffered chunks.
func (b *BridgeBuffer) Len() int { return len(b.chunks) }

// Bytes returns the number of buffered bytes.
func (b *BridgeBuffer) Bytes() int { return b.size }

// Capacity returns the byte budget.
func (b *BridgeBuffer) Capacity() int { return b.capacity }

// Snapshot returns the buffered chunks oldest first. The slices are shared.
func (b *BridgeBuffer) Snapshot() [][]byte {
	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Reset discards all buffered audio.
func (b *BridgeBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}
