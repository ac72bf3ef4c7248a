// Package termbuf provides a bounded accumulator for terminal output.
//
// One Buffer backs each in-flight command. Long-running or runaway commands
// can emit output indefinitely; the buffer caps retained bytes by discarding
// the oldest data, since marker scanning only ever needs the most recent
// region of the stream.
package termbuf

import "sync"

// DefaultLimit is the retained-byte cap used when none is configured.
const DefaultLimit = 256 * 1024

// Buffer is an append-only, size-capped output accumulator. When an append
// would exceed the cap, the oldest bytes are dropped and the newest kept.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

// New creates a Buffer retaining at most limit bytes.
// A non-positive limit falls back to DefaultLimit.
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit}
}

// Append adds a chunk to the buffer, truncating from the front if the
// retained size would exceed the cap.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.limit {
		// Chunk alone exceeds the cap: keep only its tail.
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		return
	}

	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = append(b.data[:0], b.data[over:]...)
	}
}

// String returns the currently retained text.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Reset discards all retained data, keeping the cap.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
