// Package fakerand provides a deterministic Random implementation for tests.
package fakerand

import (
	"sync"

	"github.com/marinerapp/mariner/internal/ports"
)

// Random yields a repeating byte sequence instead of entropy, so generated
// identifiers are stable across test runs.
type Random struct {
	mu       sync.Mutex
	sequence []byte
	offset   int
}

// New creates a fake random yielding sequential bytes 0, 1, 2, ..., 255, 0...
// Consecutive reads keep advancing, so successive identifiers still differ.
func New() *Random {
	seq := make([]byte, 256)
	for i := range seq {
		seq[i] = byte(i)
	}
	return &Random{sequence: seq}
}

// NewFixed creates a fake random that repeats the given bytes forever.
func NewFixed(b []byte) *Random {
	cp := append([]byte(nil), b...)
	return &Random{sequence: cp}
}

// Read fills b with the next bytes of the sequence.
func (r *Random) Read(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range b {
		b[i] = r.sequence[r.offset%len(r.sequence)]
		r.offset++
	}
	return len(b), nil
}

// Reset rewinds the sequence to the beginning.
func (r *Random) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = 0
}

var _ ports.Random = (*Random)(nil)
