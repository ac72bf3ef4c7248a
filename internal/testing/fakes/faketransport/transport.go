// Package faketransport provides an in-memory transport.Transport for tests.
//
// Tests script the remote side: Emit injects terminal output, Writes exposes
// everything the code under test sent, and an optional write hook lets a
// test behave like a shell by responding to what it receives.
package faketransport

import (
	"errors"
	"strings"
	"sync"

	"github.com/marinerapp/mariner/internal/transport"
)

// Transport is a scriptable in-memory terminal stream.
type Transport struct {
	mu        sync.Mutex
	out       chan transport.Chunk
	writes    [][]byte
	writeHook func([]byte)
	closed    bool
	done      chan struct{}
}

// New creates a fake transport with a generously buffered output channel so
// test scripts never block on emission.
func New() *Transport {
	return &Transport{
		out:  make(chan transport.Chunk, 256),
		done: make(chan struct{}),
	}
}

// Write records the bytes and invokes the write hook, if any.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, errors.New("transport closed")
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	t.writes = append(t.writes, cp)
	hook := t.writeHook
	t.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return len(p), nil
}

// Output returns the scripted output channel.
func (t *Transport) Output() <-chan transport.Chunk {
	return t.out
}

// Wait blocks until Close is called.
func (t *Transport) Wait() error {
	<-t.done
	return nil
}

// Close ends the stream. Further Emit calls are ignored.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.out)
	close(t.done)
	return nil
}

// Emit delivers s as terminal output from this transport.
func (t *Transport) Emit(s string) {
	t.EmitFrom(t, s)
}

// EmitFrom delivers output attributed to an arbitrary source transport.
// Tests use a foreign source to exercise chunk routing.
func (t *Transport) EmitFrom(src transport.Transport, s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.out <- transport.Chunk{Source: src, Data: []byte(s)}
}

// SetWriteHook installs f to run synchronously after every Write.
func (t *Transport) SetWriteHook(f func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeHook = f
}

// Writes returns a copy of everything written so far.
func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	for i, w := range t.writes {
		out[i] = string(w)
	}
	return out
}

// Written returns all written bytes concatenated.
func (t *Transport) Written() string {
	return strings.Join(t.Writes(), "")
}

var _ transport.Transport = (*Transport)(nil)
