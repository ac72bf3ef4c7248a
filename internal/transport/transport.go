// Package transport defines the byte-stream contract between a terminal
// process and the command executor.
//
// A transport is the raw duplex pipe: bytes written go to the remote (or
// local) shell's stdin, bytes the shell produces arrive as chunks on the
// Output channel. Transports know nothing about commands, markers or
// prompts; all interpretation happens above them.
package transport

// Chunk is one read's worth of terminal output tagged with the transport it
// came from. Consumers discard chunks whose Source is not the transport
// their current command was written to, so a stale stream can never complete
// someone else's command.
type Chunk struct {
	Source Transport
	Data   []byte
}

// Transport is a live terminal byte stream.
type Transport interface {
	// Write sends bytes to the terminal's input.
	Write(p []byte) (int, error)

	// Output returns the channel carrying terminal output. The channel
	// is closed when the underlying stream ends. There is exactly one
	// Output channel per transport; ownership of reading it may be
	// handed between consumers but never shared concurrently.
	Output() <-chan Chunk

	// Wait blocks until the underlying process or connection terminates.
	Wait() error

	// Close tears the stream down. Safe to call more than once.
	Close() error
}
