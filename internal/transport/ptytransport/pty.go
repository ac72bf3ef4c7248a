// Package ptytransport runs a local process under a pseudo-terminal and
// exposes it as a transport.Transport.
//
// The spawned process is typically an interactive shell, or the ssh binary
// itself: running ssh under a local PTY makes it behave exactly as it does
// for a human, including host-key questions and password prompts on the
// same stream.
package ptytransport

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/marinerapp/mariner/internal/transport"
)

const readBufSize = 4096

// Options configures the spawned process and its terminal.
type Options struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Term    string   // default "dumb"
	Rows    uint16   // default 24
	Cols    uint16   // default 120
}

// ShellOptions returns options for an interactive local shell with a
// terminal configured for machine consumption: TERM=dumb and NO_COLOR so
// well-behaved programs skip escape sequences at the source.
func ShellOptions() Options {
	return Options{
		Command: detectShell(),
		Env:     []string{"NO_COLOR=1"},
	}
}

// PTY is a process running under a local pseudo-terminal.
type PTY struct {
	cmd  *exec.Cmd
	ptmx *os.File
	out  chan transport.Chunk

	closeOnce sync.Once
	closeErr  error

	waitOnce sync.Once
	waitErr  error
}

// Start spawns the process under a fresh PTY and begins pumping its output.
func Start(opts Options) (*PTY, error) {
	if opts.Command == "" {
		opts.Command = detectShell()
	}
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), fmt.Sprintf("TERM=%s", opts.Term))
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	p := &PTY{
		cmd:  cmd,
		ptmx: ptmx,
		out:  make(chan transport.Chunk, 32),
	}
	go p.pump()

	slog.Debug("pty transport started",
		"command", opts.Command,
		"pid", cmd.Process.Pid)
	return p, nil
}

// pump copies PTY output into the chunk channel until the stream ends.
func (p *PTY) pump() {
	defer close(p.out)

	buf := make([]byte, readBufSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.out <- transport.Chunk{Source: p, Data: data}
		}
		if err != nil {
			// Reading a PTY after the child exits fails with EIO;
			// that is the normal end of stream.
			return
		}
	}
}

// Write sends bytes to the process's terminal input.
func (p *PTY) Write(b []byte) (int, error) {
	return p.ptmx.Write(b)
}

// Output returns the terminal output channel.
func (p *PTY) Output() <-chan transport.Chunk {
	return p.out
}

// Wait blocks until the process exits.
func (p *PTY) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Resize changes the terminal window size.
func (p *PTY) Resize(rows, cols uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close closes the PTY and kills the process if it is still running.
func (p *PTY) Close() error {
	p.closeOnce.Do(func() {
		err := p.ptmx.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.closeErr = err
	})
	return p.closeErr
}

func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

var _ transport.Transport = (*PTY)(nil)
