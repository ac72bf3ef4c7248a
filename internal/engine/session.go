package engine

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/marinerapp/mariner/internal/ansi"
	"github.com/marinerapp/mariner/internal/marker"
	"github.com/marinerapp/mariner/internal/prompt"
	"github.com/marinerapp/mariner/internal/security"
	"github.com/marinerapp/mariner/internal/termbuf"
	"github.com/marinerapp/mariner/internal/transport"
)

// ctrlC is the interrupt byte sent to recover a stuck shell.
const ctrlC = 0x03

// sudoPrefix matches a redundant privilege-elevation prefix at a command
// position: the start of the text or right after a statement separator.
// "sudoedit" or a mid-word "sudo" never matches.
var sudoPrefix = regexp.MustCompile(`(^|[;&|(]\s*)sudo\s+`)

// Result is the structured outcome of one command.
type Result struct {
	Command  string
	Output   string
	ExitCode int
	Elapsed  time.Duration
	TimedOut bool
}

// Success reports whether the command completed with exit code zero.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Session is one live shell channel. At most one command is in flight at any
// time; further submissions queue behind it.
type Session struct {
	id     string
	engine *Engine
	tr     transport.Transport

	// execMu is the per-session command queue: holders run one at a time,
	// waiters line up behind the in-flight command.
	execMu sync.Mutex

	mu           sync.Mutex
	active       *pending
	silenced     bool
	resetPending bool
	runAsRoot    bool
	password     *security.SecureCache
	closed       bool

	done      chan struct{}
	closeOnce sync.Once
}

// pending is one in-flight command. Its fields past the done channel are
// written only inside the single-resolution slot.
type pending struct {
	pair    marker.Pair
	command string
	buf     *termbuf.Buffer

	// passwordSent is touched only by the session's pump goroutine.
	passwordSent bool

	once sync.Once
	res  Result
	done chan struct{}
}

// resolve delivers the result exactly once. Whichever of completion, timeout
// or teardown gets here first wins; the others become no-ops.
func (p *pending) resolve(res Result) {
	p.once.Do(func() {
		p.res = res
		close(p.done)
	})
}

func newSession(id string, e *Engine, tr transport.Transport) *Session {
	return &Session{
		id:     id,
		engine: e,
		tr:     tr,
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Done is closed when the session ends: transport stream exhausted or
// explicit detach.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SetRunAsRoot marks the session's shell as already privileged, enabling
// sudo-prefix stripping on submitted commands.
func (s *Session) SetRunAsRoot(v bool) {
	s.mu.Lock()
	s.runAsRoot = v
	s.mu.Unlock()
}

// SetPassword caches the credential used to answer password prompts. The
// cache expires on the engine's TTL and is wiped on expiry, replacement and
// teardown.
func (s *Session) SetPassword(pw []byte) {
	ttl := s.engine.passwordTTL
	if ttl <= 0 {
		ttl = security.DefaultPasswordTTL
	}
	cache := security.NewSecureCache(pw, ttl, security.WithClock(s.engine.clock))

	s.mu.Lock()
	old := s.password
	s.password = cache
	s.mu.Unlock()

	if old != nil {
		old.Clear()
	}
}

// ClearPassword wipes the cached credential.
func (s *Session) ClearPassword() {
	s.mu.Lock()
	cache := s.password
	s.password = nil
	s.mu.Unlock()

	if cache != nil {
		cache.Clear()
	}
}

// Prime runs the one-time shell setup: disable local echo, clear prompt
// side effects, turn off bracketed paste, then wait for the shell to settle.
// Subsequent calls are no-ops.
func (s *Session) Prime() error {
	s.mu.Lock()
	if s.silenced || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.silenced = true
	s.mu.Unlock()

	if _, err := s.tr.Write([]byte(marker.PrimingScript)); err != nil {
		return fmt.Errorf("prime session: %w", err)
	}
	s.engine.clock.Sleep(s.engine.settleDelay)
	return nil
}

// Execute runs command on this session and blocks until the end marker
// arrives or the timeout elapses. A timed-out command is not an error: the
// result carries the partial output, a failing exit code and TimedOut, and
// the next command on this session will be preceded by an interrupt.
func (s *Session) Execute(command string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	reset := s.resetPending
	s.resetPending = false
	root := s.runAsRoot
	s.mu.Unlock()

	if reset {
		// The previous command timed out; the shell is likely stuck in
		// an unterminated construct. Interrupt before proceeding.
		if _, err := s.tr.Write([]byte{ctrlC}); err != nil {
			return nil, fmt.Errorf("send interrupt: %w", err)
		}
		s.engine.clock.Sleep(s.engine.settleDelay)
		slog.Debug("sent recovery interrupt", "session", s.id)
	}

	if err := s.Prime(); err != nil {
		return nil, err
	}

	cmd := command
	if root {
		cmd = sudoPrefix.ReplaceAllString(cmd, "$1")
	}

	pair := marker.NewPair(s.engine.markerPrefix, s.engine.rand)
	p := &pending{
		pair:    pair,
		command: cmd,
		buf:     termbuf.New(s.engine.bufLimit),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.active = p
	s.mu.Unlock()

	started := s.engine.clock.Now()
	slog.Debug("dispatching command", "session", s.id, "marker", pair.Start)

	if _, err := s.tr.Write([]byte(marker.Wrap(cmd, pair))); err != nil {
		s.clearActive(p)
		return nil, fmt.Errorf("write command: %w", err)
	}

	select {
	case <-p.done:
	case <-s.engine.clock.After(timeout):
		s.mu.Lock()
		s.resetPending = true
		s.mu.Unlock()

		ext := marker.Extract(p.buf.String(), pair, cmd)
		p.resolve(Result{
			Command:  cmd,
			Output:   ext.Output,
			ExitCode: -1,
			TimedOut: true,
		})
		<-p.done
		slog.Warn("command timed out", "session", s.id, "timeout", timeout)
	}

	s.clearActive(p)

	res := p.res
	res.Elapsed = s.engine.clock.Now().Sub(started)
	slog.Debug("command resolved",
		"session", s.id,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"elapsed", res.Elapsed)
	return &res, nil
}

func (s *Session) clearActive(p *pending) {
	s.mu.Lock()
	if s.active == p {
		s.active = nil
	}
	s.mu.Unlock()
}

// pump consumes the transport's output until the stream ends. It is the only
// goroutine that reads the Output channel or mutates the active command's
// accumulator.
func (s *Session) pump() {
	for chunk := range s.tr.Output() {
		s.consume(chunk)
	}
	s.teardown()
}

// consume routes one chunk: verify it belongs to this session's transport,
// append it, answer a live password prompt if one is waiting, and check for
// completion over the full accumulated buffer — never just the fragment,
// since markers straddle chunk boundaries.
func (s *Session) consume(chunk transport.Chunk) {
	if chunk.Source != s.tr {
		// Output from some other stream observed on a shared callback
		// path. Not ours; ignore rather than corrupt the capture.
		return
	}

	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		// Inter-command noise (MOTD tails, kernel messages). Dropped.
		return
	}

	p.buf.Append(chunk.Data)
	text := ansi.Strip(p.buf.String())

	if !p.passwordSent {
		if det := s.engine.detector.Detect(text); det != nil && det.Kind == prompt.KindPassword {
			s.answerPassword(p, det)
		}
	}

	ext := marker.Extract(text, p.pair, p.command)
	if ext.Complete {
		p.resolve(Result{
			Command:  p.command,
			Output:   ext.Output,
			ExitCode: ext.ExitCode,
		})
	}
}

// answerPassword writes the cached credential followed by a carriage return
// (PTYs expect CR, not LF) and marks the command so repeated detections of
// the same prompt text never resend.
func (s *Session) answerPassword(p *pending, det *prompt.Detection) {
	s.mu.Lock()
	cache := s.password
	s.mu.Unlock()
	if cache == nil {
		return
	}
	pw := cache.Get()
	if pw == nil {
		return
	}

	cred := append(pw, '\r')
	_, err := s.tr.Write(cred)
	security.WipeBytes(cred)
	security.WipeBytes(pw)
	if err != nil {
		slog.Warn("credential injection failed", "session", s.id, "error", err)
		return
	}

	p.passwordSent = true
	slog.Debug("answered password prompt", "session", s.id, "pattern", det.Pattern)
}

// teardown resolves any in-flight command as aborted and releases the
// session's credential. Idempotent.
func (s *Session) teardown() {
	s.mu.Lock()
	s.closed = true
	p := s.active
	s.active = nil
	cache := s.password
	s.password = nil
	s.mu.Unlock()

	if p != nil {
		ext := marker.Extract(p.buf.String(), p.pair, p.command)
		p.resolve(Result{
			Command:  p.command,
			Output:   ext.Output,
			ExitCode: -1,
		})
	}
	if cache != nil {
		cache.Clear()
	}
	s.closeOnce.Do(func() { close(s.done) })
}
