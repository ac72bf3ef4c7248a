// Package admin manages the hidden administrative channel: a second shell
// connection, invisible to the user-facing terminal, driven by its own
// command engine.
//
// The manager owns the connection lifecycle — spawn, authentication
// handshake, readiness detection, teardown — and hands the transport to a
// dedicated engine once the remote shell is usable. Commands on the admin
// channel use their own marker prefix so the two engines can never confuse
// each other's output.
package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marinerapp/mariner/internal/adapters/realclock"
	"github.com/marinerapp/mariner/internal/ansi"
	"github.com/marinerapp/mariner/internal/engine"
	"github.com/marinerapp/mariner/internal/ports"
	"github.com/marinerapp/mariner/internal/prompt"
	"github.com/marinerapp/mariner/internal/termbuf"
	"github.com/marinerapp/mariner/internal/transport"
	"github.com/marinerapp/mariner/internal/transport/ptytransport"
)

// State is the connection lifecycle state. Transitions are strictly linear:
// disconnected → connecting → connected → disconnected, with error reachable
// only from connecting. Reconnecting from connected requires an explicit
// disconnect first.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Typed connect failures. Authentication and host-key-changed are fatal for
// the attempt and must not be retried blindly; callers wanting retry wrap
// Connect themselves.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrHostKeyChanged       = errors.New("remote host key changed")
	ErrConnectTimeout       = errors.New("connect timed out with no shell output")
	ErrAlreadyConnected     = errors.New("already connected or connecting")
	ErrNotConnected         = errors.New("not connected")
)

// ConnectionInfo identifies the remote endpoint.
type ConnectionInfo struct {
	Host    string
	Port    int // default 22
	User    string
	KeyPath string
}

// Spawner opens the raw transport for a connection attempt. The default
// spawner runs the ssh binary under a local PTY, so host-key questions and
// password prompts arrive in-stream exactly as they would for a human.
type Spawner func(info ConnectionInfo) (transport.Transport, error)

const (
	defaultConnectTimeout = 20 * time.Second

	// bannerSettle is the extra wait after a login banner before
	// re-checking for a shell prompt.
	bannerSettle = 500 * time.Millisecond

	// authSettle gives authentication time to complete after the
	// credential is injected.
	authSettle = 300 * time.Millisecond

	// minOptimisticBytes is how much accumulated output it takes to
	// accept a connection whose prompt never matched the heuristics.
	minOptimisticBytes = 64
)

var authFailureSignatures = []string{
	"permission denied",
	"authentication failed",
	"too many authentication failures",
}

var hostKeyChangedSignatures = []string{
	"remote host identification has changed",
	"host key verification failed",
}

var bannerSignatures = []string{
	"last login",
	"welcome to",
}

// Manager owns one hidden admin connection.
type Manager struct {
	spawn          Spawner
	clock          ports.Clock
	engine         *engine.Engine
	detector       *prompt.Detector
	connectTimeout time.Duration
	sessionSeq     int

	mu      sync.Mutex
	state   State
	lastErr error
	tr      transport.Transport
	session *engine.Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSpawner injects the transport factory.
func WithSpawner(s Spawner) ManagerOption {
	return func(m *Manager) { m.spawn = s }
}

// WithManagerClock injects the time source for handshake deadlines.
func WithManagerClock(c ports.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithEngine injects the command engine the connected session attaches to.
func WithEngine(e *engine.Engine) ManagerOption {
	return func(m *Manager) { m.engine = e }
}

// WithConnectTimeout bounds the authentication handshake.
func WithConnectTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.connectTimeout = d }
}

// NewManager creates a disconnected manager. Without options it spawns the
// system ssh client and drives it with a fresh admin-prefixed engine.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		spawn:          spawnSSH,
		clock:          realclock.New(),
		detector:       prompt.NewDetector(),
		connectTimeout: defaultConnectTimeout,
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		m.engine = engine.New(engine.WithMarkerPrefix(engine.AdminMarkerPrefix))
	}
	return m
}

// State returns the lifecycle state and, in the error state, the failure.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// Connect spawns the transport and runs the authentication handshake:
// answer a first-time host-key question, inject the credential once, fail
// fast on authentication or host-key-changed phrases, and wait for the
// remote shell to look ready. On success the session is primed and Execute
// becomes available.
func (m *Manager) Connect(info ConnectionInfo, credential []byte) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.state = StateConnecting
	m.lastErr = nil
	m.mu.Unlock()

	slog.Debug("admin connect starting", "host", info.Host, "user", info.User)

	tr, err := m.spawn(info)
	if err != nil {
		return m.fail(nil, fmt.Errorf("spawn transport: %w", err))
	}

	if err := m.handshake(tr, credential); err != nil {
		return m.fail(tr, err)
	}

	m.sessionSeq++
	id := "admin-" + strconv.Itoa(m.sessionSeq)
	session, err := m.engine.Attach(id, tr)
	if err != nil {
		return m.fail(tr, err)
	}
	if len(credential) > 0 {
		session.SetPassword(credential)
	}
	if info.User == "root" {
		session.SetRunAsRoot(true)
	}
	if err := session.Prime(); err != nil {
		m.engine.Detach(id)
		return m.fail(tr, err)
	}

	m.mu.Lock()
	m.state = StateConnected
	m.tr = tr
	m.session = session
	m.mu.Unlock()

	slog.Info("admin channel connected", "host", info.Host, "user", info.User)
	return nil
}

// handshake reads the transport's output directly until the shell looks
// ready. Ownership of the Output channel passes to the engine afterwards;
// during the handshake the manager is its only reader.
func (m *Manager) handshake(tr transport.Transport, credential []byte) error {
	buf := termbuf.New(0)
	deadline := m.clock.After(m.connectTimeout)
	out := tr.Output()

	passwordSent := false
	hostKeyAnswered := false
	var bannerRecheck <-chan time.Time

	// classify absorbs one chunk and applies the failure and readiness
	// checks. ready reports a usable shell; a non-nil error is fatal for
	// the attempt.
	classify := func(chunk transport.Chunk) (ready bool, err error) {
		if chunk.Source != tr {
			return false, nil
		}
		buf.Append(chunk.Data)
		clean := ansi.Strip(buf.String())
		lower := strings.ToLower(clean)

		for _, sig := range authFailureSignatures {
			if strings.Contains(lower, sig) {
				return false, fmt.Errorf("%w: %s", ErrAuthenticationFailed, sig)
			}
		}
		for _, sig := range hostKeyChangedSignatures {
			if strings.Contains(lower, sig) {
				return false, ErrHostKeyChanged
			}
		}

		if det := m.detector.Detect(clean); det != nil {
			switch det.Kind {
			case prompt.KindHostKey:
				if !hostKeyAnswered {
					if _, err := tr.Write([]byte(det.Response + "\r")); err != nil {
						return false, fmt.Errorf("answer host key prompt: %w", err)
					}
					hostKeyAnswered = true
					slog.Debug("accepted first-time host key")
				}
				return false, nil
			case prompt.KindPassword:
				if !passwordSent && len(credential) > 0 {
					cred := make([]byte, 0, len(credential)+1)
					cred = append(cred, credential...)
					cred = append(cred, '\r')
					if _, err := tr.Write(cred); err != nil {
						return false, fmt.Errorf("send credential: %w", err)
					}
					passwordSent = true
					m.clock.Sleep(authSettle)
					slog.Debug("credential sent")
				}
				return false, nil
			}
		}

		if shellReady(clean) {
			return true, nil
		}
		if bannerRecheck == nil && containsAny(lower, bannerSignatures) {
			// Banners often end without a prompt on the same chunk;
			// look again shortly.
			bannerRecheck = m.clock.After(bannerSettle)
		}
		return false, nil
	}

	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return errors.New("connection closed during handshake")
			}
			ready, err := classify(chunk)
			if err != nil {
				return err
			}
			if ready {
				return nil
			}

		case <-bannerRecheck:
			bannerRecheck = nil
			if shellReady(ansi.Strip(buf.String())) {
				return nil
			}

		case <-deadline:
			// The credential settle sleep can carry past the deadline
			// while the server's verdict is already queued on the
			// output channel. Classify everything delivered so far
			// before declaring a verdict: a buffered auth failure must
			// win over both the timeout and the optimistic accept.
			for drained := false; !drained; {
				select {
				case chunk, ok := <-out:
					if !ok {
						return errors.New("connection closed during handshake")
					}
					ready, err := classify(chunk)
					if err != nil {
						return err
					}
					if ready {
						return nil
					}
				default:
					drained = true
				}
			}
			if buf.Len() >= minOptimisticBytes {
				// Non-standard prompt but plenty of output:
				// optimistically accept rather than fail a likely
				// healthy shell.
				slog.Debug("accepting connection optimistically", "buffered", buf.Len())
				return nil
			}
			return ErrConnectTimeout
		}
	}
}

// Execute runs a command on the connected admin session.
func (m *Manager) Execute(command string, timeout time.Duration) (*engine.Result, error) {
	m.mu.Lock()
	session := m.session
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || session == nil {
		return nil, ErrNotConnected
	}
	return session.Execute(command, timeout)
}

// Disconnect tears down the transport and releases all session state.
// Safe to call in any state.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	tr := m.tr
	session := m.session
	m.tr = nil
	m.session = nil
	m.state = StateDisconnected
	m.lastErr = nil
	m.mu.Unlock()

	if session != nil {
		m.engine.Detach(session.ID())
	}
	if tr != nil {
		return tr.Close()
	}
	return nil
}

func (m *Manager) fail(tr transport.Transport, err error) error {
	if tr != nil {
		tr.Close()
	}
	m.mu.Lock()
	m.state = StateError
	m.lastErr = err
	m.mu.Unlock()

	slog.Warn("admin connect failed", "error", err)
	return err
}

// shellReady reports whether the cleaned buffer's last non-blank line ends
// with a conventional prompt terminator.
func shellReady(clean string) bool {
	lines := strings.Split(clean, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return strings.HasSuffix(line, "$") || strings.HasSuffix(line, "#") || strings.HasSuffix(line, ">")
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// spawnSSH runs the system ssh client under a local PTY. No options are
// passed to suppress host-key interaction: the handshake handles the
// question in-stream.
func spawnSSH(info ConnectionInfo) (transport.Transport, error) {
	port := info.Port
	if port == 0 {
		port = 22
	}
	args := []string{"-tt", "-p", strconv.Itoa(port)}
	if info.KeyPath != "" {
		args = append(args, "-i", info.KeyPath)
	}
	args = append(args, fmt.Sprintf("%s@%s", info.User, info.Host))

	return ptytransport.Start(ptytransport.Options{
		Command: "ssh",
		Args:    args,
	})
}
