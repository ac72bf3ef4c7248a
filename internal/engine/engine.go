// Package engine executes discrete commands over shared terminal streams
// and extracts structured results.
//
// One Engine owns many sessions; each session binds exactly one transport.
// Commands on a session are strictly serialized: a submission waits for the
// previous command to resolve before its bytes touch the wire. Completion is
// event-driven — the session's pump goroutine consumes transport chunks,
// feeds the active command's accumulator and resolves the waiting caller the
// moment the end marker lands. There is no polling loop.
//
// The application instantiates two engines with different marker prefixes:
// one for user-visible terminals, one for the hidden admin channel. They are
// the same machinery end to end.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marinerapp/mariner/internal/adapters/realclock"
	"github.com/marinerapp/mariner/internal/adapters/realrand"
	"github.com/marinerapp/mariner/internal/ports"
	"github.com/marinerapp/mariner/internal/prompt"
	"github.com/marinerapp/mariner/internal/transport"
)

const (
	// DefaultMarkerPrefix tags commands on user-visible sessions.
	DefaultMarkerPrefix = "__MARINER_TERM_"

	// AdminMarkerPrefix tags commands on the hidden admin channel, so the
	// two engines can never mistake each other's sentinels.
	AdminMarkerPrefix = "__MARINER_ADMIN_"

	// DefaultCommandTimeout applies when the caller passes no timeout.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultSettleDelay follows session priming, giving the shell time
	// to apply stty/PS1 changes before the first real command.
	DefaultSettleDelay = 300 * time.Millisecond
)

// ErrSessionClosed is returned for submissions after a session's transport
// ended or the session was detached.
var ErrSessionClosed = errors.New("session closed")

// ErrSessionLimit is returned by Attach once the configured session cap is
// reached. Detaching a session frees its slot.
var ErrSessionLimit = errors.New("session limit reached")

// Engine creates and tracks sessions sharing one marker prefix.
type Engine struct {
	markerPrefix string
	clock        ports.Clock
	rand         ports.Random
	detector     *prompt.Detector
	bufLimit     int
	settleDelay  time.Duration
	passwordTTL  time.Duration
	maxSessions  int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithMarkerPrefix sets the sentinel prefix for all sessions of this engine.
func WithMarkerPrefix(prefix string) Option {
	return func(e *Engine) { e.markerPrefix = prefix }
}

// WithClock injects the time source.
func WithClock(clock ports.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithRandom injects the randomness source for marker generation.
func WithRandom(rnd ports.Random) Option {
	return func(e *Engine) { e.rand = rnd }
}

// WithBufferLimit caps each command's retained output bytes.
func WithBufferLimit(limit int) Option {
	return func(e *Engine) { e.bufLimit = limit }
}

// WithSettleDelay sets the pause after session priming.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) { e.settleDelay = d }
}

// WithPasswordTTL bounds how long a session keeps its credential in memory.
func WithPasswordTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.passwordTTL = ttl }
}

// WithMaxSessions caps how many sessions may be attached at once.
// Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(e *Engine) { e.maxSessions = n }
}

// New creates an engine with the visible-terminal defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		markerPrefix: DefaultMarkerPrefix,
		clock:        realclock.New(),
		rand:         realrand.New(),
		detector:     prompt.NewDetector(),
		settleDelay:  DefaultSettleDelay,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Detector exposes the prompt detector so callers can register custom
// patterns from configuration.
func (e *Engine) Detector() *prompt.Detector {
	return e.detector
}

// Attach binds a transport to a new session and starts consuming its output.
// The engine takes over the transport's Output channel from this point; no
// one else may read it. Attach fails once the configured session cap is
// reached.
func (e *Engine) Attach(id string, tr transport.Transport) (*Session, error) {
	e.mu.Lock()
	if e.maxSessions > 0 && len(e.sessions) >= e.maxSessions {
		n := len(e.sessions)
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d active", ErrSessionLimit, n)
	}
	s := newSession(id, e, tr)
	e.sessions[id] = s
	e.mu.Unlock()

	go s.pump()
	return s, nil
}

// Session returns the session with the given id, if attached.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Detach releases all state held for a session: its credential cache, any
// in-flight command (resolved as aborted) and its queue slot. The transport
// itself belongs to the caller and is not closed here.
func (e *Engine) Detach(id string) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()

	if ok {
		s.teardown()
	}
}

// ClearSessionCache drops a session's cached credential without detaching.
func (e *Engine) ClearSessionCache(id string) {
	if s, ok := e.Session(id); ok {
		s.ClearPassword()
	}
}
