// Package security provides credential handling: an expiring in-memory
// cache, OS keyring persistence and byte wiping.
package security

import (
	"sync"
	"time"

	"github.com/marinerapp/mariner/internal/adapters/realclock"
	"github.com/marinerapp/mariner/internal/ports"
)

// DefaultPasswordTTL bounds how long a credential stays usable in memory.
const DefaultPasswordTTL = 5 * time.Minute

// SecureCache holds one credential with TTL expiry. Expired or cleared data
// is wiped, not merely dereferenced.
type SecureCache struct {
	mu        sync.Mutex
	data      []byte
	createdAt time.Time
	ttl       time.Duration
	cleared   bool
	clock     ports.Clock
}

// SecureCacheOption configures a SecureCache.
type SecureCacheOption func(*SecureCache)

// WithClock sets the clock used for expiry checks.
func WithClock(clock ports.Clock) SecureCacheOption {
	return func(sc *SecureCache) {
		sc.clock = clock
	}
}

// NewSecureCache copies data into a cache valid for ttl.
func NewSecureCache(data []byte, ttl time.Duration, opts ...SecureCacheOption) *SecureCache {
	cp := make([]byte, len(data))
	copy(cp, data)

	sc := &SecureCache{
		data:  cp,
		ttl:   ttl,
		clock: realclock.New(),
	}
	for _, opt := range opts {
		opt(sc)
	}
	sc.createdAt = sc.clock.Now()
	return sc
}

// Get returns a copy of the credential, or nil once expired or cleared.
func (sc *SecureCache) Get() []byte {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.cleared || sc.data == nil {
		return nil
	}
	if sc.clock.Now().Sub(sc.createdAt) > sc.ttl {
		sc.clear()
		return nil
	}

	out := make([]byte, len(sc.data))
	copy(out, sc.data)
	return out
}

// IsValid reports whether the cache still holds a usable credential.
func (sc *SecureCache) IsValid() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.cleared || sc.data == nil {
		return false
	}
	if sc.clock.Now().Sub(sc.createdAt) > sc.ttl {
		sc.clear()
		return false
	}
	return true
}

// ExpiresIn returns the remaining validity window.
func (sc *SecureCache) ExpiresIn() time.Duration {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.cleared || sc.data == nil {
		return 0
	}
	remaining := sc.ttl - sc.clock.Now().Sub(sc.createdAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear wipes and invalidates the credential.
func (sc *SecureCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.clear()
}

func (sc *SecureCache) clear() {
	if sc.data != nil {
		WipeBytes(sc.data)
		sc.data = nil
	}
	sc.cleared = true
}
