// Package realclock backs the Clock port with the wall clock.
package realclock

import (
	"time"

	"github.com/marinerapp/mariner/internal/ports"
)

// Clock delegates to the time package.
type Clock struct{}

// New returns the wall-clock adapter.
func New() *Clock {
	return &Clock{}
}

func (c *Clock) Now() time.Time {
	return time.Now()
}

func (c *Clock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

var _ ports.Clock = (*Clock)(nil)
