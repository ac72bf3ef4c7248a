// Package ports defines the interfaces behind which external dependencies
// sit (Ports and Adapters pattern), so the engine and the connect path can
// be tested with fakes.
package ports

import "time"

// Clock is the time source for command deadlines, settle pauses and
// credential expiry. Only the operations the engine actually schedules with
// are part of the port.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d.
	Sleep(d time.Duration)

	// After returns a channel delivering one value once d has elapsed.
	After(d time.Duration) <-chan time.Time
}
