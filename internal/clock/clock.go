// Package clock abstracts wall-clock time so scan timestamps and the daemon's
// sleep phase can be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current time and interval timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// After wraps time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
