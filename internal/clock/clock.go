// Package clock abstracts wall time so rate windows and poll loops can be driven in tests.
package clock

import "time"

// Clock reports the current time and produces timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the real clock.
type System struct{}

// Now returns the current time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// After waits for d to elapse and then sends the current time.
func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
