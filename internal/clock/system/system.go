// Package system provides the wall clock used for crawl and log timestamps.
package system

import "time"

// Clock implements catalog.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// of a Postgres timestamptz, so stored crawl times compare equal on read-back.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
