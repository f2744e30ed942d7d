// Package system provides the wall clock used for job timestamps.
package system

import "time"

// Clock reports UTC time truncated to microseconds, the precision Postgres
// keeps for timestamptz columns, so in-memory and persisted jobs compare equal.
type Clock struct{}

// New returns a wall clock.
func New() *Clock {
	return &Clock{}
}

// Now implements crawler.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
