package common

import "time"

// Clock abstracts wall-clock access so the projector, the validator, and the
// rate limiter's per-day counter take "now" from an injected source. (The
// limiter's per-minute bucket is golang.org/x/time/rate, which reads the wall
// clock itself.) Tests and backtests substitute a FixedClock; production wires
// RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual UTC wall-clock time.
type RealClock struct{}

// Now returns time.Now in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Useful for deterministic tests
// and for backtests that pin "now" to a historical as_of.
type FixedClock struct {
	At time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.At }
