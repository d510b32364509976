package clock

import "time"

// Clock provides wall time in a fixed location. Every timed rule in the
// core (day boundaries, reveal times, rapid-tap windows) reads time through
// this interface so tests can pin it.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock in the local timezone.
type System struct{}

// NewSystem creates a system clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current local time.
func (*System) Now() time.Time {
	return time.Now()
}
