package dfu

import "time"

// SystemClock derives the monotonic microsecond counter from the Go
// runtime's monotonic clock. Hosted deployments use this; on-target builds
// substitute a hardware counter, and tests inject a ManualClock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock counting microseconds from now
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now implements the Clock capability
func (c *SystemClock) Now() uint64 {
	return uint64(time.Since(c.start).Microseconds())
}
