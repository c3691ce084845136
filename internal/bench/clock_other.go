//go:build !linux

package bench

// NewClock returns Go's monotonic clock.
func NewClock() Clock {
	return newMonoClock()
}
