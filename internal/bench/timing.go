package bench

import "time"

// Resolution is the smallest elapsed time used for a throughput figure.
const Resolution = time.Microsecond

// Clock reads a monotonic time source. Readings are only meaningful
// relative to each other.
type Clock interface {
	Now() time.Duration
	// Raw reports whether the clock is immune to NTP rate adjustments.
	Raw() bool
}

// Elapsed returns the time between two clock readings. A reading that goes
// backwards yields zero.
func Elapsed(before, after time.Duration) time.Duration {
	if after < before {
		return 0
	}
	return after - before
}

// Rate is a throughput in bytes per second.
type Rate float64

// Throughput returns the rate of transferring n bytes in d. Durations below
// Resolution are treated as Resolution.
func Throughput(n int64, d time.Duration) Rate {
	if d < Resolution {
		d = Resolution
	}
	return Rate(float64(n) / d.Seconds())
}

// KiBps returns the rate in KiB per second.
func (r Rate) KiBps() float64 {
	return float64(r) / 1024
}

// MiBps returns the rate in MiB per second.
func (r Rate) MiBps() float64 {
	return float64(r) / (1024 * 1024)
}

// monoClock reads Go's monotonic clock, which follows NTP slewing.
type monoClock struct {
	start time.Time
}

func newMonoClock() *monoClock {
	return &monoClock{start: time.Now()}
}

func (c *monoClock) Now() time.Duration {
	return time.Since(c.start)
}

func (c *monoClock) Raw() bool {
	return false
}
