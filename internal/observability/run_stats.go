package observability

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// RunStats collects the throughput of every completed phase so the run can
// be summarized once it ends.
type RunStats struct {
	mu    sync.RWMutex
	rates map[string][]PhaseStat // direction → samples in completion order
}

// PhaseStat is the throughput of one phase.
type PhaseStat struct {
	Symbol      string
	PacketSize  int64
	BytesPerSec float64
}

// NewRunStats creates an empty collector.
func NewRunStats() *RunStats {
	return &RunStats{
		rates: make(map[string][]PhaseStat),
	}
}

// Record adds a phase result. direction is "write" or "read".
// This method is thread-safe.
func (s *RunStats) Record(direction, symbol string, packetSize int64, bytesPerSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rates[direction] = append(s.rates[direction], PhaseStat{
		Symbol:      symbol,
		PacketSize:  packetSize,
		BytesPerSec: bytesPerSec,
	})
}

// Top returns the n fastest phases of a direction, fastest first. Ties keep
// completion order. The result is a copy.
func (s *RunStats) Top(direction string, n int) []PhaseStat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.rates[direction]
	if n <= 0 || len(samples) == 0 {
		return []PhaseStat{}
	}

	stats := make([]PhaseStat, len(samples))
	copy(stats, samples)
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].BytesPerSec > stats[j].BytesPerSec
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Count returns the number of recorded phases of a direction.
func (s *RunStats) Count(direction string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rates[direction])
}

// WriteSummary prints the peak throughput of each direction.
func (s *RunStats) WriteSummary(w io.Writer) {
	for _, dir := range []string{"write", "read"} {
		top := s.Top(dir, 1)
		if len(top) == 0 {
			continue
		}
		fmt.Fprintf(w, "Peak %-5s %10.0f KiB/s at %s\n", dir+":", top[0].BytesPerSec/1024, packetLabel(top[0].PacketSize))
	}
}

func packetLabel(size int64) string {
	if size < 1024 {
		return fmt.Sprintf("%d B packets", size)
	}
	return fmt.Sprintf("%d KiB packets", size/1024)
}
