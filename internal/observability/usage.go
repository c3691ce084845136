package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Usage is the resource consumption of the benchmark process.
type Usage struct {
	Wall       time.Duration `json:"wall_ns"`
	UserCPU    time.Duration `json:"user_cpu_ns"`
	SystemCPU  time.Duration `json:"system_cpu_ns"`
	RSS        uint64        `json:"rss_bytes"`
	ReadCount  uint64        `json:"read_count"`
	WriteCount uint64        `json:"write_count"`
	ReadBytes  uint64        `json:"read_bytes"`
	WriteBytes uint64        `json:"write_bytes"`
}

// UsageTracker samples the resource usage of the current process.
type UsageTracker struct {
	proc  *process.Process
	start time.Time
}

// NewUsageTracker starts tracking the current process.
func NewUsageTracker() (*UsageTracker, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	return &UsageTracker{proc: proc, start: time.Now()}, nil
}

// Snapshot returns the usage accumulated since the process started. Wall is
// measured from NewUsageTracker. Counters the platform cannot report are
// left zero.
func (u *UsageTracker) Snapshot(ctx context.Context) (*Usage, error) {
	usage := &Usage{Wall: time.Since(u.start)}

	times, err := u.proc.TimesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu times: %w", err)
	}
	usage.UserCPU = seconds(times.User)
	usage.SystemCPU = seconds(times.System)

	if mi, err := u.proc.MemoryInfoWithContext(ctx); err == nil {
		usage.RSS = mi.RSS
	}
	if counters, err := u.proc.IOCountersWithContext(ctx); err == nil {
		usage.ReadCount = counters.ReadCount
		usage.WriteCount = counters.WriteCount
		usage.ReadBytes = counters.ReadBytes
		usage.WriteBytes = counters.WriteBytes
	}
	return usage, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Write prints the usage report.
func (u *Usage) Write(w io.Writer) {
	fmt.Fprintf(w, "Process usage: %v wall, %v user, %v system, %s resident\n",
		u.Wall.Round(time.Millisecond), u.UserCPU.Round(time.Millisecond),
		u.SystemCPU.Round(time.Millisecond), HumanBytes(u.RSS))
	if u.ReadCount > 0 || u.WriteCount > 0 {
		fmt.Fprintf(w, "Process I/O:   %d reads (%s), %d writes (%s)\n",
			u.ReadCount, HumanBytes(u.ReadBytes), u.WriteCount, HumanBytes(u.WriteBytes))
	}
}
