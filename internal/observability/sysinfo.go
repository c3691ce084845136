// Package observability reports the host, filesystem and process facts that
// accompany benchmark results.
package observability

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// SystemInfo describes the machine and the filesystem under test.
type SystemInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`

	// Filesystem holding the benchmark file
	FSType     string `json:"fs_type"`
	Device     string `json:"device"`
	MountPoint string `json:"mount_point"`
	MountOpts  string `json:"mount_opts"`
	Total      uint64 `json:"total_bytes"`
	Free       uint64 `json:"free_bytes"`

	TotalMemory uint64 `json:"total_memory"`
}

// CollectSystemInfo gathers what it can about the host and the filesystem
// containing path. Individual probes that fail are logged and left empty;
// none of them is needed to run the benchmark.
func CollectSystemInfo(ctx context.Context, path string) *SystemInfo {
	info := &SystemInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if h, err := host.InfoWithContext(ctx); err != nil {
		log.Printf("observability: host info unavailable: %v", err)
	} else {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
	}

	if u, err := disk.UsageWithContext(ctx, path); err != nil {
		log.Printf("observability: disk usage unavailable for %s: %v", path, err)
	} else {
		info.FSType = u.Fstype
		info.Total = u.Total
		info.Free = u.Free
	}

	if parts, err := disk.PartitionsWithContext(ctx, true); err != nil {
		log.Printf("observability: partitions unavailable: %v", err)
	} else if p, ok := FindPartition(parts, path); ok {
		info.Device = p.Device
		info.MountPoint = p.Mountpoint
		info.MountOpts = p.Opts
		if info.FSType == "" {
			info.FSType = p.Fstype
		}
	}

	info.TotalMemory = TotalMemory(ctx)
	return info
}

// TotalMemory returns the installed RAM in bytes, or 0 if it cannot be read.
func TotalMemory(ctx context.Context) uint64 {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Printf("observability: memory info unavailable: %v", err)
		return 0
	}
	return vm.Total
}

// FindPartition returns the partition whose mount point is the longest
// prefix of path.
func FindPartition(parts []disk.PartitionStat, path string) (disk.PartitionStat, bool) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)

	var best disk.PartitionStat
	found := false
	for _, p := range parts {
		mp := filepath.Clean(p.Mountpoint)
		if !within(path, mp) {
			continue
		}
		if !found || len(mp) > len(filepath.Clean(best.Mountpoint)) {
			best = p
			found = true
		}
	}
	return best, found
}

func within(path, dir string) bool {
	if dir == string(filepath.Separator) || path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// Write prints the system report.
func (s *SystemInfo) Write(w io.Writer) {
	system := s.OS
	if s.Platform != "" {
		system = strings.TrimSpace(fmt.Sprintf("%s %s %s", s.OS, s.Platform, s.PlatformVersion))
	}
	if s.KernelVersion != "" {
		fmt.Fprintf(w, "System:     %s (kernel %s, %s)\n", system, s.KernelVersion, s.Arch)
	} else {
		fmt.Fprintf(w, "System:     %s (%s)\n", system, s.Arch)
	}

	if s.FSType != "" || s.Device != "" {
		fs := orUnknown(s.FSType)
		if s.Device != "" {
			fs += " on " + s.Device
		}
		if s.MountPoint != "" {
			fs += " mounted at " + s.MountPoint
		}
		if s.MountOpts != "" {
			fs += " (" + s.MountOpts + ")"
		}
		fmt.Fprintf(w, "Filesystem: %s\n", fs)
	}
	if s.Total > 0 {
		fmt.Fprintf(w, "Capacity:   %s total, %s free\n", HumanBytes(s.Total), HumanBytes(s.Free))
	}
	if s.TotalMemory > 0 {
		fmt.Fprintf(w, "Memory:     %s\n", HumanBytes(s.TotalMemory))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// HumanBytes renders a byte count with a binary unit.
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
