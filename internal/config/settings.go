package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ubench/ubench/internal/buffer"
	ubencherrors "github.com/ubench/ubench/internal/errors"
	"github.com/ubench/ubench/internal/pattern"
)

// ProfileSpec describes the limits and defaults of a device class.
type ProfileSpec struct {
	Name Profile `json:"name"`

	// MaxBlockSize is the largest packet size and the write buffer capacity.
	// Benchmark sizes are rounded down to a multiple of it.
	MaxBlockSize int64 `json:"max_block_size"`

	DefaultSizeMB  int    `json:"default_size_mb"`
	DefaultPattern string `json:"default_pattern"`
}

// BlockUnitMB is the benchmark size granularity in MiB.
func (p ProfileSpec) BlockUnitMB() int {
	return int(p.MaxBlockSize >> 20)
}

var profiles = map[Profile]ProfileSpec{
	ProfileStandard: {
		Name:           ProfileStandard,
		MaxBlockSize:   8 << 20,
		DefaultSizeMB:  256,
		DefaultPattern: "51248abcdefghij",
	},
	ProfileEmbedded: {
		Name:           ProfileEmbedded,
		MaxBlockSize:   2 << 20,
		DefaultSizeMB:  16,
		DefaultPattern: "51248abcdefgh",
	},
}

// EmbeddedMemoryThreshold is the total RAM below which the auto profile
// selects the embedded device class.
const EmbeddedMemoryThreshold = 512 << 20

// LookupProfile returns the limits of a concrete profile. The auto profile
// resolves from the machine's total memory.
func LookupProfile(p Profile, totalMemory uint64) (ProfileSpec, error) {
	if p == ProfileAuto {
		if totalMemory > 0 && totalMemory < EmbeddedMemoryThreshold {
			return profiles[ProfileEmbedded], nil
		}
		return profiles[ProfileStandard], nil
	}
	prof, ok := profiles[p]
	if !ok {
		return ProfileSpec{}, invalidConfig(fmt.Sprintf("invalid profile: %s", p))
	}
	return prof, nil
}

// Capabilities are facts about the host detected before the benchmark file
// is opened.
type Capabilities struct {
	TotalMemory uint64
	RawClock    bool
}

// Settings is the immutable configuration the engine runs with. It is
// resolved once per run: Resolve fixes everything that can be known before
// the benchmark file exists and WithDirectIO fixes the cache-bypass
// strategy once the file has been opened.
type Settings struct {
	Profile     ProfileSpec   `json:"profile"`
	MountPoint  string        `json:"mount_point"`
	FilePath    string        `json:"file_path"`
	SizeMB      int           `json:"size_mb"`
	TargetSize  int64         `json:"target_size"`
	Pattern     string        `json:"pattern"`
	Requested   Bypass        `json:"requested_bypass"`
	Bypass      Bypass        `json:"bypass"`
	DirectIO    bool          `json:"direct_io"`
	SyncPerOp   bool          `json:"sync_per_write"`
	RawClock    bool          `json:"raw_clock"`
	SettleDelay time.Duration `json:"settle_delay"`
	Seed        []byte        `json:"-"`
	Format      Format        `json:"format"`
	FlushEvery  int64         `json:"fill_flush_every"`
}

// Resolve validates the configuration against the resolved profile and
// returns the run settings along with any warnings for the user. Nothing in
// Resolve touches the benchmark file.
func Resolve(cfg *Config, caps Capabilities) (*Settings, []string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	prof, err := LookupProfile(cfg.Profile, caps.TotalMemory)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string

	p := cfg.Pattern
	if p == "" {
		p = prof.DefaultPattern
	}
	if err := pattern.Validate(p, prof.MaxBlockSize); err != nil {
		return nil, nil, err
	}

	sizeMB := cfg.SizeMB
	if sizeMB == 0 {
		sizeMB = prof.DefaultSizeMB
	}
	unit := prof.BlockUnitMB()
	if rounded := sizeMB - sizeMB%unit; rounded != sizeMB {
		if rounded == 0 {
			return nil, nil, invalidSize(fmt.Sprintf("invalid benchmark size: %dMB (must be at least %dMB)", sizeMB, unit))
		}
		warnings = append(warnings, fmt.Sprintf("benchmark size %dMB is not a multiple of %dMB, rounded down to %dMB", sizeMB, unit, rounded))
		sizeMB = rounded
	}

	seed, err := cfg.SeedBytes()
	if err != nil {
		return nil, nil, err
	}

	return &Settings{
		Profile:     prof,
		MountPoint:  cfg.MountPoint,
		FilePath:    cfg.FilePath(),
		SizeMB:      sizeMB,
		TargetSize:  int64(sizeMB) << 20,
		Pattern:     p,
		Requested:   cfg.CacheBypass,
		Bypass:      cfg.CacheBypass,
		RawClock:    caps.RawClock,
		SettleDelay: cfg.SettleDelay,
		Seed:        seed,
		Format:      cfg.Format,
		FlushEvery:  int64(cfg.Fill.FlushEveryMB) << 20,
	}, warnings, nil
}

// WantDirectIO reports whether the benchmark file should be opened with
// direct I/O.
func (s *Settings) WantDirectIO() bool {
	return s.Requested != BypassAdvise
}

// WithDirectIO returns a copy of the settings with the cache-bypass
// strategy fixed by whether the benchmark file actually opened with direct
// I/O. Without direct I/O every write is datasynced and every read is
// preceded by a cache-drop advisory; with it a single datasync closes the
// write phase.
func (s *Settings) WithDirectIO(direct bool) *Settings {
	cp := *s
	cp.DirectIO = direct
	if direct {
		cp.Bypass = BypassDirect
		cp.SyncPerOp = false
	} else {
		cp.Bypass = BypassAdvise
		cp.SyncPerOp = true
	}
	return &cp
}

// SeedBytes decodes the configured entropy seed. An empty seed returns nil.
func (c *Config) SeedBytes() ([]byte, error) {
	if c.Seed == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.Seed)
	if err != nil {
		return nil, invalidConfig(fmt.Sprintf("invalid seed %q: %v", c.Seed, err))
	}
	if len(seed) != buffer.SeedSize {
		return nil, invalidConfig(fmt.Sprintf("invalid seed %q: must be %d bytes", c.Seed, buffer.SeedSize))
	}
	return seed, nil
}

func missingMountPoint() error {
	return ubencherrors.NewValidationError(ubencherrors.CodeMissingMountPoint, "missing mount point")
}

func pathTooLong(mountPoint string) error {
	return ubencherrors.NewValidationError(ubencherrors.CodePathTooLong,
		fmt.Sprintf("the mount point path provided is too long (%d bytes)", len(mountPoint)))
}

func invalidSize(message string) error {
	return ubencherrors.NewValidationError(ubencherrors.CodeInvalidSize, message)
}

func invalidConfig(message string) error {
	return ubencherrors.NewValidationError(ubencherrors.CodeInvalidConfig, message)
}
