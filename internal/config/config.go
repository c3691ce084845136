// Package config provides configuration for ubench runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Profile selects the device class the benchmark is tuned for.
type Profile string

const (
	ProfileStandard Profile = "standard"
	ProfileEmbedded Profile = "embedded"
	ProfileAuto     Profile = "auto"
)

// Bypass selects how the benchmark keeps the page cache out of its numbers.
type Bypass string

const (
	// BypassAuto uses direct I/O when the filesystem accepts it and falls
	// back to cache-drop advisories otherwise.
	BypassAuto Bypass = "auto"
	// BypassDirect requires direct I/O.
	BypassDirect Bypass = "direct"
	// BypassAdvise uses buffered I/O with a per-write datasync and a
	// cache-drop advisory before every read.
	BypassAdvise Bypass = "advise"
)

// Format selects how results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// TestFileName is the name of the benchmark file inside the mount point.
const TestFileName = "~ubench.tmp"

// MaxPathLen bounds the full benchmark file path.
const MaxPathLen = 510

// Config holds the user-facing configuration for a benchmark run.
type Config struct {
	// MountPoint is the directory the benchmark file is created in
	MountPoint string `json:"mount_point" yaml:"mount_point"`

	// SizeMB is the benchmark size in MiB; 0 selects the profile default
	SizeMB int `json:"size_mb" yaml:"size_mb"`

	// Pattern is the packet size pattern; empty selects the profile default
	Pattern string `json:"pattern" yaml:"pattern"`

	// Profile is the device class: standard, embedded or auto
	Profile Profile `json:"profile" yaml:"profile"`

	// CacheBypass is the cache bypass strategy: auto, direct or advise
	CacheBypass Bypass `json:"cache_bypass" yaml:"cache_bypass"`

	// SettleDelay is the pause before every write and read phase
	SettleDelay time.Duration `json:"settle_delay" yaml:"settle_delay"`

	// Seed is a hex-encoded entropy seed; empty draws one from the system
	Seed string `json:"seed" yaml:"seed"`

	// Format is the result format: table or json
	Format Format `json:"format" yaml:"format"`

	// Fill configuration
	Fill FillConfig `json:"fill" yaml:"fill"`
}

// FillConfig holds benchmark file pre-sizing configuration.
type FillConfig struct {
	// FlushEveryMB is the number of MiB written between datasyncs
	FlushEveryMB int `json:"flush_every_mb" yaml:"flush_every_mb"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Profile:     ProfileStandard,
		CacheBypass: BypassAuto,
		SettleDelay: time.Second,
		Format:      FormatTable,
		Fill: FillConfig{
			FlushEveryMB: 4,
		},
	}
}

// FilePath returns the path of the benchmark file.
func (c *Config) FilePath() string {
	return filepath.Join(c.MountPoint, TestFileName)
}

// Validate validates the configuration. Pattern and size are checked
// against the resolved profile in Resolve.
func (c *Config) Validate() error {
	if c.MountPoint == "" {
		return missingMountPoint()
	}

	if len(c.MountPoint)+len(TestFileName)+1 > MaxPathLen {
		return pathTooLong(c.MountPoint)
	}

	switch c.Profile {
	case ProfileStandard, ProfileEmbedded, ProfileAuto:
	default:
		return invalidConfig(fmt.Sprintf("invalid profile: %s (must be standard, embedded, or auto)", c.Profile))
	}

	switch c.CacheBypass {
	case BypassAuto, BypassDirect, BypassAdvise:
	default:
		return invalidConfig(fmt.Sprintf("invalid cache_bypass: %s (must be auto, direct, or advise)", c.CacheBypass))
	}

	switch c.Format {
	case FormatTable, FormatJSON:
	default:
		return invalidConfig(fmt.Sprintf("invalid format: %s (must be table or json)", c.Format))
	}

	if c.SizeMB < 0 {
		return invalidSize(fmt.Sprintf("invalid benchmark size: %d", c.SizeMB))
	}

	if c.SettleDelay < 0 {
		return invalidConfig(fmt.Sprintf("settle_delay must not be negative, got %v", c.SettleDelay))
	}

	if c.Fill.FlushEveryMB <= 0 {
		return invalidConfig(fmt.Sprintf("fill.flush_every_mb must be positive, got %d", c.Fill.FlushEveryMB))
	}

	if _, err := c.SeedBytes(); err != nil {
		return err
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the UBENCH_ prefix.
func LoadFromEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv)
}

// LoadEnvFile applies UBENCH_ variables from a dotenv file. Variables in
// the process environment are applied afterwards by LoadFromEnv and win.
func LoadEnvFile(cfg *Config, path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}
	applyEnv(cfg, func(key string) string { return vars[key] })
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("UBENCH_MOUNT_POINT"); v != "" {
		cfg.MountPoint = v
	}
	if v := getenv("UBENCH_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SizeMB = n
		}
	}
	if v := getenv("UBENCH_PATTERN"); v != "" {
		cfg.Pattern = v
	}
	if v := getenv("UBENCH_PROFILE"); v != "" {
		cfg.Profile = Profile(v)
	}
	if v := getenv("UBENCH_CACHE_BYPASS"); v != "" {
		cfg.CacheBypass = Bypass(v)
	}
	if v := getenv("UBENCH_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SettleDelay = d
		}
	}
	if v := getenv("UBENCH_SEED"); v != "" {
		cfg.Seed = v
	}
	if v := getenv("UBENCH_FORMAT"); v != "" {
		cfg.Format = Format(v)
	}
	if v := getenv("UBENCH_FILL_FLUSH_EVERY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fill.FlushEveryMB = n
		}
	}
}
