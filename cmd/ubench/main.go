// Package main implements the ubench binary, a sequential read/write
// throughput benchmark for a mounted volume.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/ubench/ubench/internal/app"
	"github.com/ubench/ubench/internal/config"
	ubencherrors "github.com/ubench/ubench/internal/errors"
	"github.com/ubench/ubench/internal/observability"
	"github.com/ubench/ubench/internal/pattern"
)

var (
	version = "r2b0"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flagValues holds the command line options. Only flags the user set
// override the configuration.
type flagValues struct {
	configFile  string
	envFile     string
	mountPoint  string
	sizeMB      int
	pattern     string
	profile     string
	bypass      string
	settle      time.Duration
	seed        string
	format      string
	showVersion bool
	showHelp    bool

	set map[string]bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ubench", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var fv flagValues
	fs.StringVar(&fv.mountPoint, "p", "", "Mount point of the volume to benchmark (required)")
	fs.IntVar(&fv.sizeMB, "s", 0, "Benchmark size in MB, a multiple of the profile block size")
	fs.StringVar(&fv.pattern, "a", "", "Packet size pattern")
	fs.BoolVar(&fv.showHelp, "h", false, "Show help message")
	fs.StringVar(&fv.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&fv.envFile, "env-file", "", "Path to a dotenv file with UBENCH_* variables")
	fs.StringVar(&fv.profile, "profile", "", "Device profile: standard, embedded, auto")
	fs.StringVar(&fv.bypass, "bypass", "", "Cache bypass strategy: auto, direct, advise")
	fs.DurationVar(&fv.settle, "settle", 0, "Pause before every write and read phase")
	fs.StringVar(&fv.seed, "seed", "", "Hex-encoded 4-byte data seed (default: random)")
	fs.StringVar(&fv.format, "format", "", "Result format: table, json")
	fs.BoolVar(&fv.showVersion, "version", false, "Show version information")

	fs.Usage = func() { printUsage(fs, stderr, config.ProfileStandard) }

	// Parse reports its own errors and prints the usage.
	if err := fs.Parse(args); err != nil {
		return int(syscall.EINVAL)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "Unexpected argument %q.\n\n", fs.Arg(0))
		fs.Usage()
		return int(syscall.EINVAL)
	}
	fv.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { fv.set[f.Name] = true })

	if fv.showVersion {
		fmt.Fprintf(stdout, "ubench version %s (commit: %s)\n", version, commit)
		return 0
	}

	cfg, err := loadConfig(fv)
	if err != nil {
		if ubencherrors.GetCode(err) == ubencherrors.CodeInvalidConfig {
			fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
			return ubencherrors.ExitCode(err)
		}
		return usageError(fs, stderr, config.ProfileStandard, err)
	}

	if fv.showHelp {
		printUsage(fs, stderr, cfg.Profile)
		return int(syscall.EINVAL)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, app.Options{
		Version: version,
		Stdout:  stdout,
		Stderr:  stderr,
		OnForce: func() { os.Exit(int(syscall.EINTR)) },
	})
	if err != nil {
		return usageError(fs, stderr, cfg.Profile, err)
	}

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return ubencherrors.ExitCode(err)
	}
	return 0
}

// loadConfig loads configuration from file, env file, environment, and
// command line flags, in increasing priority.
func loadConfig(fv flagValues) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if fv.configFile != "" {
		cfg, err = config.LoadFromFile(fv.configFile)
		if err != nil {
			return nil, invalidConfig(err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if fv.envFile != "" {
		if err := config.LoadEnvFile(cfg, fv.envFile); err != nil {
			return nil, invalidConfig(err)
		}
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if fv.set["p"] {
		cfg.MountPoint = fv.mountPoint
	}
	if fv.set["s"] {
		if fv.sizeMB <= 0 {
			return nil, ubencherrors.NewValidationError(ubencherrors.CodeInvalidSize,
				fmt.Sprintf("invalid benchmark size: %d", fv.sizeMB))
		}
		cfg.SizeMB = fv.sizeMB
	}
	if fv.set["a"] {
		cfg.Pattern = fv.pattern
	}
	if fv.set["profile"] {
		cfg.Profile = config.Profile(fv.profile)
	}
	if fv.set["bypass"] {
		cfg.CacheBypass = config.Bypass(fv.bypass)
	}
	if fv.set["settle"] {
		cfg.SettleDelay = fv.settle
	}
	if fv.set["seed"] {
		cfg.Seed = fv.seed
	}
	if fv.set["format"] {
		cfg.Format = config.Format(fv.format)
	}

	return cfg, nil
}

// usageError reports err and, for invalid input other than an over-long
// path, follows it with the usage text.
func usageError(fs *flag.FlagSet, stderr io.Writer, profile config.Profile, err error) int {
	fmt.Fprintf(stderr, "%v\n", err)
	if ubencherrors.GetCategory(err) == ubencherrors.ErrCategoryValidation &&
		ubencherrors.GetCode(err) != ubencherrors.CodePathTooLong {
		fmt.Fprintln(stderr)
		printUsage(fs, stderr, profile)
	}
	return ubencherrors.ExitCode(err)
}

func invalidConfig(err error) error {
	return ubencherrors.Wrap(ubencherrors.ErrCategoryValidation, ubencherrors.CodeInvalidConfig,
		"failed to load configuration", err)
}

// printUsage prints the help text with the symbol legend and defaults of
// the given profile.
func printUsage(fs *flag.FlagSet, w io.Writer, profile config.Profile) {
	prof, err := config.LookupProfile(profile, observability.TotalMemory(context.Background()))
	if err != nil {
		prof, _ = config.LookupProfile(config.ProfileStandard, 0)
	}

	fmt.Fprintf(w, "ubench: A Simple Storage Device Benchmark Tool\n")
	fmt.Fprintf(w, "(That operates on the top of a file system)\n")
	if prof.Name == config.ProfileEmbedded {
		fmt.Fprintf(w, "Version %s for embedded devices\n\n", version)
	} else {
		fmt.Fprintf(w, "Version %s\n\n", version)
	}
	fmt.Fprintf(w, "Usage: ubench -p mount_point [-s benchmark_size] [-a packet_size_pattern] [options]\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nBenchmark size is measured in MBytes and should be a multiple of %d (MBytes).\n", prof.BlockUnitMB())
	fmt.Fprintf(w, "Packet size pattern symbols:\n%s\n", pattern.Describe(prof.MaxBlockSize))
	fmt.Fprintf(w, "For example, '-a 548dgg' means a 0.5KB-4KB-8KB-128KB-1MB-1MB packet size sequence.\n")
	fmt.Fprintf(w, "For the letters, only those in lower case are accepted.\n\n")
	fmt.Fprintf(w, "Benchmark file name is hard-coded as '%s'.\n", config.TestFileName)
	fmt.Fprintf(w, "Default benchmark size      : %dMB\n", prof.DefaultSizeMB)
	fmt.Fprintf(w, "Default packet size pattern : %s\n", prof.DefaultPattern)
	fmt.Fprintf(w, "\nEnvironment Variables:\n")
	fmt.Fprintf(w, "  UBENCH_MOUNT_POINT          Mount point of the volume to benchmark\n")
	fmt.Fprintf(w, "  UBENCH_SIZE_MB              Benchmark size in MB\n")
	fmt.Fprintf(w, "  UBENCH_PATTERN              Packet size pattern\n")
	fmt.Fprintf(w, "  UBENCH_PROFILE              Device profile\n")
	fmt.Fprintf(w, "  UBENCH_CACHE_BYPASS         Cache bypass strategy\n")
	fmt.Fprintf(w, "  UBENCH_SETTLE_DELAY         Pause before every phase\n")
	fmt.Fprintf(w, "  UBENCH_SEED                 Hex-encoded data seed\n")
	fmt.Fprintf(w, "  UBENCH_FORMAT               Result format\n")
	fmt.Fprintf(w, "  UBENCH_FILL_FLUSH_EVERY_MB  MB written between syncs while filling\n")
}
