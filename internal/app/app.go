// Package app runs one benchmark session: it owns the benchmark file and
// buffers for the duration of a run and guarantees the file is removed on
// every exit path.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/ubench/ubench/internal/bench"
	"github.com/ubench/ubench/internal/buffer"
	"github.com/ubench/ubench/internal/config"
	ubencherrors "github.com/ubench/ubench/internal/errors"
	"github.com/ubench/ubench/internal/observability"
	"github.com/ubench/ubench/internal/pattern"
	"github.com/ubench/ubench/internal/shutdown"
	"github.com/ubench/ubench/internal/storage"
)

// Options carry the collaborators of a session. Zero values select the
// production defaults.
type Options struct {
	Version string

	Stdout io.Writer
	Stderr io.Writer

	// Entropy is the seed source when no seed is configured.
	// Default: crypto/rand
	Entropy io.Reader

	// Capabilities overrides host detection.
	Capabilities *config.Capabilities

	// Clock times the benchmark phases.
	// Default: bench.NewClock()
	Clock bench.Clock

	// OnForce is called when a second signal arrives, after cleanup.
	OnForce func()
}

// App manages the lifecycle of one benchmark run.
type App struct {
	cfg      *config.Config
	opts     Options
	settings *config.Settings
	warnings []string
	runID    string

	// Session resources
	file     *storage.BenchFile
	bufs     *buffer.Set
	shutdown *shutdown.Manager
	stats    *observability.RunStats
	sysinfo  *observability.SystemInfo

	// Lifecycle
	mu      sync.Mutex
	running bool
	results []bench.Result
}

// New validates the configuration and resolves the run settings. It does
// not touch the benchmark file.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Clock == nil {
		opts.Clock = bench.NewClock()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var caps config.Capabilities
	if opts.Capabilities != nil {
		caps = *opts.Capabilities
	} else {
		caps = config.Capabilities{
			TotalMemory: observability.TotalMemory(ctx),
			RawClock:    opts.Clock.Raw(),
		}
	}

	settings, warnings, err := config.Resolve(cfg, caps)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Printf("config: %s", w)
	}

	return &App{
		cfg:      cfg,
		opts:     opts,
		settings: settings,
		warnings: warnings,
		runID:    uuid.New().String(),
		stats:    observability.NewRunStats(),
	}, nil
}

// Settings returns the resolved run settings. After Run has opened the
// benchmark file they include the cache-bypass strategy in effect.
func (a *App) Settings() *config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Warnings returns the configuration adjustments made by New.
func (a *App) Warnings() []string {
	return a.warnings
}

// RunID returns the unique identifier of this run.
func (a *App) RunID() string {
	return a.runID
}

// Results returns the rows completed so far.
func (a *App) Results() []bench.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bench.Result(nil), a.results...)
}

// Run executes the benchmark. The benchmark file is created exclusively and
// removed before Run returns, whatever the outcome.
func (a *App) Run(ctx context.Context) (err error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ubencherrors.NewInternalError("benchmark is already running", nil)
	}
	a.running = true
	settings := a.settings
	a.mu.Unlock()

	if err := storage.CheckAbsent(settings.FilePath); err != nil {
		return err
	}

	tracker, trackErr := observability.NewUsageTracker()
	if trackErr != nil {
		log.Printf("app: process usage unavailable: %v", trackErr)
	}

	a.shutdown = shutdown.NewManager(shutdown.Config{OnForce: a.opts.OnForce})
	ctx, stop := a.shutdown.Listen(ctx)
	defer stop()

	file, err := storage.Create(settings.FilePath, storage.CreateOptions{
		Direct:        settings.WantDirectIO(),
		RequireDirect: settings.Requested == config.BypassDirect,
		MinIOSize:     pattern.Smallest(settings.Pattern),
	})
	if err != nil {
		return err
	}
	a.file = file
	a.shutdown.RegisterCloser(shutdown.CloserFunc(file.Remove))
	defer func() {
		if cleanupErr := a.cleanup(); cleanupErr != nil {
			fmt.Fprintf(a.opts.Stderr, "Failed to remove benchmark file %q: %v\n", file.Path(), cleanupErr)
			if err == nil {
				err = cleanupErr
			}
		}
	}()

	settings = settings.WithDirectIO(file.Direct())
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	if settings.Seed != nil {
		a.bufs, err = buffer.PrepareWithSeed(settings.Profile.MaxBlockSize, settings.Seed)
	} else {
		a.bufs, err = buffer.Prepare(settings.Profile.MaxBlockSize, a.opts.Entropy)
	}
	if err != nil {
		return err
	}

	info := a.infoWriter()
	a.sysinfo = observability.CollectSystemInfo(ctx, settings.MountPoint)
	a.printBanner(info)

	fmt.Fprint(info, "Filling out the benchmark file...")
	if err := file.Fill(ctx, a.bufs.Zero, settings.TargetSize, settings.FlushEvery, info); err != nil {
		fmt.Fprintln(info)
		a.reportFailure(info, err)
		return err
	}
	fmt.Fprintln(info, "done.")

	formatter := a.formatter(settings)
	engine := bench.NewEngine(file, a.bufs, bench.Options{
		TargetSize:          settings.TargetSize,
		SyncPerWrite:        settings.SyncPerOp,
		DropCacheBeforeRead: !settings.DirectIO,
		SettleDelay:         settings.SettleDelay,
		Clock:               a.opts.Clock,
	})

	fmt.Fprintln(info, "Benchmark started.")
	if err := formatter.Header(); err != nil {
		return err
	}

	results, err := engine.Run(ctx, settings.Pattern, &statsReporter{next: formatter, stats: a.stats})
	a.mu.Lock()
	a.results = results
	a.mu.Unlock()
	if err != nil {
		a.reportFailure(info, err)
		return err
	}

	if err := formatter.Footer(results); err != nil {
		return err
	}
	fmt.Fprintln(info, "Benchmark finished.")
	a.stats.WriteSummary(info)

	if tracker != nil {
		if usage, err := tracker.Snapshot(ctx); err != nil {
			log.Printf("app: process usage unavailable: %v", err)
		} else {
			usage.Write(info)
		}
	}
	return nil
}

// cleanup closes and removes the benchmark file. It is shared with the
// signal path, so only the first call removes anything.
func (a *App) cleanup() error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown.Shutdown("benchmark finished")
}

// infoWriter is where the banner and progress go: stdout for the table,
// stderr when stdout carries the JSON document.
func (a *App) infoWriter() io.Writer {
	if a.settings.Format == config.FormatJSON {
		return a.opts.Stderr
	}
	return a.opts.Stdout
}

func (a *App) formatter(settings *config.Settings) bench.Formatter {
	if settings.Format == config.FormatJSON {
		return bench.NewJSONReporter(a.opts.Stdout, bench.Document{
			RunID:            a.runID,
			Version:          a.opts.Version,
			Profile:          string(settings.Profile.Name),
			FilePath:         settings.FilePath,
			SizeMB:           settings.SizeMB,
			Pattern:          settings.Pattern,
			Bypass:           string(settings.Bypass),
			DirectIO:         settings.DirectIO,
			RawClock:         settings.RawClock,
			Seed:             a.bufs.SeedHex(),
			Fingerprint:      a.bufs.Fingerprint(),
			CompressionRatio: a.bufs.CompressionRatio(),
		})
	}
	return bench.NewTableReporter(a.opts.Stdout)
}

func (a *App) printBanner(w io.Writer) {
	s := a.settings
	if s.Profile.Name == config.ProfileEmbedded {
		fmt.Fprintf(w, "This is ubench version %s for embedded devices.\n", a.opts.Version)
	} else {
		fmt.Fprintf(w, "This is ubench version %s.\n", a.opts.Version)
	}
	a.sysinfo.Write(w)
	fmt.Fprintf(w, "Run ID:     %s\n", a.runID)
	fmt.Fprintf(w, "Benchmark:  %s, %d MB per phase, pattern %q\n", s.FilePath, s.SizeMB, s.Pattern)
	if s.DirectIO {
		fmt.Fprintln(w, "Cache:      bypassed with direct I/O")
	} else {
		fmt.Fprintln(w, "Cache:      buffered I/O with per-write sync and cache-drop advisories")
	}
	fmt.Fprintf(w, "Data:       seed %s, fingerprint %s, compression ratio %.2f\n",
		a.bufs.SeedHex(), a.bufs.Fingerprint(), a.bufs.CompressionRatio())
	if !s.RawClock {
		fmt.Fprintln(w, "NOTICE: It seems that this type of system does not support CLOCK_MONOTONIC_RAW, timing might not be NTP-proof.")
	}
}

func (a *App) reportFailure(w io.Writer, err error) {
	switch ubencherrors.GetCode(err) {
	case ubencherrors.CodeDeviceLost:
		fmt.Fprintf(a.opts.Stderr, "\nFile %q disappeared! Please check device status.\n", a.file.Path())
		fmt.Fprintln(a.opts.Stderr, "Benchmark terminated: device or filesystem failure.")
	case ubencherrors.CodeInterrupted:
		if sig := a.shutdown.Signal(); sig != nil {
			fmt.Fprintf(w, "\nBenchmark interrupted by %v, cleaning up...\n", sig)
		}
	}
}

// statsReporter records each completed phase before passing it on.
type statsReporter struct {
	next  bench.Reporter
	stats *observability.RunStats
}

func (r *statsReporter) Phase(res bench.Result, dir bench.Direction) error {
	rate := res.Write
	if dir == bench.Read {
		rate = res.Read
	}
	r.stats.Record(dir.String(), res.Symbol, res.PacketSize, float64(rate))
	return r.next.Phase(res, dir)
}
