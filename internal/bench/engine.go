// Package bench runs the sequential write/read benchmark over a packet-size
// pattern.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ubench/ubench/internal/buffer"
	ubencherrors "github.com/ubench/ubench/internal/errors"
	"github.com/ubench/ubench/internal/pattern"
)

// File is the benchmark file as seen by the engine.
type File interface {
	io.ReadWriter
	Path() string
	Rewind() error
	Sync() error
	Datasync() error
	DropCache() error
	Exists() (bool, error)
}

// State is the position of the engine within one pattern symbol.
type State int

const (
	Idle State = iota
	WritePhase
	ReadPhase
	Reported
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WritePhase:
		return "write"
	case ReadPhase:
		return "read"
	case Reported:
		return "reported"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Direction identifies the phase a throughput figure belongs to.
type Direction int

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// Result is the outcome of one pattern symbol. Read fields are zero until
// the read phase has completed.
type Result struct {
	Symbol        string        `json:"symbol"`
	PacketSize    int64         `json:"packet_size"`
	Loops         int64         `json:"loops"`
	EffectiveSize int64         `json:"effective_size"`
	WriteElapsed  time.Duration `json:"write_elapsed_ns"`
	ReadElapsed   time.Duration `json:"read_elapsed_ns"`
	Write         Rate          `json:"write_bytes_per_sec"`
	Read          Rate          `json:"read_bytes_per_sec"`
}

// Reporter receives throughput figures as phases complete.
type Reporter interface {
	Phase(r Result, dir Direction) error
}

// Options configure an Engine.
type Options struct {
	// TargetSize is the byte count of one phase before loop capping.
	TargetSize int64

	// SyncPerWrite datasyncs after every write instead of once after the
	// write loop. Required when the file is not opened with direct I/O.
	SyncPerWrite bool

	// DropCacheBeforeRead issues a cache-drop advisory before every read.
	// Only the reads themselves are timed in this mode.
	DropCacheBeforeRead bool

	// SettleDelay is the pause before each phase that lets the device
	// finish work left over from the previous phase.
	SettleDelay time.Duration

	// Clock times the phases. Defaults to NewClock().
	Clock Clock
}

// Engine executes write-then-read measurements, one symbol at a time.
type Engine struct {
	file  File
	bufs  *buffer.Set
	opts  Options
	state State
}

// NewEngine creates an engine over an open, filled benchmark file.
func NewEngine(file File, bufs *buffer.Set, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = NewClock()
	}
	return &Engine{
		file: file,
		bufs: bufs,
		opts: opts,
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	return e.state
}

// Run measures every symbol of the pattern in order. Any failure aborts the
// remaining pattern; the results of completed symbols are returned with the
// error.
func (e *Engine) Run(ctx context.Context, p string, rep Reporter) ([]Result, error) {
	results := make([]Result, 0, len(p))
	for i := 0; i < len(p); i++ {
		if err := ctx.Err(); err != nil {
			return results, interrupted(err)
		}
		res, err := e.RunSymbol(ctx, p[i], rep)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RunSymbol performs the write phase and the read phase for one symbol.
func (e *Engine) RunSymbol(ctx context.Context, symbol byte, rep Reporter) (Result, error) {
	e.state = Idle

	packetSize, err := pattern.Translate(symbol)
	if err != nil {
		return Result{}, err
	}
	if packetSize > int64(len(e.bufs.Write)) {
		return Result{}, ubencherrors.NewInternalError(
			fmt.Sprintf("packet size %d exceeds the write buffer", packetSize), nil)
	}

	plan := PlanLoops(packetSize, e.opts.TargetSize)
	res := Result{
		Symbol:        string(symbol),
		PacketSize:    plan.PacketSize,
		Loops:         plan.Loops,
		EffectiveSize: plan.EffectiveSize,
	}

	if err := e.settle(ctx); err != nil {
		return res, err
	}
	e.state = WritePhase
	res.WriteElapsed, err = e.writePhase(ctx, plan)
	if err != nil {
		return res, err
	}
	res.Write = Throughput(plan.EffectiveSize, res.WriteElapsed)
	if err := report(rep, res, Write); err != nil {
		return res, err
	}

	if err := e.settle(ctx); err != nil {
		return res, err
	}
	e.state = ReadPhase
	res.ReadElapsed, err = e.readPhase(ctx, plan)
	if err != nil {
		return res, err
	}
	res.Read = Throughput(plan.EffectiveSize, res.ReadElapsed)
	if err := report(rep, res, Read); err != nil {
		return res, err
	}

	e.state = Reported
	return res, nil
}

// settle rewinds the file, flushes it and pauses so that cache warmth from
// the previous phase does not leak into the next one.
func (e *Engine) settle(ctx context.Context) error {
	if err := e.file.Rewind(); err != nil {
		return err
	}
	if err := e.file.Sync(); err != nil {
		return err
	}
	if e.opts.SettleDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(e.opts.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return interrupted(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (e *Engine) writePhase(ctx context.Context, plan Plan) (time.Duration, error) {
	buf := e.bufs.Write[:plan.PacketSize]
	clock := e.opts.Clock

	before := clock.Now()
	for i := int64(0); i < plan.Loops; i++ {
		if err := ctx.Err(); err != nil {
			return 0, interrupted(err)
		}
		n, err := e.file.Write(buf)
		if err != nil {
			return 0, e.shortIO(ubencherrors.CodeIOFailure, "writing", plan, i, err)
		}
		if n != len(buf) {
			return 0, e.shortIO(ubencherrors.CodeShortWrite, "writing", plan, i, io.ErrShortWrite)
		}
		if e.opts.SyncPerWrite {
			if err := e.file.Datasync(); err != nil {
				return 0, err
			}
		}
	}
	if !e.opts.SyncPerWrite {
		if err := e.file.Datasync(); err != nil {
			return 0, err
		}
	}
	after := clock.Now()

	if err := e.checkExists(Write, plan); err != nil {
		return 0, err
	}
	return Elapsed(before, after), nil
}

func (e *Engine) readPhase(ctx context.Context, plan Plan) (time.Duration, error) {
	buf := e.bufs.Read[:plan.PacketSize]
	clock := e.opts.Clock

	var elapsed time.Duration
	before := clock.Now()
	for i := int64(0); i < plan.Loops; i++ {
		if err := ctx.Err(); err != nil {
			return 0, interrupted(err)
		}
		if e.opts.DropCacheBeforeRead {
			if err := e.file.DropCache(); err != nil {
				return 0, err
			}
			before = clock.Now()
		}
		if _, err := io.ReadFull(e.file, buf); err != nil {
			code := ubencherrors.CodeIOFailure
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				code = ubencherrors.CodeShortRead
			}
			return 0, e.shortIO(code, "reading", plan, i, err)
		}
		if e.opts.DropCacheBeforeRead {
			elapsed += Elapsed(before, clock.Now())
		}
	}
	if !e.opts.DropCacheBeforeRead {
		elapsed = Elapsed(before, clock.Now())
	}

	if err := e.checkExists(Read, plan); err != nil {
		return 0, err
	}
	return elapsed, nil
}

// checkExists treats a vanished benchmark file as a lost device.
func (e *Engine) checkExists(dir Direction, plan Plan) error {
	exists, err := e.file.Exists()
	if err == nil && exists {
		return nil
	}
	log.Printf("bench: file %s disappeared during %s phase (packet size %d)", e.file.Path(), dir, plan.PacketSize)
	return ubencherrors.NewDeviceError(ubencherrors.CodeDeviceLost,
		fmt.Sprintf("file %q disappeared; please check device status", e.file.Path()), err).
		WithDetails(map[string]interface{}{
			"phase":       dir.String(),
			"packet_size": plan.PacketSize,
			"loops":       plan.Loops,
		})
}

func (e *Engine) shortIO(code, verb string, plan Plan, i int64, err error) error {
	return ubencherrors.NewDeviceError(code,
		fmt.Sprintf("failed %s %q: packet size %d, packet %d of %d", verb, e.file.Path(), plan.PacketSize, i+1, plan.Loops), err)
}

func report(rep Reporter, res Result, dir Direction) error {
	if rep == nil {
		return nil
	}
	return rep.Phase(res, dir)
}

func interrupted(cause error) error {
	return ubencherrors.NewInterruptedError("benchmark interrupted", cause)
}
