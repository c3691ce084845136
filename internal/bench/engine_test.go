package bench

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/ubench/ubench/internal/buffer"
	ubencherrors "github.com/ubench/ubench/internal/errors"
	"github.com/ubench/ubench/internal/storage"
)

const testTarget = 8 << 20

// stepClock advances by a fixed step on every reading.
type stepClock struct {
	now  time.Duration
	step time.Duration
}

func (c *stepClock) Now() time.Duration {
	c.now += c.step
	return c.now
}

func (c *stepClock) Raw() bool { return true }

func setupFile(t *testing.T) (*storage.BenchFile, *buffer.Set) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "~ubench.tmp")
	bf, err := storage.Create(path, storage.CreateOptions{})
	if err != nil {
		t.Fatalf("failed to create benchmark file: %v", err)
	}
	t.Cleanup(func() { bf.Remove() })

	bufs, err := buffer.PrepareWithSeed(testTarget, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("failed to prepare buffers: %v", err)
	}
	if err := bf.Fill(context.Background(), bufs.Zero, testTarget, 4<<20, nil); err != nil {
		t.Fatalf("failed to fill benchmark file: %v", err)
	}
	return bf, bufs
}

func adviseOptions() Options {
	return Options{
		TargetSize:          testTarget,
		SyncPerWrite:        true,
		DropCacheBeforeRead: true,
		Clock:               &stepClock{step: time.Millisecond},
	}
}

// recorder captures every reported phase.
type recorder struct {
	phases []string
}

func (r *recorder) Phase(res Result, dir Direction) error {
	r.phases = append(r.phases, res.Symbol+":"+dir.String())
	return nil
}

func TestEngine_Run(t *testing.T) {
	bf, bufs := setupFile(t)
	engine := NewEngine(bf, bufs, adviseOptions())
	rec := &recorder{}

	results, err := engine.Run(context.Background(), "51", rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	want := []struct {
		symbol string
		packet int64
		loops  int64
	}{
		{"5", 512, 2048},
		{"1", 1024, 2048},
	}
	for i, w := range want {
		r := results[i]
		if r.Symbol != w.symbol || r.PacketSize != w.packet || r.Loops != w.loops {
			t.Errorf("result %d = %+v, want symbol %s packet %d loops %d", i, r, w.symbol, w.packet, w.loops)
		}
		if r.EffectiveSize != w.packet*w.loops {
			t.Errorf("result %d effective size = %d", i, r.EffectiveSize)
		}
		if r.Write <= 0 || r.Read <= 0 {
			t.Errorf("result %d has non-positive rates: write %v read %v", i, r.Write, r.Read)
		}
	}

	wantPhases := []string{"5:write", "5:read", "1:write", "1:read"}
	if strings.Join(rec.phases, ",") != strings.Join(wantPhases, ",") {
		t.Errorf("phases = %v, want %v", rec.phases, wantPhases)
	}
	if engine.State() != Reported {
		t.Errorf("state = %s, want reported", engine.State())
	}
}

func TestEngine_ReadsBackWrittenData(t *testing.T) {
	bf, bufs := setupFile(t)
	engine := NewEngine(bf, bufs, adviseOptions())

	if _, err := engine.Run(context.Background(), "g", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Every read lands in the first packet of the read buffer.
	const packet = 1 << 20
	if !bytes.Equal(bufs.Read[:packet], bufs.Write[:packet]) {
		t.Error("read buffer does not hold the written data")
	}
}

func TestEngine_DirectModeTiming(t *testing.T) {
	bf, bufs := setupFile(t)
	clock := &stepClock{step: time.Second}
	engine := NewEngine(bf, bufs, Options{
		TargetSize: testTarget,
		Clock:      clock,
	})

	results, err := engine.Run(context.Background(), "j", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// One reading before and one after each phase.
	if results[0].WriteElapsed != time.Second || results[0].ReadElapsed != time.Second {
		t.Errorf("elapsed = %v/%v, want 1s/1s", results[0].WriteElapsed, results[0].ReadElapsed)
	}
	if got := results[0].Write.MiBps(); got != 8 {
		t.Errorf("write MiBps = %v, want 8", got)
	}
}

func TestEngine_DirectIOSmallPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "~ubench.tmp")
	bf, err := storage.Create(path, storage.CreateOptions{Direct: true, MinIOSize: 512})
	if err != nil {
		t.Fatalf("failed to create benchmark file: %v", err)
	}
	defer bf.Remove()
	if !bf.Direct() {
		t.Skip("direct I/O with 512-byte transfers not supported in test directory")
	}

	bufs, err := buffer.PrepareWithSeed(testTarget, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("failed to prepare buffers: %v", err)
	}
	if err := bf.Fill(context.Background(), bufs.Zero, testTarget, 4<<20, nil); err != nil {
		t.Fatalf("failed to fill benchmark file: %v", err)
	}

	engine := NewEngine(bf, bufs, Options{TargetSize: testTarget})
	results, err := engine.Run(context.Background(), "5124", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Write <= 0 || r.Read <= 0 {
			t.Errorf("symbol %s has non-positive rates: %+v", r.Symbol, r)
		}
	}
	if !bytes.Equal(bufs.Read[:4<<10], bufs.Write[:4<<10]) {
		t.Error("read buffer does not hold the written data")
	}
}

func TestEngine_WriteErrorIsIOFailure(t *testing.T) {
	bf, bufs := setupFile(t)
	engine := NewEngine(&failingFile{BenchFile: bf}, bufs, adviseOptions())

	_, err := engine.Run(context.Background(), "5", nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeIOFailure {
		t.Fatalf("expected I/O failure, got %v", err)
	}
	if ubencherrors.ExitCode(err) != int(syscall.EIO) {
		t.Errorf("exit code = %d, want EIO", ubencherrors.ExitCode(err))
	}
}

func TestEngine_ShortWrite(t *testing.T) {
	bf, bufs := setupFile(t)
	engine := NewEngine(&failingFile{BenchFile: bf, short: true}, bufs, adviseOptions())

	_, err := engine.Run(context.Background(), "5", nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeShortWrite {
		t.Fatalf("expected short write error, got %v", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Error("expected io.ErrShortWrite in chain")
	}
}

func TestEngine_InvalidSymbolBeforeIO(t *testing.T) {
	file := &countingFile{}
	bufs, err := buffer.PrepareWithSeed(1<<20, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("failed to prepare buffers: %v", err)
	}
	engine := NewEngine(file, bufs, Options{TargetSize: 1 << 20})

	_, err = engine.Run(context.Background(), "z", nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeInvalidSymbol {
		t.Fatalf("expected invalid symbol error, got %v", err)
	}
	if file.ops != 0 {
		t.Errorf("expected no I/O, got %d operations", file.ops)
	}
}

func TestEngine_DeviceLost(t *testing.T) {
	bf, bufs := setupFile(t)
	vanishing := &vanishingFile{BenchFile: bf, after: 10}
	engine := NewEngine(vanishing, bufs, adviseOptions())
	rec := &recorder{}

	results, err := engine.Run(context.Background(), "51", rec)
	if ubencherrors.GetCode(err) != ubencherrors.CodeDeviceLost {
		t.Fatalf("expected device lost error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no completed results, got %d", len(results))
	}
	if len(rec.phases) != 0 {
		t.Errorf("expected no reported phases, got %v", rec.phases)
	}
	if engine.State() != WritePhase {
		t.Errorf("state = %s, want write", engine.State())
	}
}

func TestEngine_ShortRead(t *testing.T) {
	bf, bufs := setupFile(t)
	engine := NewEngine(&truncatingFile{BenchFile: bf}, bufs, adviseOptions())

	_, err := engine.Run(context.Background(), "g", nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeShortRead {
		t.Fatalf("expected short read error, got %v", err)
	}
}

func TestEngine_Cancelled(t *testing.T) {
	bf, bufs := setupFile(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := adviseOptions()
	opts.SettleDelay = time.Hour
	engine := NewEngine(bf, bufs, opts)

	_, err := engine.Run(ctx, "5", nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeInterrupted {
		t.Fatalf("expected interrupted error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled in chain")
	}
}

func TestEngine_CancelDuringSettle(t *testing.T) {
	bf, bufs := setupFile(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	opts := adviseOptions()
	opts.SettleDelay = time.Hour
	engine := NewEngine(bf, bufs, opts)

	start := time.Now()
	_, err := engine.Run(ctx, "5", nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeInterrupted {
		t.Fatalf("expected interrupted error, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("settle delay did not honour cancellation")
	}
}

func TestTableReporter(t *testing.T) {
	var buf bytes.Buffer
	rep := NewTableReporter(&buf)
	if err := rep.Header(); err != nil {
		t.Fatalf("Header failed: %v", err)
	}

	rows := []Result{
		{PacketSize: 512, Write: Rate(1234 * 1024), Read: Rate(5678 * 1024)},
		{PacketSize: 8 << 20, Write: Rate(100000 * 1024), Read: Rate(200000 * 1024)},
	}
	for _, r := range rows {
		rep.Phase(r, Write)
		rep.Phase(r, Read)
	}

	want := "SIZE    WRITE     READ\n" +
		" KiB    KiB/s    KiB/s\n" +
		"======================\n" +
		" 0.5     1234     5678\n" +
		"8192   100000   200000\n"
	if buf.String() != want {
		t.Errorf("table output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestJSONReporter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rep := NewJSONReporter(&buf, Document{
		RunID:   "run-1",
		Version: "test",
		Pattern: "51",
		SizeMB:  8,
	})

	rows := []Result{
		{Symbol: "5", PacketSize: 512, Loops: 2048, EffectiveSize: 1 << 20, WriteElapsed: time.Second, Write: 1 << 20, Read: 2 << 20},
		{Symbol: "1", PacketSize: 1024, Loops: 2048, EffectiveSize: 2 << 20, ReadElapsed: time.Second, Write: 3 << 20, Read: 4 << 20},
	}
	for _, r := range rows {
		rep.Phase(r, Write)
		rep.Phase(r, Read)
	}
	if err := rep.Footer(rows); err != nil {
		t.Fatalf("Footer failed: %v", err)
	}

	var doc Document
	if err := sonnet.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if doc.RunID != "run-1" || doc.Pattern != "51" || doc.SizeMB != 8 {
		t.Errorf("unexpected document header: %+v", doc)
	}
	if len(doc.Rows) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(doc.Rows))
	}
	for i := range rows {
		if doc.Rows[i] != rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, doc.Rows[i], rows[i])
		}
	}
}

// countingFile counts I/O calls without touching a filesystem.
type countingFile struct {
	ops int
}

func (f *countingFile) Path() string { return "counting" }
func (f *countingFile) Write(p []byte) (int, error) { f.ops++; return len(p), nil }
func (f *countingFile) Read(p []byte) (int, error) { f.ops++; return len(p), nil }
func (f *countingFile) Rewind() error { f.ops++; return nil }
func (f *countingFile) Sync() error { f.ops++; return nil }
func (f *countingFile) Datasync() error { f.ops++; return nil }
func (f *countingFile) DropCache() error { f.ops++; return nil }
func (f *countingFile) Exists() (bool, error) { return true, nil }

// vanishingFile unlinks the benchmark file after a number of writes.
type vanishingFile struct {
	*storage.BenchFile
	after  int
	writes int
}

func (f *vanishingFile) Write(p []byte) (int, error) {
	f.writes++
	if f.writes == f.after {
		if err := os.Remove(f.Path()); err != nil {
			return 0, err
		}
	}
	return f.BenchFile.Write(p)
}

// truncatingFile returns end of file on every read.
type truncatingFile struct {
	*storage.BenchFile
}

func (f *truncatingFile) Read(p []byte) (int, error) {
	return 0, io.EOF
}

// failingFile fails every write, either with EIO or by accepting half the
// packet.
type failingFile struct {
	*storage.BenchFile
	short bool
}

func (f *failingFile) Write(p []byte) (int, error) {
	if f.short {
		return len(p) / 2, nil
	}
	return 0, syscall.EIO
}
