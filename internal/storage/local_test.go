package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	ubencherrors "github.com/ubench/ubench/internal/errors"
)

func createBuffered(t *testing.T) *BenchFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "~ubench.tmp")
	bf, err := Create(path, CreateOptions{})
	if err != nil {
		t.Fatalf("failed to create benchmark file: %v", err)
	}
	t.Cleanup(func() { bf.Remove() })
	return bf
}

func TestCheckAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "~ubench.tmp")

	if err := CheckAbsent(path); err != nil {
		t.Fatalf("CheckAbsent on missing file failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("leftover"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	err := CheckAbsent(path)
	if ubencherrors.GetCode(err) != ubencherrors.CodePreexistingFile {
		t.Fatalf("expected pre-existing file error, got %v", err)
	}
	if !errors.Is(err, ErrFileExists) {
		t.Error("expected ErrFileExists in chain")
	}
	if ubencherrors.ExitCode(err) != 17 {
		t.Errorf("exit code = %d, want EEXIST", ubencherrors.ExitCode(err))
	}
}

func TestCreate_RefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "~ubench.tmp")
	if err := os.WriteFile(path, []byte("leftover"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	for _, opts := range []CreateOptions{{}, {Direct: true}} {
		_, err := Create(path, opts)
		if ubencherrors.GetCode(err) != ubencherrors.CodePreexistingFile {
			t.Errorf("Create(%+v): expected pre-existing file error, got %v", opts, err)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read test file: %v", err)
	}
	if string(content) != "leftover" {
		t.Errorf("existing file was modified: %q", content)
	}
}

func TestCreate_DirectOrFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "~ubench.tmp")
	bf, err := Create(path, CreateOptions{Direct: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer bf.Remove()

	exists, err := bf.Exists()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected file to exist")
	}
	t.Logf("direct I/O: %v", bf.Direct())
}

func TestFill_ZeroContent(t *testing.T) {
	bf := createBuffered(t)
	zero := make([]byte, 1<<20)
	const total = 6 << 20

	var progress bytes.Buffer
	if err := bf.Fill(context.Background(), zero, total, 4<<20, &progress); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if progress.String() != "." {
		t.Errorf("progress = %q, want one dot", progress.String())
	}

	content, err := os.ReadFile(bf.Path())
	if err != nil {
		t.Fatalf("failed to read benchmark file: %v", err)
	}
	if len(content) != total {
		t.Fatalf("file size = %d, want %d", len(content), total)
	}
	for i, b := range content {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestFill_InvalidSize(t *testing.T) {
	bf := createBuffered(t)
	zero := make([]byte, 1<<20)

	for _, total := range []int64{0, -1, 1<<20 + 1} {
		if err := bf.Fill(context.Background(), zero, total, 1<<20, nil); !errors.Is(err, ErrFillSizeInvalid) {
			t.Errorf("Fill(%d): expected ErrFillSizeInvalid, got %v", total, err)
		}
	}
}

func TestBenchFile_WriteRewindRead(t *testing.T) {
	bf := createBuffered(t)

	if _, err := bf.Write([]byte("hello ubench")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := bf.Datasync(); err != nil {
		t.Fatalf("Datasync failed: %v", err)
	}
	if err := bf.Rewind(); err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}
	if err := bf.DropCache(); err != nil {
		t.Fatalf("DropCache failed: %v", err)
	}

	buf := make([]byte, 5)
	n, err := bf.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("read %q, want %q", buf[:n], "hello")
	}
}

func TestBenchFile_RemoveIdempotent(t *testing.T) {
	bf := createBuffered(t)

	if err := bf.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := bf.Remove(); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
	if err := bf.Close(); err != nil {
		t.Fatalf("Close after Remove failed: %v", err)
	}

	exists, err := bf.Exists()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected file to be gone after Remove")
	}
}

func TestBenchFile_ExistsAfterExternalRemoval(t *testing.T) {
	bf := createBuffered(t)

	if err := os.Remove(bf.Path()); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}
	exists, err := bf.Exists()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected Exists to report the removal")
	}
	if err := bf.Remove(); err != nil {
		t.Errorf("Remove of vanished file failed: %v", err)
	}
}

func TestFill_Cancelled(t *testing.T) {
	bf := createBuffered(t)
	zero := make([]byte, 1<<20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bf.Fill(ctx, zero, 64<<20, 4<<20, nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeInterrupted {
		t.Fatalf("expected interrupted error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled in chain")
	}
	info, statErr := os.Stat(bf.Path())
	if statErr != nil {
		t.Fatalf("failed to stat benchmark file: %v", statErr)
	}
	if info.Size() != 0 {
		t.Errorf("file size = %d, want 0 after cancelled fill", info.Size())
	}
}

func TestFill_WriteErrorIsIOFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "~ubench.tmp")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open test file: %v", err)
	}
	bf := &BenchFile{path: path, file: f}
	defer bf.Close()

	err = bf.Fill(context.Background(), make([]byte, 1<<20), 1<<20, 1<<20, nil)
	if ubencherrors.GetCode(err) != ubencherrors.CodeIOFailure {
		t.Fatalf("expected I/O failure, got %v", err)
	}
}

// directAvailable reports whether the test directory accepts direct I/O.
func directAvailable(t *testing.T) bool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "~ubench.probe")
	bf, err := Create(path, CreateOptions{Direct: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer bf.Remove()
	return bf.Direct()
}

func TestCreate_DirectSmallTransfers(t *testing.T) {
	if !directAvailable(t) {
		t.Skip("direct I/O not supported in test directory")
	}

	path := filepath.Join(t.TempDir(), "~ubench.tmp")
	bf, err := Create(path, CreateOptions{Direct: true, MinIOSize: 512})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer bf.Remove()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat benchmark file: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("file size = %d after the direct check, want 0", info.Size())
	}
	t.Logf("direct I/O with 512-byte transfers: %v", bf.Direct())
}

func TestCreate_LargeSectorFallsBack(t *testing.T) {
	if !directAvailable(t) {
		t.Skip("direct I/O not supported in test directory")
	}
	saved := probeDirect
	probeDirect = func(*os.File, int64) error { return syscall.EINVAL }
	defer func() { probeDirect = saved }()

	dir := t.TempDir()
	bf, err := Create(filepath.Join(dir, "~ubench.tmp"), CreateOptions{Direct: true, MinIOSize: 512})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer bf.Remove()
	if bf.Direct() {
		t.Error("expected buffered fallback when small direct transfers are rejected")
	}

	path := filepath.Join(dir, "~ubench2.tmp")
	_, err = Create(path, CreateOptions{Direct: true, RequireDirect: true, MinIOSize: 512})
	if !errors.Is(err, ErrDirectIOFailed) {
		t.Fatalf("expected direct I/O failure, got %v", err)
	}
	if ubencherrors.ExitCode(err) != int(syscall.EINVAL) {
		t.Errorf("exit code = %d, want EINVAL", ubencherrors.ExitCode(err))
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("rejected benchmark file was not removed")
	}
}
