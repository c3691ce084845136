package storage

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/ncw/directio"

	ubencherrors "github.com/ubench/ubench/internal/errors"
)

// BenchFile is the single file a benchmark run writes and reads. It is
// created exclusively, reused for every phase and removed at the end of the
// run.
type BenchFile struct {
	path   string
	file   *os.File
	direct bool

	mu      sync.Mutex
	closed  bool
	removed bool
}

// CreateOptions controls how the benchmark file is opened.
type CreateOptions struct {
	// Direct requests direct I/O.
	Direct bool
	// RequireDirect fails instead of falling back to buffered I/O when the
	// filesystem rejects direct I/O.
	RequireDirect bool
	// MinIOSize is the smallest transfer the run will issue. A direct
	// handle must accept a write of this size, otherwise the device's
	// logical block is larger and the file is reopened buffered.
	MinIOSize int64
}

// probeDirect writes one aligned block of size bytes at the start of f and
// truncates the file back to empty.
var probeDirect = func(f *os.File, size int64) error {
	block := directio.AlignedBlock(int(size))
	if _, err := f.WriteAt(block, 0); err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// Create creates the benchmark file. It fails if the file already exists.
// When direct I/O is requested but rejected by the filesystem, or the device
// cannot take MinIOSize transfers unbuffered, the file is reopened buffered
// unless RequireDirect is set; Direct reports which mode is in effect.
func Create(path string, opts CreateOptions) (*BenchFile, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL | noatimeFlag

	if opts.Direct {
		f, err := directio.OpenFile(path, flags, 0644)
		if os.IsExist(err) {
			return nil, preexisting(path)
		}
		if err == nil && opts.MinIOSize > 0 {
			if err = probeDirect(f, opts.MinIOSize); err != nil {
				err = fmt.Errorf("device rejects %d-byte direct transfers: %w", opts.MinIOSize, err)
				f.Close()
			}
		}
		if err == nil {
			return &BenchFile{path: path, file: f, direct: true}, nil
		}
		// The open may fail after the file was created.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, ioFailure("remove", path, rmErr)
		}
		if opts.RequireDirect {
			return nil, ubencherrors.NewDeviceError(ubencherrors.CodeIOFailure,
				fmt.Sprintf("unable to open %q for benchmark with direct I/O; make sure you are not running the benchmark on a RAM or MTD device", path),
				fmt.Errorf("%w: %w", ErrDirectIOFailed, err))
		}
		log.Printf("storage: direct I/O unavailable for %s (%v), falling back to buffered I/O", path, err)
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, preexisting(path)
		}
		return nil, ubencherrors.NewDeviceError(ubencherrors.CodeIOFailure,
			fmt.Sprintf("unable to open %q for benchmark", path), err)
	}
	return &BenchFile{path: path, file: f}, nil
}

// Path returns the benchmark file path.
func (b *BenchFile) Path() string {
	return b.path
}

// Direct reports whether the file was opened with direct I/O.
func (b *BenchFile) Direct() bool {
	return b.direct
}

// Write writes p at the current offset.
func (b *BenchFile) Write(p []byte) (int, error) {
	return b.file.Write(p)
}

// Read reads into p from the current offset.
func (b *BenchFile) Read(p []byte) (int, error) {
	return b.file.Read(p)
}

// Rewind moves the file offset back to the start of the file.
func (b *BenchFile) Rewind() error {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return ioFailure("rewind", b.path, err)
	}
	return nil
}

// Sync flushes file data and metadata to the device.
func (b *BenchFile) Sync() error {
	if err := b.file.Sync(); err != nil {
		return ioFailure("sync", b.path, err)
	}
	return nil
}

// Datasync flushes file data to the device.
func (b *BenchFile) Datasync() error {
	if err := datasync(b.file); err != nil {
		return ioFailure("datasync", b.path, err)
	}
	return nil
}

// DropCache asks the kernel to discard cached pages of the file and to stop
// reading ahead, so the next read reaches the device.
func (b *BenchFile) DropCache() error {
	if err := b.file.Sync(); err != nil {
		return ioFailure("sync", b.path, err)
	}
	if err := dropCache(b.file); err != nil {
		return ioFailure("drop cache for", b.path, err)
	}
	return nil
}

// Exists reports whether the file is still present on the filesystem.
func (b *BenchFile) Exists() (bool, error) {
	_, err := os.Stat(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close closes the file handle. It is safe to call more than once.
func (b *BenchFile) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.file.Close(); err != nil {
		return ioFailure("close", b.path, err)
	}
	return nil
}

// Remove closes the file and unlinks it. A file that is already gone is not
// an error.
func (b *BenchFile) Remove() error {
	closeErr := b.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.removed {
		return closeErr
	}
	b.removed = true
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioFailure("remove", b.path, err)
	}
	return closeErr
}
