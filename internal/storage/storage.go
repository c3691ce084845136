// Package storage manages the benchmark file on the volume under test.
package storage

import (
	"errors"
	"fmt"
	"os"

	ubencherrors "github.com/ubench/ubench/internal/errors"
)

// Common errors for benchmark file operations.
var (
	ErrFileExists      = errors.New("benchmark file already exists")
	ErrDirectIOFailed  = errors.New("direct I/O open failed")
	ErrFillSizeInvalid = errors.New("fill size must be a positive multiple of the zero buffer")
)

// CheckAbsent verifies that nothing exists at the benchmark file path. An
// existing file is never overwritten: it may belong to another run on the
// same filesystem.
func CheckAbsent(path string) error {
	_, err := os.Lstat(path)
	if err == nil {
		return preexisting(path)
	}
	if os.IsNotExist(err) {
		return nil
	}
	return ubencherrors.NewDeviceError(ubencherrors.CodeIOFailure,
		fmt.Sprintf("something unexpected happened while checking the existence of the benchmark file %q", path), err)
}

func preexisting(path string) error {
	return ubencherrors.NewConflictError(ubencherrors.CodePreexistingFile,
		fmt.Sprintf("benchmark file %q already exists; make sure no ubench is running on the same filesystem, check it is the benchmark file and remove it manually", path),
		ErrFileExists)
}

func ioFailure(op, path string, err error) error {
	return ubencherrors.NewDeviceError(ubencherrors.CodeIOFailure,
		fmt.Sprintf("failed to %s %q", op, path), err)
}
