//go:build linux

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

const noatimeFlag = unix.O_NOATIME

func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

func dropCache(f *os.File) error {
	fd := int(f.Fd())
	if err := unix.Fadvise(fd, 0, 0, unix.FADV_DONTNEED); err != nil {
		return err
	}
	return unix.Fadvise(fd, 0, 0, unix.FADV_RANDOM)
}
