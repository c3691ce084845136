//go:build !linux

package storage

import "os"

const noatimeFlag = 0

func datasync(f *os.File) error {
	return f.Sync()
}

// dropCache is a no-op: outside Linux the benchmark file is opened with
// directio, which disables caching for the handle.
func dropCache(*os.File) error {
	return nil
}
