package storage

import (
	"context"
	"fmt"
	"io"

	ubencherrors "github.com/ubench/ubench/internal/errors"
)

// FillProgressEvery is the number of bytes between progress dots.
const FillProgressEvery = 4 << 20

// Fill writes zero repeatedly until total bytes are written, datasyncing
// every flushEvery bytes and fsyncing at the end. A dot is written to
// progress every FillProgressEvery bytes. A short write means the device is
// full and returns a ShortWrite error. Cancelling ctx stops the fill at the
// next chunk with an Interrupted error.
func (b *BenchFile) Fill(ctx context.Context, zero []byte, total, flushEvery int64, progress io.Writer) error {
	chunk := int64(len(zero))
	if chunk == 0 || total <= 0 || total%chunk != 0 {
		return fmt.Errorf("%w: total %d, chunk %d", ErrFillSizeInvalid, total, chunk)
	}
	if flushEvery < chunk {
		flushEvery = chunk
	}
	if progress == nil {
		progress = io.Discard
	}

	if err := b.Rewind(); err != nil {
		return err
	}

	var written int64
	for written < total {
		if err := ctx.Err(); err != nil {
			return ubencherrors.NewInterruptedError("benchmark file fill interrupted", err)
		}
		n, err := b.file.Write(zero)
		if err != nil {
			return ubencherrors.NewDeviceError(ubencherrors.CodeIOFailure,
				fmt.Sprintf("failed to write to %q at offset %d", b.path, written+int64(n)), err)
		}
		if n != len(zero) {
			return ubencherrors.NewDeviceError(ubencherrors.CodeShortWrite,
				fmt.Sprintf("short write to %q at offset %d", b.path, written+int64(n)), io.ErrShortWrite)
		}
		written += chunk

		if written%flushEvery == 0 {
			if err := b.Datasync(); err != nil {
				return err
			}
		}
		if written%FillProgressEvery == 0 {
			fmt.Fprint(progress, ".")
		}
	}

	return b.Sync()
}
