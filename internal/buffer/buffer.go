// Package buffer prepares the aligned data buffers used by the benchmark.
//
// The write buffer holds pseudo-random data expanded from a small entropy
// seed: the seed drives one generator per seed byte whose outputs are
// interleaved into a 1 KiB block, every byte of the first MiB is the XOR of
// two bytes of that block, and the first MiB is tiled across the rest of the
// buffer. The same seed always yields the same buffer.
package buffer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"unsafe"

	"github.com/golang/snappy"
	"github.com/ncw/directio"
	"github.com/spaolacci/murmur3"

	ubencherrors "github.com/ubench/ubench/internal/errors"
)

const (
	// SeedSize is the number of entropy bytes expanded into the write data.
	SeedSize = 4

	// KiloSize is the size of the block expanded from the seed.
	KiloSize = 1024

	// BaseSize is the size of the block tiled across the write buffer.
	BaseSize = KiloSize * KiloSize

	// ZeroSize is the size of the zero buffer used to fill the benchmark file.
	ZeroSize = 1 << 20
)

// Set holds the buffers of one benchmark session.
type Set struct {
	// Write is the source of every benchmark write.
	Write []byte
	// Read is scratch space for benchmark reads.
	Read []byte
	// Zero is used to pre-size the benchmark file.
	Zero []byte
	// Seed is the entropy the write data was expanded from.
	Seed []byte
}

// Prepare allocates the buffers for a write capacity, drawing the seed from
// src. A nil src reads from crypto/rand.
func Prepare(capacity int64, src io.Reader) (*Set, error) {
	if src == nil {
		src = rand.Reader
	}
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(src, seed); err != nil {
		return nil, allocationFailure("failed to read entropy seed", err)
	}
	return PrepareWithSeed(capacity, seed)
}

// PrepareWithSeed allocates the buffers for a write capacity from a fixed
// seed.
func PrepareWithSeed(capacity int64, seed []byte) (*Set, error) {
	if capacity <= 0 || capacity%BaseSize != 0 {
		return nil, allocationFailure(fmt.Sprintf("buffer capacity must be a positive multiple of %d bytes, got %d", BaseSize, capacity), nil)
	}
	if len(seed) != SeedSize {
		return nil, allocationFailure(fmt.Sprintf("seed must be %d bytes, got %d", SeedSize, len(seed)), nil)
	}

	write, err := alignedBlock(capacity)
	if err != nil {
		return nil, err
	}
	read, err := alignedBlock(capacity)
	if err != nil {
		return nil, err
	}
	zero, err := alignedBlock(ZeroSize)
	if err != nil {
		return nil, err
	}

	fill(write, expandSeed(seed))
	clear(zero)

	return &Set{
		Write: write,
		Read:  read,
		Zero:  zero,
		Seed:  append([]byte(nil), seed...),
	}, nil
}

// Base returns the first MiB of the write buffer, the block every other MiB
// repeats.
func (s *Set) Base() []byte {
	return s.Write[:BaseSize]
}

// SeedHex returns the seed in the form accepted by the seed option.
func (s *Set) SeedHex() string {
	return hex.EncodeToString(s.Seed)
}

// Fingerprint returns a murmur3 128-bit hash of the base block. Runs with the
// same fingerprint wrote identical data.
func (s *Set) Fingerprint() string {
	h1, h2 := murmur3.Sum128(s.Base())
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// CompressionRatio returns the snappy-compressed size of the base block
// relative to its raw size. Filesystems that compress transparently will
// report inflated write throughput for data with a low ratio.
func (s *Set) CompressionRatio() float64 {
	base := s.Base()
	return float64(len(snappy.Encode(nil, base))) / float64(len(base))
}

// expandSeed turns the seed into a 1 KiB block. Each seed byte seeds its own
// generator; the generators' outputs are interleaved.
func expandSeed(seed []byte) []byte {
	gens := make([]lcg, len(seed))
	for i, b := range seed {
		gens[i] = lcg(b)
	}
	kilo := make([]byte, KiloSize)
	for i := range kilo {
		kilo[i] = gens[i%len(gens)].next()
	}
	return kilo
}

// fill writes the base block derived from kilo into the head of buf and
// tiles it over the remainder.
func fill(buf, kilo []byte) {
	for x := 0; x < KiloSize; x++ {
		row := buf[x*KiloSize : (x+1)*KiloSize]
		for y := 0; y < KiloSize; y++ {
			row[y] = kilo[x] ^ kilo[y]
		}
	}
	for off := BaseSize; off < len(buf); off += BaseSize {
		copy(buf[off:off+BaseSize], buf[:BaseSize])
	}
}

// lcg is a 32-bit linear congruential generator emitting its high byte.
type lcg uint32

func (g *lcg) next() byte {
	*g = *g*1664525 + 1013904223
	return byte(*g >> 24)
}

func alignedBlock(size int64) ([]byte, error) {
	block := directio.AlignedBlock(int(size))
	if len(block) != int(size) || !isAligned(block) {
		return nil, allocationFailure(fmt.Sprintf("failed to allocate %d bytes of aligned memory", size), nil)
	}
	return block, nil
}

func isAligned(block []byte) bool {
	if directio.AlignSize == 0 || len(block) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&block[0]))&uintptr(directio.AlignSize-1) == 0
}

func allocationFailure(message string, cause error) error {
	return ubencherrors.NewResourceError(ubencherrors.CodeAllocationFailure, message, cause)
}
