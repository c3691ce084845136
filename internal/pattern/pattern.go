// Package pattern translates packet-size pattern symbols into byte counts.
//
// A pattern is an ordered string of symbols. Each symbol names a power-of-two
// packet size starting at 512 bytes:
//
//	5 = 0.5KB 1 =   1KB 2 =   2KB 4 =   4KB 8 =   8KB
//	a =  16KB b =  32KB c =  64KB d = 128KB e = 256KB
//	f = 512KB g =   1MB h =   2MB i =   4MB j =   8MB
//
// Only lower-case letters are accepted.
package pattern

import (
	"fmt"
	"strconv"
	"strings"

	ubencherrors "github.com/ubench/ubench/internal/errors"
)

// Entry maps one symbol to its packet size.
type Entry struct {
	Symbol byte
	Size   int64
}

// table is ordered by increasing size; each entry doubles the previous one.
var table = []Entry{
	{'5', 512},
	{'1', 1 << 10},
	{'2', 2 << 10},
	{'4', 4 << 10},
	{'8', 8 << 10},
	{'a', 16 << 10},
	{'b', 32 << 10},
	{'c', 64 << 10},
	{'d', 128 << 10},
	{'e', 256 << 10},
	{'f', 512 << 10},
	{'g', 1 << 20},
	{'h', 2 << 20},
	{'i', 4 << 20},
	{'j', 8 << 20},
}

// MinPacketSize is the size of the smallest symbol.
const MinPacketSize = 512

// Translate returns the packet size in bytes for a symbol.
func Translate(symbol byte) (int64, error) {
	for _, e := range table {
		if e.Symbol == symbol {
			return e.Size, nil
		}
	}
	return 0, invalidSymbol(symbol)
}

// Validate checks every symbol of a pattern against the packet-size ceiling
// of the active profile. It runs before any file I/O.
func Validate(p string, maxPacket int64) error {
	if p == "" {
		return ubencherrors.NewValidationError(ubencherrors.CodeInvalidSymbol, "empty packet size pattern")
	}
	for i := 0; i < len(p); i++ {
		size, err := Translate(p[i])
		if err != nil {
			return err
		}
		if size > maxPacket {
			return invalidSymbol(p[i])
		}
	}
	return nil
}

// Smallest returns the smallest packet size used by a validated pattern, or
// 0 if the pattern has no valid symbol.
func Smallest(p string) int64 {
	var smallest int64
	for i := 0; i < len(p); i++ {
		size, err := Translate(p[i])
		if err != nil {
			continue
		}
		if smallest == 0 || size < smallest {
			smallest = size
		}
	}
	return smallest
}

// Symbols returns the table entries whose size does not exceed maxPacket.
func Symbols(maxPacket int64) []Entry {
	var out []Entry
	for _, e := range table {
		if e.Size <= maxPacket {
			out = append(out, e)
		}
	}
	return out
}

// Alphabet returns every valid symbol for the given ceiling, in size order.
func Alphabet(maxPacket int64) string {
	var b strings.Builder
	for _, e := range Symbols(maxPacket) {
		b.WriteByte(e.Symbol)
	}
	return b.String()
}

// Label renders a packet size in KiB for the result table: "0.5" for 512
// bytes, the whole KiB count otherwise.
func Label(size int64) string {
	if size == MinPacketSize {
		return "0.5"
	}
	return strconv.FormatInt(size/1024, 10)
}

// Describe renders the symbol legend shown in the usage text, five symbols
// per line.
func Describe(maxPacket int64) string {
	var b strings.Builder
	for i, e := range Symbols(maxPacket) {
		if i > 0 {
			if i%5 == 0 {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintf(&b, "%c = %s", e.Symbol, humanSize(e.Size))
	}
	return b.String()
}

func humanSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%3.1fKB", float64(size)/1024)
	case size < 1<<20:
		return fmt.Sprintf("%3dKB", size>>10)
	default:
		return fmt.Sprintf("%3dMB", size>>20)
	}
}

func invalidSymbol(symbol byte) error {
	return ubencherrors.NewValidationError(ubencherrors.CodeInvalidSymbol,
		fmt.Sprintf("invalid packet size symbol: %q", symbol)).
		WithDetails(map[string]interface{}{"symbol": string(symbol)})
}
