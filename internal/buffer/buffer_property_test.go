package buffer

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_TilingInvariant checks that for any seed every MiB of the
// write buffer beyond the first equals the first.
func TestProperty_TilingInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("every block replicates the base block", prop.ForAll(
		func(a, b, c, d uint8) bool {
			set, err := PrepareWithSeed(3*BaseSize, []byte{a, b, c, d})
			if err != nil {
				return false
			}
			base := set.Base()
			for off := BaseSize; off < len(set.Write); off += BaseSize {
				if !bytes.Equal(set.Write[off:off+BaseSize], base) {
					return false
				}
			}
			return true
		},
		gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.UInt8(),
	))

	properties.Property("base block diagonal is zero", prop.ForAll(
		func(a, b, c, d uint8, i int) bool {
			set, err := PrepareWithSeed(BaseSize, []byte{a, b, c, d})
			if err != nil {
				return false
			}
			// kilo[x] ^ kilo[x] == 0
			return set.Write[i*KiloSize+i] == 0
		},
		gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.IntRange(0, KiloSize-1),
	))

	properties.TestingRun(t)
}
