package bench

const (
	// SmallPacketSize is the packet size below which the loop count is
	// capped.
	SmallPacketSize = 64 << 10

	// SmallMaxLoops is the loop ceiling for small packets.
	SmallMaxLoops = 2048
)

// Plan is the number of I/O operations for one phase and the byte count
// they transfer.
type Plan struct {
	PacketSize    int64
	Loops         int64
	EffectiveSize int64
}

// PlanLoops computes the loop count for a packet size. Small packets would
// need too many syscalls to cover the whole target size, so their loop count
// is capped at SmallMaxLoops and the effective size shrinks to match.
func PlanLoops(packetSize, targetSize int64) Plan {
	loops := targetSize / packetSize
	if packetSize < SmallPacketSize && loops > SmallMaxLoops {
		loops = SmallMaxLoops
	}
	return Plan{
		PacketSize:    packetSize,
		Loops:         loops,
		EffectiveSize: loops * packetSize,
	}
}
