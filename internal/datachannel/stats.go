package datachannel

import "sync/atomic"

// Stats is a snapshot of the codec counters.
type Stats struct {
	PacketsOut uint64
	BytesOut   uint64
	PacketsIn  uint64
	BytesIn    uint64

	DroppedReplay      uint64
	DroppedAuth        uint64
	DroppedMalformed   uint64
	DroppedCompression uint64

	Jumps    uint64
	PingsIn  uint64
	PingsOut uint64
}

// Dropped returns the total number of dropped packets.
func (s Stats) Dropped() uint64 {
	return s.DroppedReplay + s.DroppedAuth + s.DroppedMalformed + s.DroppedCompression
}

type counters struct {
	packetsOut         atomic.Uint64
	bytesOut           atomic.Uint64
	packetsIn          atomic.Uint64
	bytesIn            atomic.Uint64
	droppedReplay      atomic.Uint64
	droppedAuth        atomic.Uint64
	droppedMalformed   atomic.Uint64
	droppedCompression atomic.Uint64
	jumps              atomic.Uint64
	pingsIn            atomic.Uint64
	pingsOut           atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsOut:         c.packetsOut.Load(),
		BytesOut:           c.bytesOut.Load(),
		PacketsIn:          c.packetsIn.Load(),
		BytesIn:            c.bytesIn.Load(),
		DroppedReplay:      c.droppedReplay.Load(),
		DroppedAuth:        c.droppedAuth.Load(),
		DroppedMalformed:   c.droppedMalformed.Load(),
		DroppedCompression: c.droppedCompression.Load(),
		Jumps:              c.jumps.Load(),
		PingsIn:            c.pingsIn.Load(),
		PingsOut:           c.pingsOut.Load(),
	}
}
