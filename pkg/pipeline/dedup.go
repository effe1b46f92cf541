package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/meshwatch/meshwatch/pkg/meshproto"
)

// DefaultDedupWindow is the TTL of a dedup marker. Gateways relay the
// same packet within a couple of seconds of each other; anything
// slower than the window is a genuinely new packet.
const DefaultDedupWindow = 3 * time.Second

// Dedup markers live under the dedupe: prefix next to the real keys,
// so that DeleteDevice and key scans never mistake them for state.

// appendDedupKey identifies one logical packet for the store-level
// gate: the same sender, port and radio receive time seen via any
// gateway is the same packet.
func appendDedupKey(from meshproto.NodeID, port meshproto.PortNum, rxTime uint32) string {
	return fmt.Sprintf("dedupe:portnum:%d:%d:%d", uint32(from), uint32(port), rxTime)
}

// posDedupKey is content-addressed: repeated reports of the same
// coordinates collapse, a genuine move does not. Coordinates round to
// 1e-6 degrees, about a tenth of a meter.
func posDedupKey(from meshproto.NodeID, lat, lon float64) string {
	return fmt.Sprintf("dedupe:dot:%d:pos:%d:%d",
		uint32(from), int64(math.Round(lat*1e6)), int64(math.Round(lon*1e6)))
}

// nameDedupKey collapses repeated NodeInfo broadcasts with the same
// names.
func nameDedupKey(from meshproto.NodeID, longName, shortName string) string {
	return fmt.Sprintf("dedupe:dot:%d:name:%s:%s", uint32(from), longName, shortName)
}

// tickDedupKey throttles bare activity bumps to one per second.
func tickDedupKey(from meshproto.NodeID, now time.Time) string {
	return fmt.Sprintf("dedupe:dot:%d:time:%d", uint32(from), now.Unix())
}
