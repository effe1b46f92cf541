package meshproto

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID is the 32-bit device identifier used across the mesh.
//
// A node has two equivalent spellings: the numeric form (store keys,
// packet from/to fields) and the gateway form, eight lower-case hex
// digits prefixed with '!' (e.g. "!015ba416"). Conversion between the
// two is bijective.
type NodeID uint32

// Broadcast is the destination of packets addressed to every node.
const Broadcast NodeID = 0xFFFFFFFF

// String returns the gateway spelling, e.g. "!015ba416".
func (id NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(id))
}

// Uint32 returns the numeric form.
func (id NodeID) Uint32() uint32 {
	return uint32(id)
}

// Key returns the decimal form used in store keys.
func (id NodeID) Key() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseNodeID parses either spelling of a node id: "!015ba416" or a
// decimal number.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("meshproto: empty node id")
	}
	if s[0] == '!' {
		hex := s[1:]
		if len(hex) != 8 {
			return 0, fmt.Errorf("meshproto: node id %q: want 8 hex digits after '!'", s)
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("meshproto: node id %q: %w", s, err)
		}
		return NodeID(v), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("meshproto: node id %q: %w", s, err)
	}
	return NodeID(v), nil
}

// GatewayNodeID converts a gateway id string to its numeric node id.
// Gateway ids normally carry the '!' prefix; a bare hex string is
// accepted as well, since some bridges strip the prefix.
func GatewayNodeID(gatewayID string) (NodeID, bool) {
	s := strings.TrimSpace(gatewayID)
	s = strings.TrimPrefix(s, "!")
	if len(s) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return NodeID(v), true
}
