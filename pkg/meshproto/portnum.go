package meshproto

import (
	"fmt"
	"strings"
)

// PortNum tags an application payload with its kind.
type PortNum uint32

// Port numbers understood by the payload dispatcher. Anything else is
// stored under a synthesized UNKNOWN_<n> name and never touches the map.
const (
	PortTextMessage  PortNum = 1
	PortPosition     PortNum = 3
	PortNodeInfo     PortNum = 4
	PortWaypoint     PortNum = 8
	PortTelemetry    PortNum = 67
	PortTraceroute   PortNum = 70
	PortNeighborInfo PortNum = 71
	PortMapReport    PortNum = 73
)

var portNames = map[PortNum]string{
	PortTextMessage:  "TEXT_MESSAGE_APP",
	PortPosition:     "POSITION_APP",
	PortNodeInfo:     "NODEINFO_APP",
	PortWaypoint:     "WAYPOINT_APP",
	PortTelemetry:    "TELEMETRY_APP",
	PortTraceroute:   "TRACEROUTE_APP",
	PortNeighborInfo: "NEIGHBORINFO_APP",
	PortMapReport:    "MAP_REPORT_APP",
}

// Name returns the symbolic port name used in store keys.
// Unlisted ports synthesize UNKNOWN_<n>.
func (p PortNum) Name() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", uint32(p))
}

// Known reports whether the port has a named decoder.
func (p PortNum) Known() bool {
	_, ok := portNames[p]
	return ok
}

// jsonTypePorts maps the `type` field of gateway JSON frames to ports.
// Gateways that republish in JSON use these short names instead of the
// numeric portnum.
var jsonTypePorts = map[string]PortNum{
	"text":         PortTextMessage,
	"position":     PortPosition,
	"nodeinfo":     PortNodeInfo,
	"waypoint":     PortWaypoint,
	"telemetry":    PortTelemetry,
	"traceroute":   PortTraceroute,
	"neighborinfo": PortNeighborInfo,
	"mapreport":    PortMapReport,
}

// PortFromJSONType resolves the `type` string of a gateway JSON frame.
func PortFromJSONType(s string) (PortNum, bool) {
	p, ok := jsonTypePorts[strings.ToLower(strings.TrimSpace(s))]
	return p, ok
}
