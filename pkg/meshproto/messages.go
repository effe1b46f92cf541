package meshproto

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshwatch/meshwatch/pkg/encoding"
)

// MacAddr is a hardware address rendered as colon-separated hex in JSON.
type MacAddr []byte

func (m MacAddr) String() string {
	if len(m) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, b := range m {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

func (m MacAddr) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *MacAddr) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("meshproto: macaddr: not a JSON string")
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*m = nil
		return nil
	}
	parts := strings.Split(s, ":")
	out := make([]byte, 0, len(parts))
	for _, p := range parts {
		if len(p) != 2 {
			return fmt.Errorf("meshproto: macaddr: bad octet %q", p)
		}
		var b byte
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil {
			return fmt.Errorf("meshproto: macaddr: bad octet %q", p)
		}
		out = append(out, b)
	}
	*m = out
	return nil
}

// TextMessage wraps a plain UTF-8 text payload.
type TextMessage struct {
	Text string `json:"text"`
}

// Position is a device position report. Coordinates are degrees
// scaled by 1e7.
type Position struct {
	LatitudeI     int32  `json:"latitudeI,omitempty"`
	LongitudeI    int32  `json:"longitudeI,omitempty"`
	Altitude      int32  `json:"altitude,omitempty"`
	Time          uint32 `json:"time,omitempty"`
	GroundSpeed   uint32 `json:"groundSpeed,omitempty"`
	SatsInView    uint32 `json:"satsInView,omitempty"`
	PrecisionBits uint32 `json:"precisionBits,omitempty"`
}

// Latitude converts the scaled integer to degrees.
func (p *Position) Latitude() float64 { return float64(p.LatitudeI) * 1e-7 }

// Longitude converts the scaled integer to degrees.
func (p *Position) Longitude() float64 { return float64(p.LongitudeI) * 1e-7 }

func (p *Position) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: position: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			p.LatitudeI, n, err = consumeSigned32(b, num, typ)
		case 2:
			p.LongitudeI, n, err = consumeSigned32(b, num, typ)
		case 3:
			p.Altitude, n, err = consumeInt32(b, num, typ)
		case 4:
			p.Time, n, err = consumeUint32(b, num, typ)
		case 15:
			p.GroundSpeed, n, err = consumeUint32(b, num, typ)
		case 19:
			p.SatsInView, n, err = consumeUint32(b, num, typ)
		case 23:
			p.PrecisionBits, n, err = consumeUint32(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: position: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (p *Position) MarshalBinary() ([]byte, error) {
	var b []byte
	if p.LatitudeI != 0 {
		b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(p.LatitudeI))
	}
	if p.LongitudeI != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(p.LongitudeI))
	}
	if p.Altitude != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(p.Altitude)))
	}
	if p.Time != 0 {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.Time)
	}
	if p.GroundSpeed != 0 {
		b = protowire.AppendTag(b, 15, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.GroundSpeed))
	}
	if p.SatsInView != 0 {
		b = protowire.AppendTag(b, 19, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.SatsInView))
	}
	if p.PrecisionBits != 0 {
		b = protowire.AppendTag(b, 23, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.PrecisionBits))
	}
	return b, nil
}

// User is a node identity record.
type User struct {
	ID         string           `json:"id,omitempty"`
	LongName   string           `json:"longName,omitempty"`
	ShortName  string           `json:"shortName,omitempty"`
	Macaddr    MacAddr          `json:"macaddr,omitempty"`
	HwModel    uint32           `json:"hwModel,omitempty"`
	IsLicensed bool             `json:"isLicensed,omitempty"`
	Role       uint32           `json:"role,omitempty"`
	PublicKey  encoding.HexData `json:"publicKey,omitempty"`
}

func (u *User) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: user: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			u.ID, n, err = consumeString(b, num, typ)
		case 2:
			u.LongName, n, err = consumeString(b, num, typ)
		case 3:
			u.ShortName, n, err = consumeString(b, num, typ)
		case 4:
			var raw []byte
			raw, n, err = consumeBytes(b, num, typ)
			u.Macaddr = MacAddr(raw)
		case 5:
			u.HwModel, n, err = consumeUint32(b, num, typ)
		case 6:
			u.IsLicensed, n, err = consumeBool(b, num, typ)
		case 7:
			u.Role, n, err = consumeUint32(b, num, typ)
		case 8:
			var raw []byte
			raw, n, err = consumeBytes(b, num, typ)
			u.PublicKey = encoding.HexData(raw)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: user: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (u *User) MarshalBinary() ([]byte, error) {
	var b []byte
	if u.ID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, u.ID)
	}
	if u.LongName != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, u.LongName)
	}
	if u.ShortName != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, u.ShortName)
	}
	if len(u.Macaddr) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Macaddr)
	}
	if u.HwModel != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.HwModel))
	}
	if u.IsLicensed {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if u.Role != 0 {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.Role))
	}
	if len(u.PublicKey) > 0 {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, u.PublicKey)
	}
	return b, nil
}

// DeviceMetrics is the battery and radio-utilization telemetry variant.
type DeviceMetrics struct {
	BatteryLevel       uint32  `json:"batteryLevel,omitempty"`
	Voltage            float32 `json:"voltage,omitempty"`
	ChannelUtilization float32 `json:"channelUtilization,omitempty"`
	AirUtilTx          float32 `json:"airUtilTx,omitempty"`
	UptimeSeconds      uint32  `json:"uptimeSeconds,omitempty"`
}

func (m *DeviceMetrics) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: device metrics: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			m.BatteryLevel, n, err = consumeUint32(b, num, typ)
		case 2:
			m.Voltage, n, err = consumeFloat(b, num, typ)
		case 3:
			m.ChannelUtilization, n, err = consumeFloat(b, num, typ)
		case 4:
			m.AirUtilTx, n, err = consumeFloat(b, num, typ)
		case 5:
			m.UptimeSeconds, n, err = consumeUint32(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: device metrics: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (m *DeviceMetrics) MarshalBinary() ([]byte, error) {
	var b []byte
	if m.BatteryLevel != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.BatteryLevel))
	}
	if m.Voltage != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.Voltage))
	}
	if m.ChannelUtilization != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.ChannelUtilization))
	}
	if m.AirUtilTx != 0 {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.AirUtilTx))
	}
	if m.UptimeSeconds != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.UptimeSeconds))
	}
	return b, nil
}

// EnvironmentMetrics is the sensor telemetry variant.
type EnvironmentMetrics struct {
	Temperature        float32 `json:"temperature,omitempty"`
	RelativeHumidity   float32 `json:"relativeHumidity,omitempty"`
	BarometricPressure float32 `json:"barometricPressure,omitempty"`
	GasResistance      float32 `json:"gasResistance,omitempty"`
	Voltage            float32 `json:"voltage,omitempty"`
	Current            float32 `json:"current,omitempty"`
	IAQ                uint32  `json:"iaq,omitempty"`
}

func (m *EnvironmentMetrics) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: environment metrics: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			m.Temperature, n, err = consumeFloat(b, num, typ)
		case 2:
			m.RelativeHumidity, n, err = consumeFloat(b, num, typ)
		case 3:
			m.BarometricPressure, n, err = consumeFloat(b, num, typ)
		case 4:
			m.GasResistance, n, err = consumeFloat(b, num, typ)
		case 5:
			m.Voltage, n, err = consumeFloat(b, num, typ)
		case 6:
			m.Current, n, err = consumeFloat(b, num, typ)
		case 7:
			m.IAQ, n, err = consumeUint32(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: environment metrics: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (m *EnvironmentMetrics) MarshalBinary() ([]byte, error) {
	var b []byte
	if m.Temperature != 0 {
		b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.Temperature))
	}
	if m.RelativeHumidity != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.RelativeHumidity))
	}
	if m.BarometricPressure != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.BarometricPressure))
	}
	if m.GasResistance != 0 {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.GasResistance))
	}
	if m.Voltage != 0 {
		b = protowire.AppendTag(b, 5, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.Voltage))
	}
	if m.Current != 0 {
		b = protowire.AppendTag(b, 6, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.Current))
	}
	if m.IAQ != 0 {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.IAQ))
	}
	return b, nil
}

// Telemetry carries exactly one metrics variant.
type Telemetry struct {
	Time               uint32              `json:"time,omitempty"`
	DeviceMetrics      *DeviceMetrics      `json:"deviceMetrics,omitempty"`
	EnvironmentMetrics *EnvironmentMetrics `json:"environmentMetrics,omitempty"`
}

// Variant names the populated metrics branch, or "" when none is set.
func (t *Telemetry) Variant() string {
	switch {
	case t.DeviceMetrics != nil:
		return "deviceMetrics"
	case t.EnvironmentMetrics != nil:
		return "environmentMetrics"
	default:
		return ""
	}
}

func (t *Telemetry) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: telemetry: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			t.Time, n, err = consumeUint32(b, num, typ)
		case 2:
			var raw []byte
			raw, n, err = consumeBytes(b, num, typ)
			if err == nil {
				dm := new(DeviceMetrics)
				if err = dm.UnmarshalBinary(raw); err == nil {
					t.DeviceMetrics = dm
				}
			}
		case 3:
			var raw []byte
			raw, n, err = consumeBytes(b, num, typ)
			if err == nil {
				em := new(EnvironmentMetrics)
				if err = em.UnmarshalBinary(raw); err == nil {
					t.EnvironmentMetrics = em
				}
			}
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: telemetry: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (t *Telemetry) MarshalBinary() ([]byte, error) {
	var b []byte
	if t.Time != 0 {
		b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, t.Time)
	}
	if t.DeviceMetrics != nil {
		raw, err := t.DeviceMetrics.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	if t.EnvironmentMetrics != nil {
		raw, err := t.EnvironmentMetrics.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return b, nil
}

// Waypoint is a shared point of interest.
type Waypoint struct {
	ID          uint32 `json:"id,omitempty"`
	LatitudeI   int32  `json:"latitudeI,omitempty"`
	LongitudeI  int32  `json:"longitudeI,omitempty"`
	Expire      uint32 `json:"expire,omitempty"`
	LockedTo    uint32 `json:"lockedTo,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        uint32 `json:"icon,omitempty"`
}

func (w *Waypoint) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: waypoint: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			w.ID, n, err = consumeUint32(b, num, typ)
		case 2:
			w.LatitudeI, n, err = consumeSigned32(b, num, typ)
		case 3:
			w.LongitudeI, n, err = consumeSigned32(b, num, typ)
		case 4:
			w.Expire, n, err = consumeUint32(b, num, typ)
		case 5:
			w.LockedTo, n, err = consumeUint32(b, num, typ)
		case 6:
			w.Name, n, err = consumeString(b, num, typ)
		case 7:
			w.Description, n, err = consumeString(b, num, typ)
		case 8:
			w.Icon, n, err = consumeUint32(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: waypoint: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (w *Waypoint) MarshalBinary() ([]byte, error) {
	var b []byte
	if w.ID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(w.ID))
	}
	if w.LatitudeI != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(w.LatitudeI))
	}
	if w.LongitudeI != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(w.LongitudeI))
	}
	if w.Expire != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(w.Expire))
	}
	if w.LockedTo != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(w.LockedTo))
	}
	if w.Name != "" {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, w.Name)
	}
	if w.Description != "" {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, w.Description)
	}
	if w.Icon != 0 {
		b = protowire.AppendTag(b, 8, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, w.Icon)
	}
	return b, nil
}

// Neighbor is one entry of a neighbor table broadcast.
type Neighbor struct {
	NodeID uint32  `json:"nodeId,omitempty"`
	SNR    float32 `json:"snr,omitempty"`
}

func (nb *Neighbor) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: neighbor: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			nb.NodeID, n, err = consumeUint32(b, num, typ)
		case 2:
			nb.SNR, n, err = consumeFloat(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: neighbor: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (nb *Neighbor) MarshalBinary() ([]byte, error) {
	var b []byte
	if nb.NodeID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(nb.NodeID))
	}
	if nb.SNR != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(nb.SNR))
	}
	return b, nil
}

// NeighborInfo is a node's view of its direct radio neighbors.
type NeighborInfo struct {
	NodeID                    uint32     `json:"nodeId,omitempty"`
	LastSentByID              uint32     `json:"lastSentById,omitempty"`
	NodeBroadcastIntervalSecs uint32     `json:"nodeBroadcastIntervalSecs,omitempty"`
	Neighbors                 []Neighbor `json:"neighbors,omitempty"`
}

func (ni *NeighborInfo) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: neighbor info: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			ni.NodeID, n, err = consumeUint32(b, num, typ)
		case 2:
			ni.LastSentByID, n, err = consumeUint32(b, num, typ)
		case 3:
			ni.NodeBroadcastIntervalSecs, n, err = consumeUint32(b, num, typ)
		case 4:
			var raw []byte
			raw, n, err = consumeBytes(b, num, typ)
			if err == nil {
				var nb Neighbor
				if err = nb.UnmarshalBinary(raw); err == nil {
					ni.Neighbors = append(ni.Neighbors, nb)
				}
			}
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: neighbor info: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (ni *NeighborInfo) MarshalBinary() ([]byte, error) {
	var b []byte
	if ni.NodeID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ni.NodeID))
	}
	if ni.LastSentByID != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ni.LastSentByID))
	}
	if ni.NodeBroadcastIntervalSecs != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ni.NodeBroadcastIntervalSecs))
	}
	for i := range ni.Neighbors {
		raw, err := ni.Neighbors[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return b, nil
}

// RouteDiscovery is a traceroute request or reply.
type RouteDiscovery struct {
	Route      []uint32 `json:"route,omitempty"`
	SNRTowards []int32  `json:"snrTowards,omitempty"`
	RouteBack  []uint32 `json:"routeBack,omitempty"`
	SNRBack    []int32  `json:"snrBack,omitempty"`
}

func (rd *RouteDiscovery) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: route discovery: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			rd.Route, n, err = consumeRepeatedFixed32(b, rd.Route, num, typ)
		case 2:
			rd.SNRTowards, n, err = consumeRepeatedInt32(b, rd.SNRTowards, num, typ)
		case 3:
			rd.RouteBack, n, err = consumeRepeatedFixed32(b, rd.RouteBack, num, typ)
		case 4:
			rd.SNRBack, n, err = consumeRepeatedInt32(b, rd.SNRBack, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: route discovery: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (rd *RouteDiscovery) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendPackedFixed32(b, 1, rd.Route)
	b = appendPackedInt32(b, 2, rd.SNRTowards)
	b = appendPackedFixed32(b, 3, rd.RouteBack)
	b = appendPackedInt32(b, 4, rd.SNRBack)
	return b, nil
}

// MapReport is a self-description broadcast published on map topics.
type MapReport struct {
	LongName            string `json:"longName,omitempty"`
	ShortName           string `json:"shortName,omitempty"`
	Role                uint32 `json:"role,omitempty"`
	HwModel             uint32 `json:"hwModel,omitempty"`
	FirmwareVersion     string `json:"firmwareVersion,omitempty"`
	Region              uint32 `json:"region,omitempty"`
	ModemPreset         uint32 `json:"modemPreset,omitempty"`
	HasDefaultChannel   bool   `json:"hasDefaultChannel,omitempty"`
	LatitudeI           int32  `json:"latitudeI,omitempty"`
	LongitudeI          int32  `json:"longitudeI,omitempty"`
	Altitude            int32  `json:"altitude,omitempty"`
	PositionPrecision   uint32 `json:"positionPrecision,omitempty"`
	NumOnlineLocalNodes uint32 `json:"numOnlineLocalNodes,omitempty"`
}

// Latitude converts the scaled integer to degrees.
func (mr *MapReport) Latitude() float64 { return float64(mr.LatitudeI) * 1e-7 }

// Longitude converts the scaled integer to degrees.
func (mr *MapReport) Longitude() float64 { return float64(mr.LongitudeI) * 1e-7 }

func (mr *MapReport) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: map report: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			mr.LongName, n, err = consumeString(b, num, typ)
		case 2:
			mr.ShortName, n, err = consumeString(b, num, typ)
		case 3:
			mr.Role, n, err = consumeUint32(b, num, typ)
		case 4:
			mr.HwModel, n, err = consumeUint32(b, num, typ)
		case 5:
			mr.FirmwareVersion, n, err = consumeString(b, num, typ)
		case 6:
			mr.Region, n, err = consumeUint32(b, num, typ)
		case 7:
			mr.ModemPreset, n, err = consumeUint32(b, num, typ)
		case 8:
			mr.HasDefaultChannel, n, err = consumeBool(b, num, typ)
		case 9:
			mr.LatitudeI, n, err = consumeSigned32(b, num, typ)
		case 10:
			mr.LongitudeI, n, err = consumeSigned32(b, num, typ)
		case 11:
			mr.Altitude, n, err = consumeInt32(b, num, typ)
		case 12:
			mr.PositionPrecision, n, err = consumeUint32(b, num, typ)
		case 13:
			mr.NumOnlineLocalNodes, n, err = consumeUint32(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: map report: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (mr *MapReport) MarshalBinary() ([]byte, error) {
	var b []byte
	if mr.LongName != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, mr.LongName)
	}
	if mr.ShortName != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, mr.ShortName)
	}
	if mr.Role != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(mr.Role))
	}
	if mr.HwModel != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(mr.HwModel))
	}
	if mr.FirmwareVersion != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, mr.FirmwareVersion)
	}
	if mr.Region != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(mr.Region))
	}
	if mr.ModemPreset != 0 {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(mr.ModemPreset))
	}
	if mr.HasDefaultChannel {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if mr.LatitudeI != 0 {
		b = protowire.AppendTag(b, 9, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(mr.LatitudeI))
	}
	if mr.LongitudeI != 0 {
		b = protowire.AppendTag(b, 10, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(mr.LongitudeI))
	}
	if mr.Altitude != 0 {
		b = protowire.AppendTag(b, 11, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(mr.Altitude)))
	}
	if mr.PositionPrecision != 0 {
		b = protowire.AppendTag(b, 12, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(mr.PositionPrecision))
	}
	if mr.NumOnlineLocalNodes != 0 {
		b = protowire.AppendTag(b, 13, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(mr.NumOnlineLocalNodes))
	}
	return b, nil
}

// DecodePayload parses a Data payload according to its port. Unknown
// ports come back as opaque base64-rendered bytes rather than an error.
func DecodePayload(port PortNum, payload []byte) (any, error) {
	switch port {
	case PortTextMessage:
		return &TextMessage{Text: string(payload)}, nil
	case PortPosition:
		p := new(Position)
		if err := p.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return p, nil
	case PortNodeInfo:
		u := new(User)
		if err := u.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return u, nil
	case PortWaypoint:
		w := new(Waypoint)
		if err := w.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return w, nil
	case PortTelemetry:
		t := new(Telemetry)
		if err := t.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return t, nil
	case PortTraceroute:
		rd := new(RouteDiscovery)
		if err := rd.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return rd, nil
	case PortNeighborInfo:
		ni := new(NeighborInfo)
		if err := ni.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return ni, nil
	case PortMapReport:
		mr := new(MapReport)
		if err := mr.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return mr, nil
	default:
		return encoding.StdBase64Data(payload), nil
	}
}
