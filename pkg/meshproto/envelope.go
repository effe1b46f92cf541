package meshproto

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame size bounds for a ServiceEnvelope as published by gateways.
const (
	MinFrameBytes = 10
	MaxFrameBytes = 512 * 1024
)

var (
	ErrFrameTooShort  = errors.New("meshproto: frame too short")
	ErrFrameTooLarge  = errors.New("meshproto: frame too large")
	ErrBadLeadingTag  = errors.New("meshproto: frame does not start with a packet field")
	ErrFrameTruncated = errors.New("meshproto: frame length prefix exceeds buffer")
	ErrNoPacket       = errors.New("meshproto: envelope has no packet")
)

// ValidateFrame cheaply rejects payloads that cannot be a
// ServiceEnvelope before the full decode runs: size bounds, the
// leading tag (field 1, length-delimited) and a length prefix that
// fits the buffer. Gateways also publish JSON and plain-text status
// frames on nearby topics, so this gate keeps the decode path quiet.
func ValidateFrame(b []byte) error {
	if len(b) < MinFrameBytes {
		return ErrFrameTooShort
	}
	if len(b) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	if b[0] != 0x0A {
		return ErrBadLeadingTag
	}
	size, n := protowire.ConsumeVarint(b[1:])
	if n < 0 {
		return ErrFrameTruncated
	}
	if size > uint64(len(b)-1-n) {
		return ErrFrameTruncated
	}
	return nil
}

// ServiceEnvelope wraps one mesh packet together with the channel and
// gateway that relayed it to the broker.
type ServiceEnvelope struct {
	Packet    *MeshPacket
	ChannelID string
	GatewayID string
}

func (se *ServiceEnvelope) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: envelope: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			var raw []byte
			raw, n, err = consumeBytes(b, num, typ)
			if err == nil {
				pkt := new(MeshPacket)
				if err = pkt.UnmarshalBinary(raw); err == nil {
					se.Packet = pkt
				}
			}
		case 2:
			se.ChannelID, n, err = consumeString(b, num, typ)
		case 3:
			se.GatewayID, n, err = consumeString(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: envelope: %w", err)
		}
		b = b[n:]
	}
	if se.Packet == nil {
		return ErrNoPacket
	}
	return nil
}

func (se *ServiceEnvelope) MarshalBinary() ([]byte, error) {
	var b []byte
	if se.Packet != nil {
		raw, err := se.Packet.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	if se.ChannelID != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, se.ChannelID)
	}
	if se.GatewayID != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, se.GatewayID)
	}
	return b, nil
}

// MeshPacket is one radio packet. Exactly one of Decoded and Encrypted
// is populated on a well-formed packet.
type MeshPacket struct {
	From         NodeID
	To           NodeID
	Channel      uint32
	Decoded      *Data
	Encrypted    []byte
	ID           uint32
	RxTime       uint32
	RxSNR        float32
	HopLimit     uint32
	WantAck      bool
	RxRSSI       int32
	ViaMQTT      bool
	HopStart     uint32
	PublicKey    []byte
	PKIEncrypted bool
}

// IsBroadcast reports whether the packet addresses every node.
func (p *MeshPacket) IsBroadcast() bool { return p.To == Broadcast }

func (p *MeshPacket) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: packet: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			var v uint32
			v, n, err = consumeUint32(b, num, typ)
			p.From = NodeID(v)
		case 2:
			var v uint32
			v, n, err = consumeUint32(b, num, typ)
			p.To = NodeID(v)
		case 3:
			p.Channel, n, err = consumeUint32(b, num, typ)
		case 4:
			var raw []byte
			raw, n, err = consumeBytes(b, num, typ)
			if err == nil {
				d := new(Data)
				if err = d.UnmarshalBinary(raw); err == nil {
					p.Decoded = d
				}
			}
		case 5:
			p.Encrypted, n, err = consumeBytes(b, num, typ)
		case 6:
			p.ID, n, err = consumeUint32(b, num, typ)
		case 7:
			p.RxTime, n, err = consumeUint32(b, num, typ)
		case 8:
			p.RxSNR, n, err = consumeFloat(b, num, typ)
		case 9:
			p.HopLimit, n, err = consumeUint32(b, num, typ)
		case 10:
			p.WantAck, n, err = consumeBool(b, num, typ)
		case 12:
			p.RxRSSI, n, err = consumeInt32(b, num, typ)
		case 14:
			p.ViaMQTT, n, err = consumeBool(b, num, typ)
		case 15:
			p.HopStart, n, err = consumeUint32(b, num, typ)
		case 16:
			p.PublicKey, n, err = consumeBytes(b, num, typ)
		case 17:
			p.PKIEncrypted, n, err = consumeBool(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: packet: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (p *MeshPacket) MarshalBinary() ([]byte, error) {
	var b []byte
	if p.From != 0 {
		b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(p.From))
	}
	if p.To != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(p.To))
	}
	if p.Channel != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Channel))
	}
	if p.Decoded != nil {
		raw, err := p.Decoded.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	if len(p.Encrypted) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Encrypted)
	}
	if p.ID != 0 {
		b = protowire.AppendTag(b, 6, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.ID)
	}
	if p.RxTime != 0 {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.RxTime)
	}
	if p.RxSNR != 0 {
		b = protowire.AppendTag(b, 8, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(p.RxSNR))
	}
	if p.HopLimit != 0 {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopLimit))
	}
	if p.WantAck {
		b = protowire.AppendTag(b, 10, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if p.RxRSSI != 0 {
		b = protowire.AppendTag(b, 12, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(p.RxRSSI)))
	}
	if p.ViaMQTT {
		b = protowire.AppendTag(b, 14, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if p.HopStart != 0 {
		b = protowire.AppendTag(b, 15, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopStart))
	}
	if len(p.PublicKey) > 0 {
		b = protowire.AppendTag(b, 16, protowire.BytesType)
		b = protowire.AppendBytes(b, p.PublicKey)
	}
	if p.PKIEncrypted {
		b = protowire.AppendTag(b, 17, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

// Data is the application layer of a packet: a port number and the
// port-specific payload bytes.
type Data struct {
	Portnum      PortNum `json:"portnum,omitempty"`
	Payload      []byte  `json:"payload,omitempty"`
	WantResponse bool    `json:"wantResponse,omitempty"`
	Dest         uint32  `json:"dest,omitempty"`
	Source       uint32  `json:"source,omitempty"`
	RequestID    uint32  `json:"requestId,omitempty"`
	ReplyID      uint32  `json:"replyId,omitempty"`
	Emoji        uint32  `json:"emoji,omitempty"`
	Bitfield     uint32  `json:"bitfield,omitempty"`
}

func (d *Data) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("meshproto: data: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var err error
		switch num {
		case 1:
			var v uint32
			v, n, err = consumeUint32(b, num, typ)
			d.Portnum = PortNum(v)
		case 2:
			d.Payload, n, err = consumeBytes(b, num, typ)
		case 3:
			d.WantResponse, n, err = consumeBool(b, num, typ)
		case 4:
			d.Dest, n, err = consumeUint32(b, num, typ)
		case 5:
			d.Source, n, err = consumeUint32(b, num, typ)
		case 6:
			d.RequestID, n, err = consumeUint32(b, num, typ)
		case 7:
			d.ReplyID, n, err = consumeUint32(b, num, typ)
		case 8:
			d.Emoji, n, err = consumeUint32(b, num, typ)
		case 9:
			d.Bitfield, n, err = consumeUint32(b, num, typ)
		default:
			n, err = skipField(b, num, typ)
		}
		if err != nil {
			return fmt.Errorf("meshproto: data: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (d *Data) MarshalBinary() ([]byte, error) {
	var b []byte
	if d.Portnum != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Portnum))
	}
	if len(d.Payload) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Payload)
	}
	if d.WantResponse {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if d.Dest != 0 {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.Dest)
	}
	if d.Source != 0 {
		b = protowire.AppendTag(b, 5, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.Source)
	}
	if d.RequestID != 0 {
		b = protowire.AppendTag(b, 6, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.RequestID)
	}
	if d.ReplyID != 0 {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.ReplyID)
	}
	if d.Emoji != 0 {
		b = protowire.AppendTag(b, 8, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.Emoji)
	}
	if d.Bitfield != 0 {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Bitfield))
	}
	return b, nil
}

// DecodeEnvelope validates and decodes one MQTT frame.
func DecodeEnvelope(frame []byte) (*ServiceEnvelope, error) {
	if err := ValidateFrame(frame); err != nil {
		return nil, err
	}
	se := new(ServiceEnvelope)
	if err := se.UnmarshalBinary(frame); err != nil {
		return nil, err
	}
	return se, nil
}

// suppressedDecodeErrors lists substrings of decode and routing errors
// that recur constantly on public brokers and carry no signal.
var suppressedDecodeErrors = []string{
	"illegal tag",
	"index out of range",
	"invalid wire type",
	"Error received for packet",
	"TIMEOUT",
	"TOO_LARGE",
	"NOT_AUTHORIZED",
}

// SuppressDecodeError reports whether a decode failure is routine
// broker noise that should not reach the logs.
func SuppressDecodeError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	for _, s := range suppressedDecodeErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	// Routing error enum names such as NO_RESPONSE or NO_CHANNEL.
	if strings.Contains(msg, "NO_") {
		return true
	}
	return false
}
