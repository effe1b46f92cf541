package meshproto

import (
	"bytes"
	"errors"
	"testing"
)

func TestValidateFrame(t *testing.T) {
	huge := make([]byte, MaxFrameBytes+1)
	huge[0] = 0x0A

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"too short", []byte{0x0A, 0x01, 0x00}, ErrFrameTooShort},
		{"too large", huge, ErrFrameTooLarge},
		{"wrong leading tag", append([]byte{0x12}, make([]byte, 16)...), ErrBadLeadingTag},
		{"length exceeds buffer", []byte{0x0A, 0x80, 0x80, 0x80, 0x80, 0x01, 0, 0, 0, 0, 0}, ErrFrameTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateFrame(tt.frame); !errors.Is(err, tt.want) {
				t.Fatalf("ValidateFrame() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := &ServiceEnvelope{
		Packet: &MeshPacket{
			From:    0x0ABC1234,
			To:      Broadcast,
			Channel: 8,
			Decoded: &Data{
				Portnum: PortTextMessage,
				Payload: []byte("hello mesh"),
			},
			ID:       0xDEADBEEF,
			RxTime:   1714893720,
			RxSNR:    5.25,
			HopLimit: 3,
			WantAck:  true,
			RxRSSI:   -80,
			ViaMQTT:  true,
			HopStart: 7,
		},
		ChannelID: "LongFast",
		GatewayID: "!0abc1234",
	}

	frame, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if err := ValidateFrame(frame); err != nil {
		t.Fatalf("ValidateFrame on own output: %v", err)
	}

	out, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if out.ChannelID != in.ChannelID || out.GatewayID != in.GatewayID {
		t.Fatalf("envelope fields = %q/%q, want %q/%q",
			out.ChannelID, out.GatewayID, in.ChannelID, in.GatewayID)
	}
	p := out.Packet
	if p == nil {
		t.Fatal("packet missing after decode")
	}
	if p.From != in.Packet.From || p.To != in.Packet.To || p.ID != in.Packet.ID {
		t.Fatalf("packet ids = %v/%v/%#x, want %v/%v/%#x",
			p.From, p.To, p.ID, in.Packet.From, in.Packet.To, in.Packet.ID)
	}
	if p.RxSNR != 5.25 || p.RxRSSI != -80 || p.RxTime != 1714893720 {
		t.Fatalf("rx fields = %v/%v/%v", p.RxSNR, p.RxRSSI, p.RxTime)
	}
	if p.HopLimit != 3 || p.HopStart != 7 || !p.WantAck || !p.ViaMQTT {
		t.Fatalf("hop fields = %v/%v/%v/%v", p.HopLimit, p.HopStart, p.WantAck, p.ViaMQTT)
	}
	if !p.IsBroadcast() {
		t.Fatal("IsBroadcast() = false for 0xFFFFFFFF")
	}
	if p.Decoded == nil {
		t.Fatal("decoded data missing")
	}
	if p.Decoded.Portnum != PortTextMessage || !bytes.Equal(p.Decoded.Payload, []byte("hello mesh")) {
		t.Fatalf("data = %v %q", p.Decoded.Portnum, p.Decoded.Payload)
	}
}

func TestEnvelopeWithoutPacket(t *testing.T) {
	in := &ServiceEnvelope{ChannelID: "LongFast", GatewayID: "!0abc1234"}
	frame, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	se := new(ServiceEnvelope)
	if err := se.UnmarshalBinary(frame); !errors.Is(err, ErrNoPacket) {
		t.Fatalf("UnmarshalBinary = %v, want ErrNoPacket", err)
	}
}

func TestEncryptedPacketRoundTrip(t *testing.T) {
	in := &MeshPacket{
		From:      0x0ABC1234,
		To:        0x55667788,
		Encrypted: []byte{0x01, 0x02, 0x03, 0x04},
		ID:        77,
	}
	raw, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	out := new(MeshPacket)
	if err := out.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if out.Decoded != nil {
		t.Fatal("decoded must stay nil on an encrypted packet")
	}
	if !bytes.Equal(out.Encrypted, in.Encrypted) {
		t.Fatalf("encrypted = %x, want %x", out.Encrypted, in.Encrypted)
	}
}

func TestSuppressDecodeError(t *testing.T) {
	suppressed := []string{
		"proto: illegal tag 0",
		"slice index out of range",
		"cannot parse: invalid wire type 6",
		"Error received for packet 42",
		"routing NO_RESPONSE",
		"routing NO_CHANNEL",
		"got TIMEOUT from node",
		"TOO_LARGE",
		"NOT_AUTHORIZED",
	}
	for _, msg := range suppressed {
		if !SuppressDecodeError(errors.New(msg)) {
			t.Fatalf("SuppressDecodeError(%q) = false", msg)
		}
	}
	loud := []string{
		"connection refused",
		"meshproto: envelope has no packet",
	}
	for _, msg := range loud {
		if SuppressDecodeError(errors.New(msg)) {
			t.Fatalf("SuppressDecodeError(%q) = true", msg)
		}
	}
}
