package meshproto

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Low-level field consumers over protowire. Two schema generations are
// in the wild: current firmware emits coordinates as sfixed32 and the
// RF-layer ids as fixed32, while the 1.x schema used sint32/varint for
// the same fields. Every numeric consumer therefore accepts both wire
// forms instead of insisting on one.

func errWireType(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("meshproto: field %d: unexpected wire type %d", num, typ)
}

func consumeUint32(b []byte, num protowire.Number, typ protowire.Type) (uint32, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		return uint32(v), n, nil
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		return v, n, nil
	default:
		return 0, 0, errWireType(num, typ)
	}
}

// consumeInt32 reads a plain int32 (negative values travel as 64-bit
// two's-complement varints).
func consumeInt32(b []byte, num protowire.Number, typ protowire.Type) (int32, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		return int32(uint32(v)), n, nil
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		return int32(v), n, nil
	default:
		return 0, 0, errWireType(num, typ)
	}
}

// consumeSigned32 reads a coordinate-style field: sfixed32 in the
// current schema, zig-zag sint32 in the legacy one.
func consumeSigned32(b []byte, num protowire.Number, typ protowire.Type) (int32, int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		return int32(v), n, nil
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		return int32(protowire.DecodeZigZag(v)), n, nil
	default:
		return 0, 0, errWireType(num, typ)
	}
}

func consumeFloat(b []byte, num protowire.Number, typ protowire.Type) (float32, int, error) {
	if typ != protowire.Fixed32Type {
		return 0, 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float32frombits(v), n, nil
}

func consumeBool(b []byte, num protowire.Number, typ protowire.Type) (bool, int, error) {
	if typ != protowire.VarintType {
		return false, 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return false, 0, protowire.ParseError(n)
	}
	return v != 0, n, nil
}

// consumeBytes copies the field out of the frame so decoded messages
// never alias the transport buffer.
func consumeBytes(b []byte, num protowire.Number, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeString(b []byte, num protowire.Number, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return v, n, nil
}

// consumeRepeatedFixed32 appends one or more fixed32 values: packed
// (length-delimited) or a single unpacked element.
func consumeRepeatedFixed32(b []byte, dst []uint32, num protowire.Number, typ protowire.Type) ([]uint32, int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		return append(dst, v), n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed32(packed)
			if m < 0 {
				return dst, 0, protowire.ParseError(m)
			}
			dst = append(dst, v)
			packed = packed[m:]
		}
		return dst, n, nil
	default:
		return dst, 0, errWireType(num, typ)
	}
}

// consumeRepeatedInt32 appends one or more varint int32 values, packed
// or unpacked.
func consumeRepeatedInt32(b []byte, dst []int32, num protowire.Number, typ protowire.Type) ([]int32, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		return append(dst, int32(uint32(v))), n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return dst, 0, protowire.ParseError(m)
			}
			dst = append(dst, int32(uint32(v)))
			packed = packed[m:]
		}
		return dst, n, nil
	default:
		return dst, 0, errWireType(num, typ)
	}
}

// skipField discards a field the decoder has no use for.
func skipField(b []byte, num protowire.Number, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

// appendPackedFixed32 emits a packed repeated fixed32 field.
func appendPackedFixed32(b []byte, num protowire.Number, vals []uint32) []byte {
	if len(vals) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(vals)))
	for _, v := range vals {
		b = protowire.AppendFixed32(b, v)
	}
	return b
}

// appendPackedInt32 emits a packed repeated int32 field.
func appendPackedInt32(b []byte, num protowire.Number, vals []int32) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b
}
