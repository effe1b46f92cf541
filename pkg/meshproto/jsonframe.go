package meshproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNotObject reports a JSON frame whose top level is not an object.
var ErrNotObject = errors.New("meshproto: json frame is not an object")

// unmarshalJSON unmarshals JSON data into v, attempting to repair
// malformed JSON. Gateways with JSON output enabled occasionally emit
// truncated or unescaped frames; if the initial unmarshal fails with a
// syntax error, the data is run through jsonrepair once and retried.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, err := jsonrepair.JSONRepair(string(data))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// normalizeKey folds the spelling variants seen across firmware
// versions ("latitudeI", "latitude_i", "latitudei") onto one form.
func normalizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// JSONFrame is a gateway frame published on a json topic. Field names
// vary between camelCase and snake_case depending on the firmware that
// produced them, so reads go through a spelling-normalized index.
type JSONFrame struct {
	fields map[string]any
	norm   map[string]any
}

// DecodeJSONFrame parses one json-topic payload.
func DecodeJSONFrame(data []byte) (*JSONFrame, error) {
	var v any
	if err := unmarshalJSON(data, &v); err != nil {
		return nil, fmt.Errorf("meshproto: json frame: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return newJSONFrame(obj), nil
}

func newJSONFrame(obj map[string]any) *JSONFrame {
	f := &JSONFrame{fields: obj, norm: make(map[string]any, len(obj))}
	for k, v := range obj {
		f.norm[normalizeKey(k)] = v
	}
	return f
}

// Lookup fetches a field by any spelling of its name.
func (f *JSONFrame) Lookup(name string) (any, bool) {
	v, ok := f.norm[normalizeKey(name)]
	return v, ok
}

// String returns a string field, or "" when absent or not a string.
func (f *JSONFrame) String(name string) string {
	if v, ok := f.Lookup(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Number returns a numeric field as float64.
func (f *JSONFrame) Number(name string) (float64, bool) {
	v, ok := f.Lookup(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		fv, err := n.Float64()
		return fv, err == nil
	default:
		return 0, false
	}
}

// Uint32 returns a numeric field truncated to uint32. Ids above 2^31
// arrive as float64 and survive the round trip exactly (float64 holds
// all 32-bit integers).
func (f *JSONFrame) Uint32(name string) uint32 {
	n, ok := f.Number(name)
	if !ok || n < 0 || n > math.MaxUint32 {
		return 0
	}
	return uint32(n)
}

// Int32 returns a numeric field as int32.
func (f *JSONFrame) Int32(name string) int32 {
	n, ok := f.Number(name)
	if !ok {
		return 0
	}
	return int32(n)
}

// Type is the frame's payload type tag ("text", "position", ...).
func (f *JSONFrame) Type() string { return f.String("type") }

// Port maps the type tag to a port number.
func (f *JSONFrame) Port() (PortNum, bool) { return PortFromJSONType(f.Type()) }

// From is the sending node.
func (f *JSONFrame) From() NodeID { return NodeID(f.Uint32("from")) }

// To is the destination node; absent means broadcast.
func (f *JSONFrame) To() NodeID {
	if _, ok := f.Lookup("to"); !ok {
		return Broadcast
	}
	return NodeID(f.Uint32("to"))
}

// PacketID is the RF-layer packet id.
func (f *JSONFrame) PacketID() uint32 { return f.Uint32("id") }

// Timestamp is the gateway receive time in unix seconds.
func (f *JSONFrame) Timestamp() uint32 { return f.Uint32("timestamp") }

// Sender is the relaying gateway's node id string ("!hex").
func (f *JSONFrame) Sender() string { return f.String("sender") }

// SNR is the reported signal-to-noise ratio.
func (f *JSONFrame) SNR() float64 {
	n, _ := f.Number("snr")
	return n
}

// RSSI is the reported signal strength.
func (f *JSONFrame) RSSI() int32 { return f.Int32("rssi") }

// Payload returns the payload object wrapped in its own
// spelling-normalized frame, or nil when the payload is not an object.
func (f *JSONFrame) Payload() *JSONFrame {
	v, ok := f.Lookup("payload")
	if !ok {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return newJSONFrame(obj)
}

// Text extracts the message text of a text frame: either a payload
// object carrying a text field or a bare string payload.
func (f *JSONFrame) Text() string {
	v, ok := f.Lookup("payload")
	if !ok {
		return ""
	}
	switch p := v.(type) {
	case string:
		return p
	case map[string]any:
		return newJSONFrame(p).String("text")
	default:
		return ""
	}
}

// Fields exposes the original decoded object for record storage.
func (f *JSONFrame) Fields() map[string]any { return f.fields }
