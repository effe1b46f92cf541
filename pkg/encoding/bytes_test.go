package encoding_test

import (
	"encoding/json"
	"testing"

	"github.com/meshwatch/meshwatch/pkg/encoding"
)

func TestStdBase64DataRoundTrip(t *testing.T) {
	in := encoding.StdBase64Data{0xd4, 0xf1, 0xbb, 0x3a}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"1PG7Og=="` {
		t.Fatalf("Marshal = %s, want \"1PG7Og==\"", b)
	}

	var out encoding.StdBase64Data
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("round trip = %x, want %x", out, in)
	}
}

func TestStdBase64DataNull(t *testing.T) {
	out := encoding.StdBase64Data{1, 2, 3}
	if err := json.Unmarshal([]byte("null"), &out); err != nil {
		t.Fatalf("Unmarshal null: %v", err)
	}
	if string(out) != "\x01\x02\x03" {
		t.Fatal("null must leave the value untouched")
	}
}

func TestStdBase64DataInvalid(t *testing.T) {
	var out encoding.StdBase64Data
	if err := json.Unmarshal([]byte(`"%%%"`), &out); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if err := json.Unmarshal([]byte(`42`), &out); err == nil {
		t.Fatal("expected error for non-string input")
	}
}

func TestHexDataRoundTrip(t *testing.T) {
	in := encoding.HexData{0x01, 0x5b, 0xa4, 0x16}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"015ba416"` {
		t.Fatalf("Marshal = %s, want \"015ba416\"", b)
	}

	var out encoding.HexData
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("round trip = %x, want %x", out, in)
	}
	if out.String() != "015ba416" {
		t.Fatalf("String = %q, want %q", out.String(), "015ba416")
	}
}
