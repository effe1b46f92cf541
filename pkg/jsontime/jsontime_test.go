package jsontime_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/meshwatch/meshwatch/pkg/jsontime"
)

func TestMilliRoundTrip(t *testing.T) {
	now := time.UnixMilli(1714893720123)
	m := jsontime.Milli(now)

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != "1714893720123" {
		t.Fatalf("Marshal = %s, want 1714893720123", b)
	}

	var back jsontime.Milli
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Time().Equal(now) {
		t.Fatalf("round trip = %v, want %v", back.Time(), now)
	}
}

func TestMilliInStruct(t *testing.T) {
	type rec struct {
		Timestamp jsontime.Milli `json:"timestamp"`
	}
	var r rec
	if err := json.Unmarshal([]byte(`{"timestamp":1000}`), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.Timestamp.UnixMilli() != 1000 {
		t.Fatalf("UnixMilli = %d, want 1000", r.Timestamp.UnixMilli())
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"3s"`, 3 * time.Second},
		{`"10m"`, 10 * time.Minute},
		{`"1h30m"`, 90 * time.Minute},
		{`5000000000`, 5 * time.Second},
		{`null`, 0},
	}
	for _, tt := range tests {
		var d jsontime.Duration
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if d.Duration() != tt.want {
			t.Fatalf("Unmarshal(%s) = %v, want %v", tt.in, d.Duration(), tt.want)
		}
	}
}

func TestDurationMarshal(t *testing.T) {
	d := jsontime.Duration(8 * time.Second)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"8s"` {
		t.Fatalf("Marshal = %s, want \"8s\"", b)
	}
}

func TestDurationInvalid(t *testing.T) {
	var d jsontime.Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatal("expected error for invalid duration string")
	}
}
