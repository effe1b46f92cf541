package meshproto

import "testing"

func TestNodeIDString(t *testing.T) {
	id := NodeID(0xda639bf0)
	if got, want := id.String(), "!da639bf0"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got, want := id.Key(), "3663568880"; got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		in      string
		want    NodeID
		wantErr bool
	}{
		{"!da639bf0", 0xda639bf0, false},
		{"!00000001", 1, false},
		{"3663568880", 0xda639bf0, false},
		{"1", 1, false},
		{"!xyz", 0, true},
		{"!da639bf", 0, true},
		{"", 0, true},
		{"not-a-node", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseNodeID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseNodeID(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseNodeID(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseNodeID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGatewayNodeID(t *testing.T) {
	if id, ok := GatewayNodeID("!da639bf0"); !ok || id != 0xda639bf0 {
		t.Fatalf("GatewayNodeID(!da639bf0) = %v, %v", id, ok)
	}
	if id, ok := GatewayNodeID("da639bf0"); !ok || id != 0xda639bf0 {
		t.Fatalf("GatewayNodeID(da639bf0) = %v, %v", id, ok)
	}
	for _, bad := range []string{"", "!", "abc", "!da639bf000", "gggggggg"} {
		if _, ok := GatewayNodeID(bad); ok {
			t.Fatalf("GatewayNodeID(%q): expected failure", bad)
		}
	}
}

func TestBroadcast(t *testing.T) {
	if uint32(Broadcast) != 0xFFFFFFFF {
		t.Fatalf("Broadcast = %#x", uint32(Broadcast))
	}
}
