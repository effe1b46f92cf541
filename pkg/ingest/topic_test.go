package ingest_test

import (
	"testing"

	"github.com/meshwatch/meshwatch/pkg/ingest"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic   string
		ok      bool
		typ     string
		channel string
		user    string
		kind    ingest.Kind
	}{
		{"msh/msk/2/e/LongFast/!015ba416", true, "e", "LongFast", "!015ba416", ingest.KindBinary},
		{"msh/ufa/central/2/e/LongFast/!abcdef01", true, "e", "LongFast", "!abcdef01", ingest.KindBinary},
		{"msh/msk/2/json/LongFast/!015ba416", true, "json", "LongFast", "!015ba416", ingest.KindJSON},
		{"msh/msk/stat/2/!015ba416", true, "stat", "2", "!015ba416", ingest.KindIgnore},
		{"msh/msk/2/map/", true, "2", "map", "", ingest.KindBinary},
		{"too/short", false, "", "", "", 0},
		{"x", false, "", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			tp, ok := ingest.ParseTopic(tt.topic)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if tp.Type != tt.typ {
				t.Errorf("Type = %q, want %q", tp.Type, tt.typ)
			}
			if tp.Channel != tt.channel {
				t.Errorf("Channel = %q, want %q", tp.Channel, tt.channel)
			}
			if tp.User != tt.user {
				t.Errorf("User = %q, want %q", tp.User, tt.user)
			}
			if tp.Kind() != tt.kind {
				t.Errorf("Kind = %v, want %v", tp.Kind(), tt.kind)
			}
		})
	}
}

func TestTopicHasPrefix(t *testing.T) {
	tp, ok := ingest.ParseTopic("msh/kgd/2/e/LongFast/!015ba416")
	if !ok {
		t.Fatal("ParseTopic failed")
	}
	if !tp.HasPrefix("msh/kgd/") {
		t.Error("HasPrefix(msh/kgd/) = false")
	}
	if tp.HasPrefix("msh/msk/") {
		t.Error("HasPrefix(msh/msk/) = true")
	}
}
