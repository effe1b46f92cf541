// Package pipeline runs the per-packet ingest path: decode, dedup,
// store write, map update and chat-forward hand-off.
package pipeline

import (
	"encoding/json"

	"github.com/meshwatch/meshwatch/pkg/jsontime"
)

// Record is one persisted packet observation. Records are appended as
// JSON to the {PORTNAME}:{deviceId} list.
type Record struct {
	// Timestamp is the server clock at ingest, ms since epoch.
	Timestamp jsontime.Milli `json:"timestamp"`
	From      uint32         `json:"from"`
	To        uint32         `json:"to"`
	// RxTime is the radio-reported receive time in ms. The radio
	// reports seconds; the stored value is seconds * 1000.
	RxTime    int64   `json:"rxTime"`
	RxSNR     float32 `json:"rxSnr"`
	RxRSSI    int32   `json:"rxRssi"`
	HopLimit  uint32  `json:"hopLimit"`
	GatewayID string  `json:"gatewayId"`
	Broker    string  `json:"broker"`
	// RawData is the decoded payload in its port-specific shape.
	RawData any `json:"rawData"`
}

// Encode renders the record for list storage.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses a stored record. RawData comes back as the
// generic JSON shape.
func DecodeRecord(b []byte) (*Record, error) {
	r := new(Record)
	if err := json.Unmarshal(b, r); err != nil {
		return nil, err
	}
	return r, nil
}
