// Package store persists everything the ingest plane learns about the
// mesh: per-port message history, the live per-device map state (Dots),
// the active-device set and the short-lived dedup markers.
//
// Two backends implement the same contract: a Redis-backed store for
// shared deployments and a BadgerDB-backed store for single-binary
// embedded use.
package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/meshwatch/meshwatch/pkg/jsontime"
	"github.com/meshwatch/meshwatch/pkg/meshproto"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("store: not found")
)

// DefaultMaxListLen bounds per-port history when Options does not say
// otherwise.
const DefaultMaxListLen = 200

// Options configures behavior shared by all backends.
type Options struct {
	// MaxListLen is the maximum number of records kept per port list.
	// Default is DefaultMaxListLen if zero.
	MaxListLen int
}

func (o *Options) maxListLen() int {
	if o != nil && o.MaxListLen > 0 {
		return o.MaxListLen
	}
	return DefaultMaxListLen
}

// Dot is the live map state of one device. A stored Dot is always
// valid; an update that merges into an invalid state removes the
// record instead.
type Dot struct {
	LongName  string         `json:"longName,omitempty"`
	ShortName string         `json:"shortName,omitempty"`
	Longitude float64        `json:"longitude,omitempty"`
	Latitude  float64        `json:"latitude,omitempty"`
	MQTT      string         `json:"mqtt,omitempty"`
	STime     jsontime.Milli `json:"sTime"`
}

// Valid reports whether the Dot carries enough state to show on the
// map: a real coordinate pair or at least one name.
func (d *Dot) Valid() bool {
	if d.Longitude != 0 && d.Latitude != 0 {
		return true
	}
	return d.LongName != "" || d.ShortName != ""
}

// fields renders the Dot as the flat string map stored in the hash.
func (d *Dot) fields() map[string]string {
	return map[string]string{
		"longName":  d.LongName,
		"shortName": d.ShortName,
		"longitude": strconv.FormatFloat(d.Longitude, 'f', -1, 64),
		"latitude":  strconv.FormatFloat(d.Latitude, 'f', -1, 64),
		"mqtt":      d.MQTT,
		"s_time":    strconv.FormatInt(d.STime.UnixMilli(), 10),
	}
}

// dotFromFields rebuilds a Dot from the stored hash. Unparseable
// numeric fields read as zero, which the validity rules then handle.
func dotFromFields(m map[string]string) *Dot {
	d := &Dot{
		LongName:  m["longName"],
		ShortName: m["shortName"],
		MQTT:      m["mqtt"],
	}
	d.Longitude, _ = strconv.ParseFloat(m["longitude"], 64)
	d.Latitude, _ = strconv.ParseFloat(m["latitude"], 64)
	if ms, err := strconv.ParseInt(m["s_time"], 10, 64); err == nil {
		d.STime = jsontime.Milli(time.UnixMilli(ms))
	}
	return d
}

// DotPatch is a partial Dot update. Nil fields keep their stored value.
type DotPatch struct {
	LongName  *string
	ShortName *string
	Longitude *float64
	Latitude  *float64
	MQTT      *string
	STime     *jsontime.Milli
}

// apply merges the patch into the Dot.
func (d *Dot) apply(p DotPatch) {
	if p.LongName != nil {
		d.LongName = *p.LongName
	}
	if p.ShortName != nil {
		d.ShortName = *p.ShortName
	}
	if p.Longitude != nil {
		d.Longitude = *p.Longitude
	}
	if p.Latitude != nil {
		d.Latitude = *p.Latitude
	}
	if p.MQTT != nil {
		d.MQTT = *p.MQTT
	}
	if p.STime != nil {
		d.STime = *p.STime
	}
}

// Store is the persistence contract of the ingest plane.
type Store interface {
	// AppendPortnum appends one JSON-encoded record to the
	// {portName}:{deviceID} list and trims it to the configured
	// maximum. The caller enforces at-most-one append per logical
	// packet via MarkSeen.
	AppendPortnum(ctx context.Context, portName, deviceID string, record []byte) error

	// GetPortnum returns up to limit records, newest first.
	GetPortnum(ctx context.Context, portName, deviceID string, limit int) ([][]byte, error)

	// ListPortnums enumerates the device ids that have records under
	// the given port name.
	ListPortnums(ctx context.Context, portName string) ([]string, error)

	// GetDot fetches the map state of one device. Returns ErrNotFound
	// if the device has no valid Dot.
	GetDot(ctx context.Context, deviceID string) (*Dot, error)

	// ListDots returns every stored Dot keyed by device id.
	ListDots(ctx context.Context) (map[string]*Dot, error)

	// UpsertDot read-merge-writes the device's Dot. A merge that ends
	// valid is stored and the device marked active; a merge that ends
	// invalid deletes the record and returns (nil, nil).
	UpsertDot(ctx context.Context, deviceID string, patch DotPatch) (*Dot, error)

	// SetActiveDevice adds the device to the active set.
	SetActiveDevice(ctx context.Context, deviceID string) error

	// ClearActiveDevice removes the device from the active set.
	ClearActiveDevice(ctx context.Context, deviceID string) error

	// ActiveDevices lists the members of the active set.
	ActiveDevices(ctx context.Context) ([]string, error)

	// MarkSeen atomically creates key with a TTL. Returns true iff the
	// key was newly created, i.e. the caller won the race.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// DeleteDevice removes all traces of the device (port lists, Dot,
	// set membership) under both its numeric and hex spellings.
	// Returns the number of keys removed.
	DeleteDevice(ctx context.Context, deviceID string) (int, error)

	// Close releases backend resources.
	Close() error
}

// activeKey is the set of device ids with a valid Dot.
const activeKey = "devices:active"

func portKey(portName, deviceID string) string {
	return portName + ":" + deviceID
}

func dotKey(deviceID string) string {
	return "dots:" + deviceID
}

// deviceForms returns every spelling a device may be keyed under: the
// input itself, the decimal form and the "!hex" gateway form.
func deviceForms(deviceID string) []string {
	id, err := meshproto.ParseNodeID(deviceID)
	if err != nil {
		return []string{deviceID}
	}
	forms := []string{id.Key(), id.String()}
	if deviceID != forms[0] && deviceID != forms[1] {
		forms = append(forms, deviceID)
	}
	return forms
}
