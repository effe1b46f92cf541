package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/meshwatch/meshwatch/pkg/jsontime"
	"github.com/meshwatch/meshwatch/pkg/meshproto"
	"github.com/meshwatch/meshwatch/pkg/store"
)

// Dots maintains the per-device map state. Every packet bumps the
// device's last-seen time; position and nodeinfo packets also update
// coordinates and names. A device whose merged state ends up invalid
// is removed from the map and the active set.
type Dots struct {
	store  store.Store
	window time.Duration

	// OnUpdate, when set, observes every applied change: dot is the
	// merged state, or nil when the device was removed. Used by the
	// live map feed. Must not block.
	OnUpdate func(deviceID string, dot *store.Dot)

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewDots builds the aggregator. A zero window means
// DefaultDedupWindow.
func NewDots(s store.Store, window time.Duration) *Dots {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Dots{store: s, window: window, now: time.Now}
}

// Update applies one packet to the device's Dot. The payload is the
// port-decoded value; only *meshproto.Position and *meshproto.User
// carry content, everything else is an activity bump.
func (d *Dots) Update(ctx context.Context, from meshproto.NodeID, payload any, gatewayID string) error {
	now := d.now()
	patch := store.DotPatch{
		MQTT:  strPtr(mqttFlag(from, gatewayID)),
		STime: milliPtr(jsontime.Milli(now)),
	}

	var key string
	switch p := payload.(type) {
	case *meshproto.Position:
		if p.LatitudeI == 0 || p.LongitudeI == 0 {
			key = tickDedupKey(from, now)
			break
		}
		lat, lon := p.Latitude(), p.Longitude()
		patch.Latitude = &lat
		patch.Longitude = &lon
		key = posDedupKey(from, lat, lon)
	case *meshproto.User:
		long := CleanUserName(p.LongName)
		short := CleanUserName(p.ShortName)
		patch.LongName = &long
		patch.ShortName = &short
		key = nameDedupKey(from, long, short)
	default:
		key = tickDedupKey(from, now)
	}

	won, err := d.store.MarkSeen(ctx, key, d.window)
	if err != nil {
		return fmt.Errorf("pipeline: dot dedup: %w", err)
	}
	if !won {
		return nil
	}

	deviceID := from.Key()
	dot, err := d.store.UpsertDot(ctx, deviceID, patch)
	if err != nil {
		return fmt.Errorf("pipeline: dot upsert: %w", err)
	}
	if dot == nil {
		if err := d.store.ClearActiveDevice(ctx, deviceID); err != nil {
			return fmt.Errorf("pipeline: clear active: %w", err)
		}
	} else {
		if err := d.store.SetActiveDevice(ctx, deviceID); err != nil {
			return fmt.Errorf("pipeline: set active: %w", err)
		}
	}
	if d.OnUpdate != nil {
		d.OnUpdate(deviceID, dot)
	}
	return nil
}

// mqttFlag is "1" when the device acts as its own gateway: the relay
// that published the frame is the sender itself.
func mqttFlag(from meshproto.NodeID, gatewayID string) string {
	if gw, ok := meshproto.GatewayNodeID(gatewayID); ok && gw == from {
		return "1"
	}
	return "0"
}

func strPtr(s string) *string { return &s }

func milliPtr(m jsontime.Milli) *jsontime.Milli { return &m }
