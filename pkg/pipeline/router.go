package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/meshwatch/meshwatch/pkg/groupbuf"
	"github.com/meshwatch/meshwatch/pkg/ingest"
	"github.com/meshwatch/meshwatch/pkg/jsontime"
	"github.com/meshwatch/meshwatch/pkg/meshproto"
	"github.com/meshwatch/meshwatch/pkg/store"
)

// ForwardFunc hands a text broadcast to the chat-forward path. It is
// called on the worker goroutine and must not block; the group buffer
// behind it only takes a lock.
type ForwardFunc func(ev groupbuf.Event, gatewayID string, rx groupbuf.Reception)

// RouterConfig wires a Router.
type RouterConfig struct {
	Store store.Store
	// Keys decrypt packets published in their over-the-air form.
	Keys *meshproto.KeyRing
	// DedupWindow is the TTL of store-level dedup markers. Zero means
	// DefaultDedupWindow.
	DedupWindow time.Duration
	// AllowedPrefixes limits chat forwarding to these topic roots.
	// Empty means no forwarding.
	AllowedPrefixes []string
	// Forward receives text broadcasts. Nil disables forwarding.
	Forward ForwardFunc
	// ForwardBrokers names the brokers whose traffic may forward to
	// chat. Nil means every broker.
	ForwardBrokers map[string]bool
	Logger         *slog.Logger
}

// Router is the per-packet ingest path. One Router serves all workers;
// it holds no per-packet state.
type Router struct {
	store   store.Store
	dots    *Dots
	keys    *meshproto.KeyRing
	window  time.Duration
	allowed []string
	forward ForwardFunc
	brokers map[string]bool
	log     *slog.Logger

	now func() time.Time
}

// NewRouter builds the router and its Dot aggregator.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	keys := cfg.Keys
	if keys == nil {
		keys, _ = meshproto.NewKeyRing(meshproto.DefaultPSKBase64)
	}
	return &Router{
		store:   cfg.Store,
		dots:    NewDots(cfg.Store, window),
		keys:    keys,
		window:  window,
		allowed: cfg.AllowedPrefixes,
		forward: cfg.Forward,
		brokers: cfg.ForwardBrokers,
		log:     logger.With("component", "router"),
	}
}

// Dots exposes the aggregator, e.g. to attach a live-feed hook.
func (r *Router) Dots() *Dots { return r.dots }

// HandleMessage implements ingest.Handler.
func (r *Router) HandleMessage(ctx context.Context, msg ingest.Message) {
	switch msg.Topic.Kind() {
	case ingest.KindJSON:
		r.handleJSON(ctx, msg)
	case ingest.KindBinary:
		r.handleBinary(ctx, msg)
	}
}

func (r *Router) handleBinary(ctx context.Context, msg ingest.Message) {
	if err := meshproto.ValidateFrame(msg.Payload); err != nil {
		r.log.Debug("frame rejected", "broker", msg.Broker, "topic", msg.Topic.Full,
			"size", len(msg.Payload), "error", err)
		return
	}
	env := new(meshproto.ServiceEnvelope)
	if err := env.UnmarshalBinary(msg.Payload); err != nil {
		if !meshproto.SuppressDecodeError(err) {
			r.log.Warn("envelope decode failed", "broker", msg.Broker, "error", err)
		}
		return
	}
	pkt := env.Packet
	data := pkt.Decoded
	if data == nil {
		if len(pkt.Encrypted) == 0 {
			return
		}
		var err error
		data, err = r.keys.Decrypt(pkt)
		if err != nil {
			// No configured key fits. Routine for foreign channels.
			return
		}
	}
	if pkt.From == 0 {
		return
	}

	payload, err := meshproto.DecodePayload(data.Portnum, data.Payload)
	if err != nil {
		if !meshproto.SuppressDecodeError(err) {
			r.log.Warn("payload decode failed", "port", data.Portnum.Name(), "error", err)
		}
		return
	}

	rec := &Record{
		Timestamp: jsontime.Milli(r.clock()),
		From:      uint32(pkt.From),
		To:        uint32(pkt.To),
		RxTime:    int64(pkt.RxTime) * 1000,
		RxSNR:     pkt.RxSNR,
		RxRSSI:    pkt.RxRSSI,
		HopLimit:  pkt.HopLimit,
		GatewayID: env.GatewayID,
		Broker:    msg.Broker,
		RawData:   payload,
	}
	r.append(ctx, data.Portnum, pkt.From, pkt.RxTime, rec)

	if err := r.dots.Update(ctx, pkt.From, dotPayload(data.Portnum, payload), env.GatewayID); err != nil {
		r.log.Warn("map update failed", "device", pkt.From.String(), "error", err)
	}

	if data.Portnum == meshproto.PortTextMessage && pkt.IsBroadcast() {
		if tm, ok := payload.(*meshproto.TextMessage); ok {
			r.maybeForward(msg, groupbuf.Event{
				ID:    pkt.ID,
				From:  uint32(pkt.From),
				Text:  tm.Text,
				Topic: msg.Topic.Full,
			}, env.GatewayID, groupbuf.Reception{
				Broker:   msg.Broker,
				RxRSSI:   pkt.RxRSSI,
				RxSNR:    pkt.RxSNR,
				HopLimit: pkt.HopLimit,
			})
		}
	}
}

// handleJSON ingests a gateway frame published with JSON output
// enabled. The frame carries the same information as the protobuf
// envelope in a looser shape.
func (r *Router) handleJSON(ctx context.Context, msg ingest.Message) {
	f, err := meshproto.DecodeJSONFrame(msg.Payload)
	if err != nil {
		r.log.Debug("json frame rejected", "broker", msg.Broker, "error", err)
		return
	}
	port, ok := f.Port()
	if !ok {
		return
	}
	from := f.From()
	if from == 0 {
		return
	}

	rec := &Record{
		Timestamp: jsontime.Milli(r.clock()),
		From:      uint32(from),
		To:        uint32(f.To()),
		RxTime:    int64(f.Timestamp()) * 1000,
		RxSNR:     float32(f.SNR()),
		RxRSSI:    f.RSSI(),
		GatewayID: f.Sender(),
		Broker:    msg.Broker,
		RawData:   f.Fields(),
	}
	r.append(ctx, port, from, f.Timestamp(), rec)

	if err := r.dots.Update(ctx, from, jsonDotPayload(port, f), f.Sender()); err != nil {
		r.log.Warn("map update failed", "device", from.String(), "error", err)
	}

	if port == meshproto.PortTextMessage && f.To() == meshproto.Broadcast {
		if text := f.Text(); text != "" {
			r.maybeForward(msg, groupbuf.Event{
				ID:    f.PacketID(),
				From:  uint32(from),
				Text:  text,
				Topic: msg.Topic.Full,
			}, f.Sender(), groupbuf.Reception{
				Broker: msg.Broker,
				RxRSSI: f.RSSI(),
				RxSNR:  float32(f.SNR()),
			})
		}
	}
}

// append is the store-level write, gated so that the same logical
// packet seen via N gateways lands exactly once.
func (r *Router) append(ctx context.Context, port meshproto.PortNum, from meshproto.NodeID, rxTime uint32, rec *Record) {
	won, err := r.store.MarkSeen(ctx, appendDedupKey(from, port, rxTime), r.window)
	if err != nil {
		r.log.Warn("dedup marker failed", "device", from.String(), "error", err)
		return
	}
	if !won {
		r.log.Debug("duplicate packet", "device", from.String(), "port", port.Name(),
			"gateway", rec.GatewayID, "broker", rec.Broker)
		return
	}
	b, err := rec.Encode()
	if err != nil {
		r.log.Warn("record encode failed", "port", port.Name(), "error", err)
		return
	}
	if err := r.store.AppendPortnum(ctx, port.Name(), from.Key(), b); err != nil {
		r.log.Warn("record append failed", "port", port.Name(),
			"device", from.String(), "error", err)
	}
}

func (r *Router) maybeForward(msg ingest.Message, ev groupbuf.Event, gatewayID string, rx groupbuf.Reception) {
	if r.forward == nil || !r.topicAllowed(msg.Topic) {
		return
	}
	if r.brokers != nil && !r.brokers[msg.Broker] {
		return
	}
	r.forward(ev, gatewayID, rx)
}

func (r *Router) topicAllowed(t ingest.Topic) bool {
	for _, p := range r.allowed {
		if t.HasPrefix(p) {
			return true
		}
	}
	return false
}

func (r *Router) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// dotPayload picks what the map aggregator sees. Only named ports
// carry content; an unknown port still registers activity.
func dotPayload(port meshproto.PortNum, payload any) any {
	if !port.Known() {
		return nil
	}
	return payload
}

// jsonDotPayload converts a JSON frame's payload into the typed shape
// the aggregator understands.
func jsonDotPayload(port meshproto.PortNum, f *meshproto.JSONFrame) any {
	pf := f.Payload()
	if pf == nil {
		return nil
	}
	switch port {
	case meshproto.PortPosition:
		return &meshproto.Position{
			LatitudeI:  pf.Int32("latitude_i"),
			LongitudeI: pf.Int32("longitude_i"),
			Altitude:   pf.Int32("altitude"),
			Time:       pf.Uint32("time"),
		}
	case meshproto.PortNodeInfo:
		return &meshproto.User{
			ID:        pf.String("id"),
			LongName:  pf.String("longname"),
			ShortName: pf.String("shortname"),
		}
	default:
		return nil
	}
}
