// Package notify turns flushed message groups into chat-channel
// notifications: one message per broadcast, naming the sender and
// every gateway that heard it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meshwatch/meshwatch/pkg/groupbuf"
	"github.com/meshwatch/meshwatch/pkg/meshproto"
	"github.com/meshwatch/meshwatch/pkg/store"
)

// Channel names used by the default prefix map.
const (
	ChannelMain        = "Main"
	ChannelKaliningrad = "Kaliningrad"
	ChannelUfa         = "Ufa"
)

// DefaultSendTimeout bounds one chat delivery.
const DefaultSendTimeout = 10 * time.Second

// DefaultClearInterval is how often the processed-message set resets.
const DefaultClearInterval = 10 * time.Minute

// Sender delivers one formatted message to a named channel.
type Sender interface {
	Send(ctx context.Context, channel, text string) error
}

// ChannelMap picks the notification channel from the message topic.
type ChannelMap struct {
	// ByPrefix maps topic roots (e.g. "msh/kgd/") to channel names.
	ByPrefix map[string]string
	// Default is the channel for allowed topics with no mapped root.
	Default string
}

// DefaultChannels is the regional routing used in production.
func DefaultChannels() ChannelMap {
	return ChannelMap{
		ByPrefix: map[string]string{
			"msh/kgd/": ChannelKaliningrad,
			"msh/ufa/": ChannelUfa,
		},
		Default: ChannelMain,
	}
}

// Select returns the channel for a topic.
func (m ChannelMap) Select(topic string) string {
	for prefix, channel := range m.ByPrefix {
		if strings.HasPrefix(topic, prefix) {
			return channel
		}
	}
	return m.Default
}

// Seen is the short-term processed-message set. Each observation is
// keyed by (packet id, gateway, broker); the whole set clears after
// the interval, so memory stays bounded without a sweeper goroutine.
type Seen struct {
	mu        sync.Mutex
	keys      map[string]struct{}
	interval  time.Duration
	lastClear time.Time
	now       func() time.Time
}

// NewSeen builds the set. Zero interval means DefaultClearInterval.
func NewSeen(interval time.Duration) *Seen {
	if interval <= 0 {
		interval = DefaultClearInterval
	}
	return &Seen{
		keys:     make(map[string]struct{}),
		interval: interval,
		now:      time.Now,
	}
}

// Mark records one observation and reports whether it is new.
func (s *Seen) Mark(id uint32, gatewayID, broker string) bool {
	key := fmt.Sprintf("%d:%s:%s", id, gatewayID, broker)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.lastClear.IsZero() {
		s.lastClear = now
	} else if now.Sub(s.lastClear) >= s.interval {
		s.keys = make(map[string]struct{})
		s.lastClear = now
	}
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// DotReader is the best-effort sender-name lookup.
type DotReader interface {
	GetDot(ctx context.Context, deviceID string) (*store.Dot, error)
}

// Config wires a Notifier.
type Config struct {
	Sender   Sender
	Dots     DotReader
	Channels ChannelMap
	// SendTimeout bounds one delivery. Zero means DefaultSendTimeout.
	SendTimeout time.Duration
	// ClearInterval resets the processed set. Zero means
	// DefaultClearInterval.
	ClearInterval time.Duration
	Logger        *slog.Logger
}

// Notifier formats and delivers flushed groups. Flush satisfies
// groupbuf.FlushFunc and runs on group timer goroutines, away from
// the ingest path.
type Notifier struct {
	sender   Sender
	dots     DotReader
	channels ChannelMap
	timeout  time.Duration
	seen     *Seen
	log      *slog.Logger
}

// New builds a Notifier.
func New(cfg Config) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	channels := cfg.Channels
	if channels.Default == "" && channels.ByPrefix == nil {
		channels = DefaultChannels()
	}
	return &Notifier{
		sender:   cfg.Sender,
		dots:     cfg.Dots,
		channels: channels,
		timeout:  timeout,
		seen:     NewSeen(cfg.ClearInterval),
		log:      logger.With("component", "notify"),
	}
}

// Observe gates one gateway observation before it enters a group.
// Returns false when this (id, gateway, broker) tuple was already
// processed recently, e.g. after the group for it flushed.
func (n *Notifier) Observe(id uint32, gatewayID, broker string) bool {
	return n.seen.Mark(id, gatewayID, broker)
}

// Flush delivers one completed group. Failures drop the notification;
// the packet history behind it is already persisted.
func (n *Notifier) Flush(g *groupbuf.Group) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	text := FormatGroup(g, n.lookupDot(ctx, meshproto.NodeID(g.Event.From)))
	channel := n.channels.Select(g.Event.Topic)
	if err := n.sender.Send(ctx, channel, text); err != nil {
		n.log.Warn("notification dropped",
			"channel", channel, "id", g.Event.ID, "error", err)
		return
	}
	n.log.Debug("notification sent",
		"channel", channel, "id", g.Event.ID, "gateways", len(g.Gateways))
}

func (n *Notifier) lookupDot(ctx context.Context, id meshproto.NodeID) *store.Dot {
	if n.dots == nil {
		return nil
	}
	dot, err := n.dots.GetDot(ctx, id.Key())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			n.log.Debug("sender lookup failed", "device", id.String(), "error", err)
		}
		return nil
	}
	return dot
}

// FormatGroup renders one notification: sender, text, then every
// receiving gateway with its radio metrics.
func FormatGroup(g *groupbuf.Group, sender *store.Dot) string {
	var sb strings.Builder
	sb.WriteString("💬 ")
	sb.WriteString(SenderName(meshproto.NodeID(g.Event.From), sender))
	sb.WriteString("\n")
	sb.WriteString(g.Event.Text)
	sb.WriteString("\n")
	for _, gw := range g.Order {
		sb.WriteString("\n📡 ")
		sb.WriteString(gw)
		sb.WriteString(": ")
		sb.WriteString(FormatReception(g.Gateways[gw]))
	}
	return sb.String()
}

// SenderName renders the best available name for a node: long and
// short names when known, the "!hex" id otherwise.
func SenderName(id meshproto.NodeID, dot *store.Dot) string {
	if dot == nil {
		return id.String()
	}
	switch {
	case dot.LongName != "" && dot.ShortName != "":
		return fmt.Sprintf("%s (%s)", dot.LongName, dot.ShortName)
	case dot.LongName != "":
		return dot.LongName
	case dot.ShortName != "":
		return dot.ShortName
	default:
		return id.String()
	}
}

// FormatReception renders one gateway's metrics. A report with no
// signal data means the gateway heard the packet over MQTT, not radio.
func FormatReception(rx groupbuf.Reception) string {
	if rx.ViaMQTT() {
		return "via MQTT"
	}
	return fmt.Sprintf("RSSI %d / SNR %.2f / %s", rx.RxRSSI, rx.RxSNR, HopText(rx.HopLimit))
}

// HopText renders the remaining hop budget: a packet that arrives with
// the full budget came directly, every spent hop is one relay.
func HopText(hopLimit uint32) string {
	if hopLimit >= 7 {
		return "Direct"
	}
	return fmt.Sprintf("%d Hop", 7-hopLimit)
}
