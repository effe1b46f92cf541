// Package groupbuf coalesces the copies of one broadcast that arrive
// via several gateways into a single flush.
//
// Gateways within radio range of a sender all republish the same
// packet within a few seconds. A Buffer keys groups by the packet id,
// holds each group open while copies keep arriving and hands the
// completed group to the flush callback once the window goes quiet.
package groupbuf

import (
	"sync"
	"time"
)

// DefaultWindow is the quiet period after the last copy before a
// group flushes.
const DefaultWindow = 8 * time.Second

// Reception is one gateway's view of the packet.
type Reception struct {
	Broker   string
	RxRSSI   int32
	RxSNR    float32
	HopLimit uint32
}

// ViaMQTT reports whether the copy never touched the radio: a gateway
// that relays a packet it heard over MQTT reports no signal metrics.
func (r Reception) ViaMQTT() bool {
	return r.RxRSSI == 0 && r.RxSNR == 0
}

// Event is the message being grouped. The first copy's event sticks;
// later copies only add gateways.
type Event struct {
	ID    uint32
	From  uint32
	Text  string
	Topic string
}

// Group is one logical message and every gateway that delivered it.
type Group struct {
	Event    Event
	Gateways map[string]Reception
	// Order preserves the arrival order of gateways for rendering.
	Order []string
}

// FlushFunc receives a completed group. It runs on the group's timer
// goroutine and must not block the ingest path; the group is owned by
// the callee after the call.
type FlushFunc func(*Group)

// Buffer is the time-bounded group table. The zero value is not
// usable; construct with New.
type Buffer struct {
	window time.Duration
	flush  FlushFunc

	mu     sync.Mutex
	groups map[uint32]*entry
	closed bool
}

type entry struct {
	group *Group
	timer *time.Timer
}

// New builds a buffer flushing through fn after window of quiet.
// A zero window means DefaultWindow.
func New(window time.Duration, fn FlushFunc) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		window: window,
		flush:  fn,
		groups: make(map[uint32]*entry),
	}
}

// Observe records one gateway's copy of a message. The first copy for
// an id opens a group and arms its timer; every later copy resets the
// timer and adds the gateway if it is new.
func (b *Buffer) Observe(ev Event, gatewayID string, rx Reception) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	e, ok := b.groups[ev.ID]
	if !ok {
		e = &entry{group: &Group{
			Event:    ev,
			Gateways: make(map[string]Reception),
		}}
		id := ev.ID
		e.timer = time.AfterFunc(b.window, func() { b.expire(id) })
		b.groups[ev.ID] = e
	} else {
		e.timer.Reset(b.window)
	}
	if _, seen := e.group.Gateways[gatewayID]; !seen {
		e.group.Gateways[gatewayID] = rx
		e.group.Order = append(e.group.Order, gatewayID)
	}
}

// Len reports the number of open groups.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}

func (b *Buffer) expire(id uint32) {
	b.mu.Lock()
	e, ok := b.groups[id]
	if ok {
		delete(b.groups, id)
	}
	b.mu.Unlock()
	if ok && b.flush != nil {
		b.flush(e.group)
	}
}

// Close stops all timers and flushes the pending groups. Observe calls
// after Close are dropped.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := make([]*entry, 0, len(b.groups))
	for _, e := range b.groups {
		e.timer.Stop()
		pending = append(pending, e)
	}
	b.groups = map[uint32]*entry{}
	b.mu.Unlock()

	if b.flush == nil {
		return
	}
	for _, e := range pending {
		b.flush(e.group)
	}
}
