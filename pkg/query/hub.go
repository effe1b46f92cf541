package query

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshwatch/meshwatch/pkg/store"
)

const (
	// clientQueue bounds each subscriber's outbox. A client that falls
	// this far behind starts losing updates, not wedging the map.
	clientQueue = 64

	writeWait = 10 * time.Second
)

// DotUpdate is one live-feed frame. A nil Dot means the device left
// the map.
type DotUpdate struct {
	ID  string     `json:"id"`
	Dot *store.Dot `json:"dot"`
}

// Hub fans Dot updates out to websocket subscribers. PublishDot never
// blocks; slow clients drop frames.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     logger.With("component", "live"),
		clients: make(map[chan []byte]struct{}),
	}
}

// PublishDot broadcasts one map update. Safe from any goroutine.
func (h *Hub) PublishDot(deviceID string, dot *store.Dot) {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return
	}
	frame, err := json.Marshal(DotUpdate{ID: deviceID, Dot: dot})
	if err != nil {
		h.log.Error("update marshal failed", "device", deviceID, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default: // slow client, drop the frame
		}
	}
}

// Subscribers reports the current client count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "error", err)
		return
	}

	ch := make(chan []byte, clientQueue)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("live client connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
		conn.Close()
		h.log.Debug("live client gone", "remote", r.RemoteAddr)
	}()

	// The feed is one-way; the read loop only notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case frame := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
