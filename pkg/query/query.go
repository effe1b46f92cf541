// Package query is the read side: an HTTP API over the store plus a
// websocket feed of live map updates.
package query

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/meshwatch/meshwatch/pkg/meshproto"
	"github.com/meshwatch/meshwatch/pkg/store"
)

// Config wires a Server.
type Config struct {
	Store store.Store
	// AdminSecret authorizes DELETE calls. Empty disables them.
	AdminSecret string
	Logger      *slog.Logger
}

// Server serves the read API. Create with New, mount via Handler.
type Server struct {
	store  store.Store
	hub    *Hub
	secret []byte
	log    *slog.Logger
}

// New builds a Server and its live-feed hub.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "query")
	return &Server{
		store:  cfg.Store,
		hub:    NewHub(logger),
		secret: []byte(cfg.AdminSecret),
		log:    logger,
	}
}

// Hub returns the live-feed hub, for wiring to the map aggregator.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/node/{id}", s.handleNode)
	mux.HandleFunc("GET /api/node/{id}/{port}", s.handleNodePort)
	mux.HandleFunc("GET /api/ports/{port}", s.handlePort)
	mux.HandleFunc("GET /api/live", s.hub.handleLive)
	mux.HandleFunc("DELETE /api/node/{id}", s.handleDelete)
	return mux
}

// handleNodes returns every active device with its map state.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := s.store.ActiveDevices(ctx)
	if err != nil {
		s.internalError(w, "active devices", err)
		return
	}
	nodes := make(map[string]*store.Dot, len(ids))
	for _, id := range ids {
		dot, err := s.store.GetDot(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // raced with an invalidation
			}
			s.internalError(w, "get dot", err)
			return
		}
		nodes[id] = dot
	}
	writeJSON(w, nodes)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeParam(w, r)
	if !ok {
		return
	}
	dot, err := s.store.GetDot(r.Context(), id.Key())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "node not found", http.StatusNotFound)
			return
		}
		s.internalError(w, "get dot", err)
		return
	}
	writeJSON(w, dot)
}

// handleNodePort returns recent records for one device and port,
// newest first.
func (s *Server) handleNodePort(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeParam(w, r)
	if !ok {
		return
	}
	port := portParam(r)
	limit := store.DefaultMaxListLen
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}
	records, err := s.store.GetPortnum(r.Context(), port, id.Key(), limit)
	if err != nil {
		s.internalError(w, "get portnum", err)
		return
	}
	out := make([]json.RawMessage, len(records))
	for i, rec := range records {
		out[i] = json.RawMessage(rec)
	}
	writeJSON(w, out)
}

// handlePort lists the device ids that have records for a port.
func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListPortnums(r.Context(), portParam(r))
	if err != nil {
		s.internalError(w, "list portnums", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, ids)
}

// handleDelete removes every trace of a device. The shared secret
// arrives in the X-Admin-Secret header; an empty configured secret
// keeps the endpoint disabled.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if len(s.secret) == 0 {
		http.Error(w, "admin api disabled", http.StatusForbidden)
		return
	}
	got := []byte(r.Header.Get("X-Admin-Secret"))
	if subtle.ConstantTimeCompare(got, s.secret) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	id, ok := s.nodeParam(w, r)
	if !ok {
		return
	}
	n, err := s.store.DeleteDevice(r.Context(), id.Key())
	if err != nil {
		s.internalError(w, "delete device", err)
		return
	}
	s.log.Info("device deleted", "device", id.String(), "keys", n)
	s.hub.PublishDot(id.Key(), nil)
	writeJSON(w, map[string]int{"deleted": n})
}

// nodeParam resolves the {id} path segment, accepting both the "!hex"
// and the numeric spelling.
func (s *Server) nodeParam(w http.ResponseWriter, r *http.Request) (meshproto.NodeID, bool) {
	id, err := meshproto.ParseNodeID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "bad node id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// portParam resolves the {port} path segment: a numeric port becomes
// its symbolic name, anything else is used as the store key verbatim.
func portParam(r *http.Request) string {
	raw := r.PathValue("port")
	if n, err := strconv.ParseUint(raw, 10, 32); err == nil {
		return meshproto.PortNum(n).Name()
	}
	return raw
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", "op", op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing useful left to send.
		return
	}
}
