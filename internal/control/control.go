// Package control assembles the plain-HTTP surface that sits alongside
// the signaling socket: health/readiness, room and registry diagnostics,
// the rendezvous code endpoints, and the Prometheus scrape route.
package control

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modulelabs/signal-relay/internal/config"
	"github.com/modulelabs/signal-relay/internal/logs"
	"github.com/modulelabs/signal-relay/internal/metrics"
	"github.com/modulelabs/signal-relay/internal/middleware"
	"github.com/modulelabs/signal-relay/internal/peers"
	"github.com/modulelabs/signal-relay/internal/rendezvous"
	"github.com/modulelabs/signal-relay/internal/rooms"
)

type server struct {
	cfg        config.Config
	log        logs.Logger
	rooms      *rooms.Store
	peers      *peers.Registry
	rendezvous *rendezvous.Store
	startedAt  time.Time
}

// NewMux builds the full control-surface handler. A request passes through
// rate limiting (when a limiter is given), request-id tagging, CORS, then
// routing.
func NewMux(cfg config.Config, log logs.Logger, roomStore *rooms.Store, registry *peers.Registry, rendezvousStore *rendezvous.Store, limiter *middleware.Limiter) http.Handler {
	s := &server{cfg: cfg, log: log, rooms: roomStore, peers: registry, rendezvous: rendezvousStore, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.health)
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/stats", s.stats)
	mux.HandleFunc("/room/", s.room)
	mux.Handle(cfg.MetricsRoute, metrics.Handler())
	mux.Handle("/rendezvous/", http.StripPrefix("/rendezvous", rendezvousStore.Routes()))

	var handler http.Handler = mux
	handler = withCORS(cfg.CORSOrigin, handler)
	handler = withRequestID(handler)
	if limiter != nil {
		handler = limiter.Middleware()(handler)
	}
	return handler
}

// withRequestID tags every control-surface response with a correlation id
// a log line can carry across an incident.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func withCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// health doubles as the readiness probe S6 expects: a 200 here promises the
// registries are live and reachable, not just that the process is up.
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" {
		notFound(w)
		return
	}
	st := s.rooms.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.startedAt).Seconds(),
		"peers":     s.peers.Count(),
		"rooms":     st,
		"timestamp": time.Now().UTC(),
	})
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	st := s.rooms.GetStats()
	connections := s.peers.Count()
	codes := s.rendezvous.Count()

	metrics.SetRooms(st.RoomCount)
	metrics.SetPeers(connections)
	metrics.SetRendezvousCodes(codes)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]any{
		"roomCount":       st.RoomCount,
		"maxRooms":        st.MaxRooms,
		"peerCount":       st.PeerCount,
		"connections":     connections,
		"rendezvousCodes": codes,
		"peerList":        s.peers.Snapshots(),
		"memory": map[string]any{
			"allocBytes":      mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":        mem.Sys,
			"numGC":           mem.NumGC,
		},
	})
}

func (s *server) room(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimPrefix(r.URL.Path, "/room/")
	writeJSON(w, http.StatusOK, map[string]any{
		"exists": roomID != "" && s.rooms.Exists(roomID),
		"roomId": roomID,
	})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
