// Package transport upgrades incoming HTTP requests to WebSocket
// connections and adapts each one to the peers.Transport interface,
// feeding decoded frames into the router through deadline-based
// liveness, a ping ticker goroutine, and a single read loop per
// connection.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modulelabs/signal-relay/internal/config"
	"github.com/modulelabs/signal-relay/internal/logs"
	"github.com/modulelabs/signal-relay/internal/metrics"
	"github.com/modulelabs/signal-relay/internal/middleware"
	"github.com/modulelabs/signal-relay/internal/peers"
	"github.com/modulelabs/signal-relay/internal/router"
	"github.com/modulelabs/signal-relay/internal/wire"
)

var errTransportClosed = errors.New("transport: connection closed")

// Conn adapts a *websocket.Conn to peers.Transport. Gorilla requires a
// single writer per connection, so every outbound frame and control frame
// serializes through writeMu.
type Conn struct {
	writeMu sync.Mutex
	ws      *websocket.Conn

	stateMu sync.Mutex
	state   peers.TransportState
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, state: peers.StateOpen}
}

func (c *Conn) Send(msg wire.Message) error {
	c.stateMu.Lock()
	open := c.state == peers.StateOpen
	c.stateMu.Unlock()
	if !open {
		return errTransportClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *Conn) State() peers.TransportState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Close marks the connection closed, sends a best-effort close frame, and
// tears down the socket. Idempotent.
func (c *Conn) Close(code int, reason string) error {
	c.stateMu.Lock()
	if c.state == peers.StateClosed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = peers.StateClosed
	c.stateMu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) markClosing() {
	c.stateMu.Lock()
	if c.state == peers.StateOpen {
		c.state = peers.StateClosing
	}
	c.stateMu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades requests under the configured WS path and runs each
// connection's lifetime: welcome, keepalive, read/dispatch, cleanup.
type Handler struct {
	cfg     config.Config
	log     logs.Logger
	peers   *peers.Registry
	router  *router.Router
	limiter *middleware.Limiter
}

func NewHandler(cfg config.Config, log logs.Logger, registry *peers.Registry, rtr *router.Router, limiter *middleware.Limiter) *Handler {
	return &Handler{cfg: cfg, log: log, peers: registry, router: rtr, limiter: limiter}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Connection", "Upgrade")
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "upgrade required", http.StatusUpgradeRequired)
		return
	}
	if h.limiter != nil && !h.limiter.AllowWS(r) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", logs.F("err", err), logs.F("remote", r.RemoteAddr))
		return
	}
	conn := newConn(ws)

	rec, err := h.peers.Create(conn, r.URL.Query().Get("name"))
	if err != nil {
		h.log.Error("peer id mint failed", logs.F("err", err))
		_ = conn.Close(1011, "internal error")
		return
	}
	peerID := rec.ID
	metrics.PeerConnected()
	h.log.Info("peer connected", logs.F("peerId", peerID), logs.F("remote", r.RemoteAddr))

	readDeadline := h.cfg.HeartbeatInterval + h.cfg.HeartbeatTimeout
	_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		h.peers.MarkAlive(peerID)
		_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	stopPing := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := conn.writeControlPing(); err != nil {
					return
				}
			}
		}
	}()

	_ = conn.Send(wire.Message{Type: wire.TypeWelcome, PeerID: peerID, Name: rec.Name})

	h.readLoop(ws, conn, peerID)
	close(stopPing)
	h.cleanup(conn, peerID)
}

// writeControlPing sends a WS-protocol ping frame, distinct from the
// application-level {"type":"ping"} the liveness supervisor sends once a
// connection is past the welcome handshake.
func (c *Conn) writeControlPing() error {
	c.stateMu.Lock()
	open := c.state == peers.StateOpen
	c.stateMu.Unlock()
	if !open {
		return errTransportClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second))
}

func (h *Handler) readLoop(ws *websocket.Conn, conn *Conn, peerID string) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				h.log.Warn("ws unexpected close", logs.F("peerId", peerID), logs.F("err", err))
			}
			return
		}

		if int64(len(data)) > h.cfg.WSMaxPayload {
			metrics.ProtocolError()
			conn.Send(wire.ErrMsg("Message exceeds maximum payload size"))
			continue
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.ProtocolError()
			conn.Send(wire.ErrMsg("Invalid JSON"))
			continue
		}
		if msg.Type == "" {
			conn.Send(wire.ErrMsg("Message type is required"))
			continue
		}
		metrics.MessageReceived(msg.Type)

		resp, ok := h.router.Dispatch(peerID, msg)
		if ok {
			conn.Send(resp)
		}
	}
}

// cleanup marks the connection closed and removes its peer record, unless
// a racing reconnect already re-homed peerID onto a new transport (see
// peers.Registry.RemoveIfTransport).
func (h *Handler) cleanup(conn *Conn, peerID string) {
	conn.markClosing()
	_ = conn.Close(1000, "connection closed")

	removed, ok := h.peers.RemoveIfTransport(peerID, conn)
	if !ok {
		return
	}
	metrics.PeerDisconnected()
	if removed.RoomID != "" {
		h.peers.Broadcast(removed.RoomID, peerID, wire.Message{
			Type:   wire.TypePeerLeft,
			PeerID: peerID,
			Reason: wire.ReasonNormal,
		})
	}
	h.log.Info("peer disconnected", logs.F("peerId", peerID))
}
