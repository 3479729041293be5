package transport_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/modulelabs/signal-relay/internal/clock"
	"github.com/modulelabs/signal-relay/internal/config"
	"github.com/modulelabs/signal-relay/internal/peers"
	"github.com/modulelabs/signal-relay/internal/rooms"
	"github.com/modulelabs/signal-relay/internal/router"
	"github.com/modulelabs/signal-relay/internal/signaling"
	"github.com/modulelabs/signal-relay/internal/transport"
	"github.com/modulelabs/signal-relay/internal/wire"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  time.Hour,
		WSMaxPayload:      1 << 16,
	}
	reg := peers.NewRegistry(rooms.NewStore(10, 100))
	rtr := router.New(reg, zap.NewNop())
	signaling.New(reg, clock.Real{}, zap.NewNop()).Register(rtr)
	h := transport.NewHandler(cfg, zap.NewNop(), reg, rtr, nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	return dialWithName(t, ts, "")
}

func dialWithName(t *testing.T, ts *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if name != "" {
		q := u.Query()
		q.Set("name", name)
		u.RawQuery = q.Encode()
	}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) wire.Message {
	t.Helper()
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg wire.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestWelcomeOnConnect(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts)
	defer c.Close()

	msg := readMsg(t, c)
	if msg.Type != wire.TypeWelcome || msg.PeerID == "" {
		t.Fatalf("expected welcome with peerId, got %+v", msg)
	}
	if msg.Name != "Anonymous" {
		t.Fatalf("expected default name Anonymous, got %+v", msg)
	}
}

func TestWelcomeCarriesQueryParamName(t *testing.T) {
	ts := newTestServer(t)
	c := dialWithName(t, ts, "Alice")
	defer c.Close()

	msg := readMsg(t, c)
	if msg.Type != wire.TypeWelcome || msg.Name != "Alice" {
		t.Fatalf("expected welcome with name Alice, got %+v", msg)
	}
}

func TestJoinAndOfferRelay(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts)
	defer a.Close()
	b := dial(t, ts)
	defer b.Close()

	welcomeA := readMsg(t, a)
	welcomeB := readMsg(t, b)

	mustSend := func(c *websocket.Conn, m wire.Message) {
		t.Helper()
		data, _ := json.Marshal(m)
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	mustSend(a, wire.Message{Type: wire.TypeJoin, RoomID: "room_test"})
	joinedA := readMsg(t, a)
	if joinedA.Type != wire.TypeJoined {
		t.Fatalf("expected joined, got %+v", joinedA)
	}

	mustSend(b, wire.Message{Type: wire.TypeJoin, RoomID: "room_test"})
	joinedB := readMsg(t, b)
	if joinedB.Type != wire.TypeJoined || len(joinedB.Peers) != 1 {
		t.Fatalf("expected joined with one other peer, got %+v", joinedB)
	}

	peerJoined := readMsg(t, a)
	if peerJoined.Type != wire.TypePeerJoined || peerJoined.Peer.ID != welcomeB.PeerID {
		t.Fatalf("expected A to observe peer-joined for B, got %+v", peerJoined)
	}

	mustSend(a, wire.Message{Type: wire.TypeOffer, TargetPeerID: welcomeB.PeerID, SDP: json.RawMessage(`{"sdp":"x"}`)})
	offer := readMsg(t, b)
	if offer.Type != wire.TypeOffer || offer.FromPeerID != welcomeA.PeerID {
		t.Fatalf("expected B to receive offer from A, got %+v", offer)
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts)
	defer c.Close()
	_ = readMsg(t, c) // welcome

	data, _ := json.Marshal(map[string]string{"type": "not-a-real-type"})
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readMsg(t, c)
	if resp.Type != wire.TypeError {
		t.Fatalf("expected error envelope, got %+v", resp)
	}
}

func TestMissingTypeFieldKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts)
	defer c.Close()
	_ = readMsg(t, c) // welcome

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"roomId":"room_x"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readMsg(t, c)
	if resp.Type != wire.TypeError || resp.Error != "Message type is required" {
		t.Fatalf("expected missing-type error, got %+v", resp)
	}

	// connection should still be usable afterwards
	data, _ := json.Marshal(wire.Message{Type: wire.TypeJoin, RoomID: "room_x"})
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write after bad frame: %v", err)
	}
	joined := readMsg(t, c)
	if joined.Type != wire.TypeJoined {
		t.Fatalf("expected connection to survive the bad frame, got %+v", joined)
	}
}

func TestPeerLeftBroadcastOnDisconnect(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts)
	defer a.Close()
	b := dial(t, ts)

	_ = readMsg(t, a)
	welcomeB := readMsg(t, b)

	send := func(c *websocket.Conn, m wire.Message) {
		data, _ := json.Marshal(m)
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
	send(a, wire.Message{Type: wire.TypeJoin, RoomID: "room_x"})
	_ = readMsg(t, a)
	send(b, wire.Message{Type: wire.TypeJoin, RoomID: "room_x"})
	_ = readMsg(t, b)
	_ = readMsg(t, a) // peer-joined for b

	b.Close()

	_ = a.SetReadDeadline(time.Now().Add(3 * time.Second))
	left := readMsg(t, a)
	if left.Type != wire.TypePeerLeft || left.PeerID != welcomeB.PeerID {
		t.Fatalf("expected peer-left for b, got %+v", left)
	}
}
