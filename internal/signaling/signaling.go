// Package signaling implements the handler for every message type in the
// wire protocol: room admission and reconnection, SDP offer/answer relay,
// trickle-ICE candidate relay and queueing, and file-transfer handshake
// forwarding. Handlers are plain functions registered onto a
// router.Router; this package owns no transport or dispatch machinery of
// its own.
package signaling

import (
	"github.com/modulelabs/signal-relay/internal/clock"
	"github.com/modulelabs/signal-relay/internal/idgen"
	"github.com/modulelabs/signal-relay/internal/logs"
	"github.com/modulelabs/signal-relay/internal/peers"
	"github.com/modulelabs/signal-relay/internal/rooms"
	"github.com/modulelabs/signal-relay/internal/router"
	"github.com/modulelabs/signal-relay/internal/wire"
)

// Handlers holds the dependencies every signaling handler needs.
type Handlers struct {
	peers *peers.Registry
	clk   clock.Clock
	log   logs.Logger
}

func New(registry *peers.Registry, clk clock.Clock, log logs.Logger) *Handlers {
	return &Handlers{peers: registry, clk: clk, log: log}
}

// Register binds every handler onto r.
func (h *Handlers) Register(r *router.Router) {
	r.Register(wire.TypeJoin, h.join)
	r.Register(wire.TypeLeave, h.leave)
	r.Register(wire.TypeOffer, h.offer)
	r.Register(wire.TypeAnswer, h.answer)
	r.Register(wire.TypeICECandidate, h.iceCandidate)
	r.Register(wire.TypeReadyForCandidates, h.readyForCandidates)
	r.Register(wire.TypeFileRequest, h.forward(wire.TypeFileRequest))
	r.Register(wire.TypeFileAccept, h.forward(wire.TypeFileAccept))
	r.Register(wire.TypeFileReject, h.forward(wire.TypeFileReject))
	r.Register(wire.TypePing, h.ping)
	r.Register(wire.TypePong, h.pong)
}

// join admits peerID into msg.RoomID, optionally swapping in for a prior
// closed connection if msg.PeerID names one (reconnection, spec §9).
func (h *Handlers) join(peerID string, msg wire.Message) (wire.Message, bool) {
	if !idgen.IsValidRoomID(msg.RoomID) {
		return wire.ErrMsg("Invalid roomId"), true
	}
	if msg.Name != "" {
		h.peers.SetName(peerID, msg.Name)
	}

	effectiveID := peerID
	reconnected := false

	if msg.PeerID != "" && msg.PeerID != peerID && idgen.IsValidPeerID(msg.PeerID) {
		if prior, ok := h.peers.Get(msg.PeerID); ok &&
			prior.RoomID == msg.RoomID &&
			prior.State == peers.StateClosed {
			if newTransport, ok := h.peers.TransportOf(peerID); ok {
				if _, ok := h.peers.Reconnect(msg.PeerID, newTransport, peerID); ok {
					effectiveID = msg.PeerID
					reconnected = true
				}
			}
		}
	}

	others, err := h.peers.JoinRoom(effectiveID, msg.RoomID)
	if err != nil {
		switch err {
		case rooms.ErrRoomFull:
			return wire.ErrMsg("Room is full"), true
		case rooms.ErrCapacity:
			return wire.ErrMsg("Server at room capacity"), true
		default:
			return wire.ErrMsg("Invalid roomId"), true
		}
	}

	self, _ := h.peers.Get(effectiveID)

	if reconnected {
		h.peers.Broadcast(msg.RoomID, effectiveID, wire.Message{
			Type: wire.TypePeerReconnected,
			Peer: &wire.PeerSummary{ID: effectiveID, Name: self.Name},
		})
	} else {
		h.peers.Broadcast(msg.RoomID, effectiveID, wire.Message{
			Type: wire.TypePeerJoined,
			Peer: &wire.PeerSummary{ID: effectiveID, Name: self.Name},
		})
	}

	return wire.Message{
		Type:           wire.TypeJoined,
		RoomID:         msg.RoomID,
		PeerID:         effectiveID,
		Peers:          others,
		IsReconnection: reconnected,
	}, true
}

// leave removes peerID from its current room and notifies the others.
func (h *Handlers) leave(peerID string, msg wire.Message) (wire.Message, bool) {
	roomID, ok := h.peers.LeaveRoom(peerID)
	if !ok {
		return wire.ErrMsg("Not currently in a room"), true
	}
	h.peers.Broadcast(roomID, peerID, wire.Message{
		Type:   wire.TypePeerLeft,
		PeerID: peerID,
		Reason: wire.ReasonNormal,
	})
	return wire.Message{Type: wire.TypeLeft, RoomID: roomID}, true
}

// offer relays an SDP offer directly to msg.TargetPeerID.
func (h *Handlers) offer(peerID string, msg wire.Message) (wire.Message, bool) {
	if msg.TargetPeerID == "" {
		return wire.ErrMsg("targetPeerId is required"), true
	}
	self, _ := h.peers.Get(peerID)
	out := wire.Message{
		Type:         wire.TypeOffer,
		FromPeerID:   peerID,
		FromPeerName: self.Name,
		SDP:          msg.SDP,
	}
	if !h.peers.SendTo(msg.TargetPeerID, out) {
		return wire.ErrMsg("Target peer not found"), true
	}
	return wire.Message{}, false
}

// answer relays an SDP answer to msg.TargetPeerID, then flushes any ICE
// candidates the answerer (peerID) has queued from that same counterparty
// now that the pair is past the offer/answer exchange.
func (h *Handlers) answer(peerID string, msg wire.Message) (wire.Message, bool) {
	if msg.TargetPeerID == "" {
		return wire.ErrMsg("targetPeerId is required"), true
	}
	out := wire.Message{
		Type:       wire.TypeAnswer,
		FromPeerID: peerID,
		SDP:        msg.SDP,
	}
	if !h.peers.SendTo(msg.TargetPeerID, out) {
		return wire.ErrMsg("Target peer not found"), true
	}

	for _, candidate := range h.peers.DrainICE(peerID, msg.TargetPeerID) {
		h.peers.SendTo(peerID, wire.Message{
			Type:       wire.TypeICECandidate,
			FromPeerID: msg.TargetPeerID,
			Candidate:  candidate,
		})
	}
	return wire.Message{}, false
}

// iceCandidate relays a trickle-ICE candidate to msg.TargetPeerID if it is
// reachable right now, or queues it for delivery once the target drains
// (on its own answer, or on an explicit ready-for-candidates).
func (h *Handlers) iceCandidate(peerID string, msg wire.Message) (wire.Message, bool) {
	if msg.TargetPeerID == "" {
		return wire.ErrMsg("targetPeerId is required"), true
	}
	if _, ok := h.peers.Get(msg.TargetPeerID); !ok {
		return wire.ErrMsg("Target peer not found"), true
	}

	out := wire.Message{
		Type:       wire.TypeICECandidate,
		FromPeerID: peerID,
		Candidate:  msg.Candidate,
	}
	if !h.peers.SendTo(msg.TargetPeerID, out) {
		h.peers.QueueICE(msg.TargetPeerID, peerID, msg.Candidate)
	}
	return wire.Message{}, false
}

// readyForCandidates lets a peer explicitly request delivery of whatever
// its counterparty has queued, independent of the answer-forward drain.
func (h *Handlers) readyForCandidates(peerID string, msg wire.Message) (wire.Message, bool) {
	if msg.TargetPeerID == "" {
		return wire.ErrMsg("targetPeerId is required"), true
	}
	for _, candidate := range h.peers.DrainICE(peerID, msg.TargetPeerID) {
		h.peers.SendTo(peerID, wire.Message{
			Type:       wire.TypeICECandidate,
			FromPeerID: msg.TargetPeerID,
			Candidate:  candidate,
		})
	}
	return wire.Message{}, false
}

// forward builds a transparent relay handler for the file-transfer
// handshake messages, which differ only in their type discriminator.
func (h *Handlers) forward(msgType string) router.Handler {
	return func(peerID string, msg wire.Message) (wire.Message, bool) {
		if msg.TargetPeerID == "" {
			return wire.ErrMsg("targetPeerId is required"), true
		}
		self, _ := h.peers.Get(peerID)
		out := msg
		out.Type = msgType
		out.FromPeerID = peerID
		out.FromPeerName = self.Name
		out.TargetPeerID = ""

		if !h.peers.SendTo(msg.TargetPeerID, out) {
			return wire.ErrMsg("Target peer not found"), true
		}
		return wire.Message{}, false
	}
}

// ping answers with a pong carrying the server's current time.
func (h *Handlers) ping(peerID string, msg wire.Message) (wire.Message, bool) {
	h.peers.MarkAlive(peerID)
	return wire.Message{Type: wire.TypePong, Timestamp: h.clk.Now().UnixMilli()}, true
}

// pong just marks the peer alive; the router already stamped activity.
func (h *Handlers) pong(peerID string, msg wire.Message) (wire.Message, bool) {
	h.peers.MarkAlive(peerID)
	return wire.Message{}, false
}
