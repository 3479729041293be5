// Package router dispatches decoded wire messages to registered handlers
// by type, a static table in place of a single inline type-switch.
package router

import (
	"fmt"

	"github.com/modulelabs/signal-relay/internal/logs"
	"github.com/modulelabs/signal-relay/internal/peers"
	"github.com/modulelabs/signal-relay/internal/wire"
)

// Handler processes one decoded message sent by peerID. A returned
// message with ok true is sent back to the sender; ok false means the
// handler already delivered (or intentionally suppressed) any response.
type Handler func(peerID string, msg wire.Message) (resp wire.Message, ok bool)

// Router is a static dispatch table keyed by message type.
type Router struct {
	handlers map[string]Handler
	peers    *peers.Registry
	log      logs.Logger
}

func New(registry *peers.Registry, log logs.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		peers:    registry,
		log:      log,
	}
}

// Register binds a handler to a message type. Intended to be called once
// per type during startup wiring, not under load.
func (r *Router) Register(msgType string, h Handler) {
	r.handlers[msgType] = h
}

// Dispatch stamps peerID's activity, looks up the handler for msg.Type,
// and invokes it. A panicking handler is recovered into a generic
// internal-error envelope rather than taking down the connection.
func (r *Router) Dispatch(peerID string, msg wire.Message) (resp wire.Message, ok bool) {
	r.peers.UpdateActivity(peerID)

	h, found := r.handlers[msg.Type]
	if !found {
		return wire.ErrMsg(fmt.Sprintf("Unknown message type: %s", msg.Type)), true
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("signaling handler panic",
				logs.F("type", msg.Type),
				logs.F("peerId", peerID),
				logs.F("panic", rec),
			)
			resp = wire.ErrMsg("Internal server error")
			ok = true
		}
	}()

	return h(peerID, msg)
}
