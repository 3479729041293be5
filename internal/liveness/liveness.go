// Package liveness runs the two periodic sweeps that keep the peer
// registry honest: a heartbeat round that pings every open connection and
// evicts whoever missed the previous round, and an independent stale
// sweep that evicts connections with no inbound traffic at all for too
// long. Both run off an injected clock.Clock so tests can drive them
// without real sleeps.
package liveness

import (
	"context"
	"time"

	"github.com/modulelabs/signal-relay/internal/clock"
	"github.com/modulelabs/signal-relay/internal/logs"
	"github.com/modulelabs/signal-relay/internal/metrics"
	"github.com/modulelabs/signal-relay/internal/peers"
	"github.com/modulelabs/signal-relay/internal/wire"
)

// Supervisor owns the heartbeat and stale-sweep timers.
type Supervisor struct {
	peers *peers.Registry
	clk   clock.Clock
	log   logs.Logger

	heartbeatInterval time.Duration
	peerTimeout       time.Duration
	cleanupInterval   time.Duration
}

func New(registry *peers.Registry, clk clock.Clock, log logs.Logger, heartbeatInterval, peerTimeout, cleanupInterval time.Duration) *Supervisor {
	return &Supervisor{
		peers:             registry,
		clk:               clk,
		log:               log,
		heartbeatInterval: heartbeatInterval,
		peerTimeout:       peerTimeout,
		cleanupInterval:   cleanupInterval,
	}
}

// Run blocks, driving both sweeps off their own tickers, until ctx is
// cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	heartbeat := s.clk.NewTicker(s.heartbeatInterval)
	cleanup := s.clk.NewTicker(s.cleanupInterval)
	defer heartbeat.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C():
			s.HeartbeatRound()
		case <-cleanup.C():
			s.StaleSweep()
		}
	}
}

// HeartbeatRound evicts peers that missed the previous round's ping,
// clears the alive flag on everyone else, then pings every remaining
// open connection. A peer is kept alive by any inbound frame, not just a
// pong reply, since router.Dispatch stamps activity before every
// handler.
func (s *Supervisor) HeartbeatRound() {
	for _, snap := range s.peers.NotAlive() {
		s.evict(snap.ID, wire.ReasonTimeout)
	}
	s.peers.ResetAliveAll()
	for _, snap := range s.peers.AllOpen() {
		s.peers.SendTo(snap.ID, wire.Message{Type: wire.TypePing, Timestamp: s.clk.Now().UnixMilli()})
	}
}

// StaleSweep evicts peers whose last inbound activity predates the
// configured peer timeout, independent of the heartbeat round's alive
// flag.
func (s *Supervisor) StaleSweep() {
	cutoff := s.clk.Now().Add(-s.peerTimeout)
	for _, snap := range s.peers.StaleSince(cutoff) {
		s.evict(snap.ID, wire.ReasonStale)
	}
}

func (s *Supervisor) evict(id, reason string) {
	transport, hasTransport := s.peers.TransportOf(id)
	if !hasTransport {
		return
	}
	removed, ok := s.peers.RemoveIfTransport(id, transport)
	if !ok {
		// id was already re-homed by a racing reconnect; leave it alone.
		return
	}
	// The transport's own cleanup finds the record gone and skips counting.
	metrics.PeerDisconnected()
	if removed.RoomID != "" {
		s.peers.Broadcast(removed.RoomID, id, wire.Message{
			Type:   wire.TypePeerLeft,
			PeerID: id,
			Reason: reason,
		})
	}
	_ = transport.Close(1000, reason)
	s.log.Info("peer evicted", logs.F("peerId", id), logs.F("reason", reason))
}

// Shutdown notifies every currently open peer that the server is going
// away, without closing any transport itself (the caller decides when to
// cut connections, typically after a short grace period).
func (s *Supervisor) Shutdown(reason string) {
	for _, snap := range s.peers.AllOpen() {
		s.peers.SendTo(snap.ID, wire.Message{Type: wire.TypeServerShutdown, Reason: reason})
	}
}

// CloseAll force-closes every open transport with the given close code,
// the hard half of a graceful shutdown after Shutdown's notice.
func (s *Supervisor) CloseAll(code int, reason string) {
	for _, snap := range s.peers.AllOpen() {
		if t, ok := s.peers.TransportOf(snap.ID); ok {
			_ = t.Close(code, reason)
		}
	}
}
