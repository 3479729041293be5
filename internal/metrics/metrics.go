package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg              = prometheus.NewRegistry()
	WSConnections    = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalrelay_ws_connections_total", Help: "Total WS connections accepted",
	})
	WSDisconnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalrelay_ws_disconnections_total", Help: "Total WS connections torn down",
	})
	WSMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrelay_ws_messages_total", Help: "WS messages received, by type",
	}, []string{"type"})
	WSErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalrelay_ws_errors_total", Help: "WS protocol/decode errors",
	})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalrelay_rooms_active", Help: "Active rooms",
	})
	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalrelay_peers_active", Help: "Active peers",
	})
	RendezvousCodesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalrelay_rendezvous_codes_active", Help: "Unredeemed rendezvous codes",
	})
	totalPeers atomic.Int64
)

func Init() {
	reg.MustRegister(WSConnections, WSDisconnections, WSMessages, WSErrors, RoomsActive, PeersActive, RendezvousCodesActive)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// PeerConnected records a newly-accepted WS connection.
func PeerConnected() { WSConnections.Inc() }

// PeerDisconnected records a connection torn down (normal close, timeout
// or stale eviction alike).
func PeerDisconnected() { WSDisconnections.Inc() }

// MessageReceived records one inbound signaling frame by its type.
func MessageReceived(msgType string) { WSMessages.WithLabelValues(msgType).Inc() }

// ProtocolError records a decode/oversize-frame rejection.
func ProtocolError() { WSErrors.Inc() }

// Helpers for the rooms/peers registries to update gauges:

func SetRooms(n int) { RoomsActive.Set(float64(n)) }

func SetPeers(n int) {
	PeersActive.Set(float64(n))
	totalPeers.Store(int64(n))
}

func SetRendezvousCodes(n int) { RendezvousCodesActive.Set(float64(n)) }
