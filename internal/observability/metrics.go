// Package observability provides Prometheus metrics for the session
// negotiator and the lobby server.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NegotiatorOperations counts negotiator outcomes by operation (create,
	// destroy, join) and result (ok, failed).
	NegotiatorOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coop_negotiator_operations_total",
			Help: "Session negotiator outcomes",
		},
		[]string{"op", "result"},
	)

	// LobbySessionsActive tracks sessions currently advertised by the lobby.
	LobbySessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coop_lobby_sessions_active",
			Help: "Advertised lobby sessions",
		},
	)

	// LobbyRequestsTotal counts lobby requests by type and status.
	LobbyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coop_lobby_requests_total",
			Help: "Lobby requests",
		},
		[]string{"type", "status"},
	)

	// LobbyClientsConnected tracks open websocket connections.
	LobbyClientsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coop_lobby_clients_connected",
			Help: "Connected lobby clients",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NegotiatorOperations,
		LobbySessionsActive,
		LobbyRequestsTotal,
		LobbyClientsConnected,
	)
}

// RecordOperation counts one negotiator outcome.
func RecordOperation(op string, ok bool) {
	NegotiatorOperations.WithLabelValues(op, resultLabel(ok)).Inc()
}

// RecordRequest counts one lobby request.
func RecordRequest(kind string, ok bool) {
	LobbyRequestsTotal.WithLabelValues(kind, resultLabel(ok)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
