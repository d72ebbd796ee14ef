package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// clientsConnected tracks the current number of admitted clients.
	clientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmdbus_clients_connected",
			Help: "Number of currently connected clients",
		},
	)

	// connectionsTotal counts admissions over the process lifetime.
	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cmdbus_connections_total",
			Help: "Total client connections admitted",
		},
	)

	// evictionsTotal counts heartbeat-timeout evictions.
	evictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cmdbus_evictions_total",
			Help: "Total clients evicted for missing the heartbeat deadline",
		},
	)

	// registrationsActive tracks live handler registrations by daemon name.
	registrationsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cmdbus_handler_registrations",
			Help: "Active handler registrations by owning daemon",
		},
		[]string{"daemon"},
	)
)
