package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// broadcastsTotal counts Broadcast calls.
	broadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cmdbus_broadcasts_total",
			Help: "Total broadcast operations",
		},
	)

	// broadcastDropsTotal counts per-client broadcast sends dropped
	// because the client's buffer was full.
	broadcastDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cmdbus_broadcast_drops_total",
			Help: "Broadcast deliveries dropped due to a full send buffer",
		},
	)
)
