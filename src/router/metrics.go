package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchesTotal counts dispatches by terminal state.
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdbus_dispatches_total",
			Help: "Total message dispatches by outcome",
		},
		[]string{"outcome"},
	)

	// dispatchDuration observes handler execution time per message type.
	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmdbus_dispatch_duration_seconds",
			Help:    "Handler execution time by message type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

const (
	outcomeCompleted = "completed"
	outcomeTimedOut  = "timed_out"
	outcomeErrored   = "errored"
)
