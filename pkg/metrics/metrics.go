package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// PairingOperations counts pairing protocol operations and their outcome.
	PairingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_pairing_operations_total",
			Help: "Total number of pairing credential operations",
		},
		[]string{"operation", "result"},
	)

	// LinkedCouples tracks the number of currently linked partner pairs.
	LinkedCouples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duet_linked_couples",
			Help: "Number of mutually linked partner pairs",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
