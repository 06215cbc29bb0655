// Package metrics defines the Prometheus collectors of the live view
// engine and the HTTP router that exposes them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine Prometheus metrics.
var (
	RegistrationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "registration_failures_total",
			Help:      "Subscription and observer registrations the store rejected",
		},
		[]string{"kind"}, // "subscription" / "observer"
	)

	DecodeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "decode_failures_total",
			Help:      "Stored documents skipped because they did not decode",
		},
		[]string{"collection"},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "snapshots_total",
			Help:      "Result-set snapshots published by live views",
		},
		[]string{"collection"},
	)

	SnapshotDocuments = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "liveview",
			Name:      "snapshot_documents",
			Help:      "Documents per published snapshot",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"collection"},
	)

	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "mutations_total",
			Help:      "Gateway mutations by operation and outcome",
		},
		[]string{"op", "status"}, // status: "ok" / "error"
	)

	EvictionsDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "evictions_deferred_total",
			Help:      "Retired documents left hidden because physical eviction failed",
		},
		[]string{"collection"},
	)

	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "sweeps_total",
			Help:      "Eviction sweeps by outcome",
		},
		[]string{"collection", "result"}, // result: "ok" / "too_soon" / "error"
	)

	SweptDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "swept_documents_total",
			Help:      "Hidden documents physically evicted by sweeps",
		},
		[]string{"collection"},
	)

	DiagnosticsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "liveview",
			Name:      "diagnostics_dropped_total",
			Help:      "Diagnostics dropped because the channel buffer was full",
		},
	)

	LiveViews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "liveview",
			Name:      "live_views",
			Help:      "Open live views",
		},
	)
)

var registerOnce sync.Once

// Register registers the engine and HTTP collectors with the default
// registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RegistrationFailuresTotal,
			DecodeFailuresTotal,
			SnapshotsTotal,
			SnapshotDocuments,
			MutationsTotal,
			EvictionsDeferredTotal,
			SweepsTotal,
			SweptDocumentsTotal,
			DiagnosticsDroppedTotal,
			LiveViews,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}

// Status returns the status label for an error.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
