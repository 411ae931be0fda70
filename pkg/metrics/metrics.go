package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the master selector, registered with the default registry.
var (
	// --- Coordination Metrics ---

	// CoordinationRequests counts completed coordination calls.
	CoordinationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "coordination",
			Name:      "requests_total",
			Help:      "Completed coordination service calls by operation and status",
		},
		[]string{"op", "status"},
	)

	// Retries counts requests re-posted after a transient failure.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "coordination",
			Name:      "retries_total",
			Help:      "Requests retried after connection loss",
		},
		[]string{"op"},
	)

	// WatchesFired counts watch notifications handled.
	WatchesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "coordination",
			Name:      "watches_fired_total",
			Help:      "Watch notifications received by event type",
		},
		[]string{"type"},
	)

	// --- Session Metrics ---

	// SessionEvents counts session lifecycle changes.
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events by state",
		},
		[]string{"state"},
	)

	// Dials counts connection attempts, including failed ones.
	Dials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "session",
			Name:      "dials_total",
			Help:      "Connection attempts by result",
		},
		[]string{"result"},
	)

	// --- Election Metrics ---

	// ElectionsWon counts successful claims.
	ElectionsWon = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "election",
			Name:      "won_total",
			Help:      "Claims won by service key",
		},
		[]string{"key"},
	)

	// ElectionsLost counts rounds lost to an incumbent.
	ElectionsLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "election",
			Name:      "lost_total",
			Help:      "Rounds lost to an existing claim by service key",
		},
		[]string{"key"},
	)

	// ElectionsAbandoned counts keys given up after a structural or unclassified error.
	ElectionsAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterselector",
			Subsystem: "election",
			Name:      "abandoned_total",
			Help:      "Contention stopped after a non-retryable status",
		},
		[]string{"key", "status"},
	)

	// ClaimedKeys tracks keys this process currently holds.
	ClaimedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "masterselector",
			Subsystem: "election",
			Name:      "claimed_keys",
			Help:      "Number of service keys this process is master for",
		},
	)

	// --- Registry Metrics ---

	// KnownMasters tracks entries in the master registry.
	KnownMasters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "masterselector",
			Subsystem: "registry",
			Name:      "known_masters",
			Help:      "Number of service keys with a cached master address",
		},
	)
)

// RecordCompletion records a completed coordination call.
func RecordCompletion(op, status string) {
	CoordinationRequests.WithLabelValues(op, status).Inc()
}
