package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tram", Name: "assignments_total", Help: "Assignment attempts by final outcome"},
		[]string{"outcome"},
	)
	AssignmentRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "tram", Name: "assignment_retries_total", Help: "Commit conflicts that forced a re-selection"},
	)
	TripsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "tram", Name: "trips_completed_total", Help: "Trips completed by the dropoff proximity check"},
	)
	DisruptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tram", Name: "disruptions_total", Help: "Driver disruptions handled, by policy"},
		[]string{"policy"},
	)
	LocationUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "tram", Name: "location_updates_total", Help: "Driver location updates processed"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tram", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tram",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
