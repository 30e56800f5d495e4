package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srs_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srs_reservations_total",
			Help: "Reservation creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srs_transitions_total",
			Help: "Reservation and session state transitions",
		},
		[]string{"to"},
	)

	BookingConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "srs_booking_conflicts_total",
			Help: "Reservation attempts lost to an overlapping booking",
		},
	)

	NoShowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "srs_no_shows_total",
			Help: "Reservations expired for lack of sign-in",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "srs_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "srs_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
