package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commonroom",
			Name:      "booking_operations_total",
			Help:      "Booking operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commonroom",
			Name:      "slot_conflicts_total",
			Help:      "Slot conflicts by detection phase (precheck or reconcile).",
		},
		[]string{"phase"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commonroom",
			Name:      "notifications_total",
			Help:      "Outbound notifications by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commonroom",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingOps, conflicts, notifications, httpRequests)
	})
}

func IncBookingOp(operation, outcome string) {
	bookingOps.WithLabelValues(operation, outcome).Inc()
}

// IncConflict counts a detected overlap; phase is "precheck" for snapshot
// rejections and "reconcile" for post-write collisions.
func IncConflict(phase string) {
	conflicts.WithLabelValues(phase).Inc()
}

func IncNotification(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
