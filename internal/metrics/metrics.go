package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branch_ops_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "branch_ops_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "branch_ops_db_tx_duration_seconds",
			Help:    "Duration of database transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	CodesAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branch_ops_codes_allocated_total",
			Help: "Sequential lead and student codes allocated",
		},
		[]string{"kind"},
	)

	AttendanceWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branch_ops_attendance_warnings_total",
			Help: "Late/absent warnings produced by attendance marking",
		},
	)

	SessionsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branch_ops_sessions_consumed_total",
			Help: "Paid sessions consumed, by resulting fee status",
		},
		[]string{"fee_status"},
	)

	LevelRollovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branch_ops_level_rollovers_total",
			Help: "Curriculum level completions",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branch_ops_events_published_total",
			Help: "Domain events published after commit",
		},
		[]string{"type"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branch_ops_notifications_sent_total",
			Help: "Outbound notifications delivered",
		},
		[]string{"channel"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branch_ops_notifications_failed_total",
			Help: "Outbound notifications that failed delivery",
		},
		[]string{"channel"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTx records a transaction's duration under operation, labelled by
// whether it committed.
func RecordTx(operation string, duration time.Duration, err error) {
	outcome := "commit"
	if err != nil {
		outcome = "rollback"
	}
	TxDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordNotification counts a delivery attempt on channel.
func RecordNotification(channel string, err error) {
	if err != nil {
		NotificationsFailed.WithLabelValues(channel).Inc()
		return
	}
	NotificationsSent.WithLabelValues(channel).Inc()
}
