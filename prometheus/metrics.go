package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame outcomes
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomePanic    = "panic"
)

// Metrics holds the service collectors
type Metrics struct {
	// HTTP request metrics (ops surface)
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec

	// Protocol metrics
	FramesTotal     *prometheus.CounterVec
	FrameDuration   *prometheus.HistogramVec
	DuplicateFrames prometheus.Counter
	DroppedPushes   prometheus.Counter

	// Connection metrics
	OpenConnections prometheus.Gauge
	OnlineUsers     prometheus.Gauge

	// Authentication metrics
	AuthAttemptsCounter *prometheus.CounterVec

	// Database operation metrics
	DbOperationDuration *prometheus.HistogramVec

	// Order metrics
	OrderTransitions *prometheus.CounterVec
	RefundedUnits    prometheus.Counter

	// Chat metrics
	ChatMessages *prometheus.CounterVec
}

// New registers the collectors on reg, names prefixed with prefix
func New(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HttpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HttpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_frames_total",
				Help: "Total number of inbound frames by message type and outcome",
			},
			[]string{"type", "outcome"},
		),
		FrameDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_frame_duration_seconds",
				Help:    "Duration of frame handling in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		DuplicateFrames: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_duplicate_frames_total",
				Help: "Total number of frames dropped as duplicates",
			},
		),
		DroppedPushes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_dropped_pushes_total",
				Help: "Total number of pushed frames dropped because the outbound queue was full",
			},
		),
		OpenConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_open_connections",
				Help: "Current number of open client connections",
			},
		),
		OnlineUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_online_users",
				Help: "Current number of authenticated users",
			},
		),
		AuthAttemptsCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_auth_attempts_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		DbOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_db_operation_duration_seconds",
				Help:    "Duration of database operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation_type"},
		),
		OrderTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_order_transitions_total",
				Help: "Total number of order status transitions by target status",
			},
			[]string{"status"},
		),
		RefundedUnits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_refunded_units_total",
				Help: "Total number of product units returned to stock by refunds",
			},
		),
		ChatMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_chat_messages_total",
				Help: "Total number of chat messages by scope",
			},
			[]string{"scope"},
		),
	}
}

// TrackDBOperation returns a function that records the duration of a database operation
func (m *Metrics) TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		duration := time.Since(startTime).Seconds()
		m.DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordFrame counts one handled frame and its handling time
func (m *Metrics) RecordFrame(msgType, outcome string, startTime time.Time) {
	m.FramesTotal.WithLabelValues(msgType, outcome).Inc()
	m.FrameDuration.WithLabelValues(msgType).Observe(time.Since(startTime).Seconds())
}

// RecordAuthAttempt counts a login or resume attempt
func (m *Metrics) RecordAuthAttempt(success bool) {
	outcome := OutcomeFailed
	if success {
		outcome = OutcomeOK
	}
	m.AuthAttemptsCounter.WithLabelValues(outcome).Inc()
}

// RecordOrderTransition counts a header entering status
func (m *Metrics) RecordOrderTransition(status string) {
	m.OrderTransitions.WithLabelValues(status).Inc()
}

// RecordChatMessage counts a delivered chat message
func (m *Metrics) RecordChatMessage(broadcast bool) {
	scope := "direct"
	if broadcast {
		scope = "broadcast"
	}
	m.ChatMessages.WithLabelValues(scope).Inc()
}
