package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics contains library-level metrics shared by all sessions
type CoreMetrics struct {
	// Session metrics
	SessionStatus *prometheus.GaugeVec

	// Fetch metrics
	PagesFetched  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	// Change feed metrics
	EventsReceived *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewCoreMetrics creates a new CoreMetrics instance
func NewCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		SessionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "catalogstream",
				Subsystem: "session",
				Name:      "status",
				Help:      "Session status (0=created, 1=started, 2=stopped, 3=failed)",
			},
			[]string{"session"},
		),

		PagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "catalogstream",
				Subsystem: "loader",
				Name:      "pages_fetched_total",
				Help:      "Total number of catalog pages fetched from the source",
			},
			[]string{"session", "result"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "catalogstream",
				Subsystem: "loader",
				Name:      "fetch_duration_seconds",
				Help:      "Page fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"session"},
		),

		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "catalogstream",
				Subsystem: "feed",
				Name:      "events_received_total",
				Help:      "Total number of change feed events received",
			},
			[]string{"session", "type"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "catalogstream",
				Subsystem: "feed",
				Name:      "events_dropped_total",
				Help:      "Total number of change feed events dropped",
			},
			[]string{"session", "reason"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "catalogstream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),
	}
}

// mustRegister registers all core metrics with the provided registry.
func (m *CoreMetrics) mustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		m.SessionStatus,
		m.PagesFetched,
		m.FetchDuration,
		m.EventsReceived,
		m.EventsDropped,
		m.ErrorsTotal,
	)
}
