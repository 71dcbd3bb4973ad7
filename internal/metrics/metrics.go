package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RowsLoaded       *prometheus.CounterVec
	DocsExtracted    *prometheus.CounterVec
	RowsSkipped      *prometheus.CounterVec
	APIRequestsTotal *prometheus.CounterVec
	APIRetriesTotal  *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qbo_pipeline",
			Name:      "runs_total",
			Help:      "Entity runs by final state.",
		}, []string{"client_id", "entity", "state"}),

		RowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qbo_pipeline",
			Name:      "rows_loaded_total",
			Help:      "Rows written to the warehouse by table and operation.",
		}, []string{"client_id", "table", "op"}),

		DocsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qbo_pipeline",
			Name:      "documents_extracted_total",
			Help:      "Raw documents pulled from the source API.",
		}, []string{"client_id", "entity"}),

		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qbo_pipeline",
			Name:      "rows_skipped_total",
			Help:      "Rows dropped by validation or flattening.",
		}, []string{"client_id", "entity", "reason"}),

		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qbo_pipeline",
			Name:      "api_requests_total",
			Help:      "Source API requests by status class.",
		}, []string{"client_id", "status"}),

		APIRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qbo_pipeline",
			Name:      "api_retries_total",
			Help:      "Source API retries by cause.",
		}, []string{"client_id", "cause"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qbo_pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one (tenant, entity) run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"client_id", "entity"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RowsLoaded,
		m.DocsExtracted,
		m.RowsSkipped,
		m.APIRequestsTotal,
		m.APIRetriesTotal,
		m.RunDuration,
	)
	return m
}

// RecordLoad tracks one batch's counts against a table.
func (m *Metrics) RecordLoad(clientID, table string, inserted, updated, unchanged int) {
	m.RowsLoaded.WithLabelValues(clientID, table, "insert").Add(float64(inserted))
	m.RowsLoaded.WithLabelValues(clientID, table, "update").Add(float64(updated))
	m.RowsLoaded.WithLabelValues(clientID, table, "unchanged").Add(float64(unchanged))
}
