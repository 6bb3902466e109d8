package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the query engine.
type Metrics struct {
	// Query metrics
	QueriesTotal     prometheus.Counter
	QueriesSucceeded prometheus.Counter
	QueriesFailed    prometheus.Counter
	QueryLatency     prometheus.Histogram

	// Stream metrics
	PayloadBytes prometheus.Histogram
	BatchesTotal prometheus.Counter
	RowsTotal    prometheus.Counter

	// System metrics
	QueueSize     prometheus.Gauge
	PoolActive    prometheus.Gauge
	FlightStreams *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of queries submitted",
		}),
		QueriesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_succeeded_total",
			Help:      "Total number of queries that produced a complete stream",
		}),
		QueriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_failed_total",
			Help:      "Total number of failed queries",
		}),
		QueryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		PayloadBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_bytes",
			Help:      "Size of serialized IPC stream payloads in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		BatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of record batches produced",
		}),
		RowsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Total number of rows converted",
		}),

		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Current number of pending query jobs",
		}),
		PoolActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_active",
			Help:      "Number of workers currently running a pipeline",
		}),
		FlightStreams: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flight_streams_total",
			Help:      "Total Flight DoGet streams by status",
		}, []string{"status"}),
	}
}

// RecordQuery records one finished query.
func (m *Metrics) RecordQuery(success bool, duration time.Duration) {
	m.QueriesTotal.Inc()
	m.QueryLatency.Observe(duration.Seconds())
	if success {
		m.QueriesSucceeded.Inc()
	} else {
		m.QueriesFailed.Inc()
	}
}

// RecordPayload records a serialized stream payload.
func (m *Metrics) RecordPayload(bytes int) {
	m.PayloadBytes.Observe(float64(bytes))
}

// RecordBatch records one produced record batch.
func (m *Metrics) RecordBatch(rows int) {
	m.BatchesTotal.Inc()
	m.RowsTotal.Add(float64(rows))
}

// RecordFlightStream records a Flight DoGet stream outcome.
func (m *Metrics) RecordFlightStream(status string) {
	m.FlightStreams.WithLabelValues(status).Inc()
}

// UpdatePool updates the queue and worker gauges.
func (m *Metrics) UpdatePool(active int64, pending int) {
	m.PoolActive.Set(float64(active))
	m.QueueSize.Set(float64(pending))
}

// MetricsServer runs an HTTP server exposing /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address.
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
