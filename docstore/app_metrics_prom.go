package docstore

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusAppMetrics exports request and upsert metrics to Prometheus and
// keeps an in-memory copy for the JSON snapshot endpoint.
type PrometheusAppMetrics struct {
	inner    *InMemAppMetrics
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	upsertsTotal   *prometheus.CounterVec
	upsertLatency  *prometheus.HistogramVec
	documentsTotal *prometheus.CounterVec
	docsPerUpsert  prometheus.Histogram
}

// NewPrometheusAppMetrics registers the collectors on a fresh registry.
func NewPrometheusAppMetrics() *PrometheusAppMetrics {
	m := &PrometheusAppMetrics{
		inner:    NewInMemAppMetrics(),
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "horizon_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "horizon_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upsertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "horizon_upserts_total",
			Help: "Upsert requests by collection and result (ok or error)",
		}, []string{"collection", "result"}),
		upsertLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "horizon_upsert_duration_seconds",
			Help:    "Upsert request latency by collection",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "horizon_upsert_documents_total",
			Help: "Upserted documents by collection and outcome",
		}, []string{"collection", "outcome"}),
		docsPerUpsert: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "horizon_upsert_batch_documents",
			Help:    "Distribution of documents per upsert request",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestLatency,
		m.upsertsTotal,
		m.upsertLatency,
		m.documentsTotal,
		m.docsPerUpsert,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *PrometheusAppMetrics) RecordRequest(method, path string, status int, latencyMS int64) {
	m.inner.RecordRequest(method, path, status, latencyMS)
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(method, path).Observe(float64(max(latencyMS, 0)) / 1000)
}

func (m *PrometheusAppMetrics) RecordUpsert(collection string, latencyMS int64, counts UpsertCounts, err error) {
	m.inner.RecordUpsert(collection, latencyMS, counts, err)
	collection = m.inner.labels.label(collection)
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upsertsTotal.WithLabelValues(collection, result).Inc()
	m.upsertLatency.WithLabelValues(collection).Observe(float64(max(latencyMS, 0)) / 1000)
	m.docsPerUpsert.Observe(float64(max(counts.Documents, 0)))
	if err != nil {
		return
	}
	m.documentsTotal.WithLabelValues(collection, "written").Add(float64(counts.Written))
	m.documentsTotal.WithLabelValues(collection, CodeUnauthorized).Add(float64(counts.Unauthorized))
	m.documentsTotal.WithLabelValues(collection, CodeInvalidated).Add(float64(counts.Invalidated))
}

func (m *PrometheusAppMetrics) Snapshot() MetricsSnapshot {
	return m.inner.Snapshot()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusAppMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
