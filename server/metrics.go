package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dataset server.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Conversion metrics
	ConversionsTotal  prometheus.Counter
	ConversionsFailed prometheus.Counter
	ConvertDuration   prometheus.Histogram

	// Dataset metrics
	DatasetsStored prometheus.Gauge
	BatchesServed  prometheus.Counter
	BytesIn        prometheus.Counter
	BytesOut       prometheus.Counter

	// Connection metrics
	ActiveConnections prometheus.Gauge
	AuthFailures      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with the given namespace,
// registered on its own registry so tests can create many instances.
func NewMetrics(namespace string) (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests by op and status",
		}, []string{"op", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handling latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		ConversionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of image-to-tensor conversions",
		}),
		ConversionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_failed_total",
			Help:      "Total number of failed conversions",
		}),
		ConvertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "convert_duration_seconds",
			Help:      "Conversion latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		DatasetsStored: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datasets_stored",
			Help:      "Number of datasets currently held in memory",
		}),
		BatchesServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_served_total",
			Help:      "Total number of record batches served to clients",
		}),
		BytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_in_total",
			Help:      "Total payload bytes received",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_out_total",
			Help:      "Total payload bytes sent",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently open client connections",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected authentication attempts",
		}),
	}
	return m, reg
}

// Handler returns an HTTP handler exposing the registry in Prometheus
// text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
