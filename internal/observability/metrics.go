package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wardrive"

// Metrics holds the Prometheus collectors for ingestion, sync, the remote
// feed, the local queues, clustering and the HTTP surface.
type Metrics struct {
	ObservationsIngested *prometheus.CounterVec // labels: outcome={published,buffered}
	ValidationErrors     *prometheus.CounterVec // labels: field
	QuerySource          *prometheus.CounterVec // labels: source={storage,offline-buffer,remote}

	SyncRuns        *prometheus.CounterVec // labels: outcome={delivered,partial,skipped,empty,error}
	SyncDelivered   prometheus.Counter
	SyncFailed      prometheus.Counter
	OfflineBuffered prometheus.Gauge

	FeedRequests *prometheus.CounterVec   // labels: op={publish,fetch}, outcome={success,error}
	FeedDuration *prometheus.HistogramVec // labels: op
	FeedEnabled  prometheus.Gauge

	QueueMalformedLines *prometheus.CounterVec // labels: queue

	ClustersFound    prometheus.Gauge
	ClusterDuration  prometheus.Histogram
	ClusteredSamples prometheus.Histogram

	HTTPRequests *prometheus.CounterVec   // labels: method, route, status
	HTTPDuration *prometheus.HistogramVec // labels: method, route
}

func newMetrics() *Metrics {
	return &Metrics{
		ObservationsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_ingested_total",
			Help:      "Observations persisted locally, by forwarding outcome.",
		}, []string{"outcome"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Payloads rejected before persistence, by offending field.",
		}, []string{"field"}),
		QuerySource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_source_total",
			Help:      "Network queries answered, by the source that served them.",
		}, []string{"source"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Offline buffer sync runs by outcome.",
		}, []string{"outcome"}),
		SyncDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_delivered_total",
			Help:      "Buffered observations delivered to the remote feed.",
		}),
		SyncFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failed_total",
			Help:      "Buffered observations that failed to publish and were re-buffered.",
		}),
		OfflineBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_buffer_records",
			Help:      "Observations waiting in the offline buffer after the last sync.",
		}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "Remote feed requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		FeedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_request_duration_seconds",
			Help:      "Remote feed request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		FeedEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_enabled",
			Help:      "1 when remote feed credentials are configured, 0 otherwise.",
		}),
		QueueMalformedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_malformed_lines_total",
			Help:      "Unparseable lines skipped while reading a queue file.",
		}, []string{"queue"}),
		ClustersFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters_found",
			Help:      "Insecure hotspot clusters found by the last query.",
		}),
		ClusterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_duration_seconds",
			Help:      "Duration of one clustering run.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		ClusteredSamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_input_points",
			Help:      "Insecure points considered per clustering run.",
			Buckets:   []float64{0, 10, 50, 100, 500, 1000, 5000, 10000},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ObservationsIngested,
		m.ValidationErrors,
		m.QuerySource,
		m.SyncRuns,
		m.SyncDelivered,
		m.SyncFailed,
		m.OfflineBuffered,
		m.FeedRequests,
		m.FeedDuration,
		m.FeedEnabled,
		m.QueueMalformedLines,
		m.ClustersFound,
		m.ClusterDuration,
		m.ClusteredSamples,
		m.HTTPRequests,
		m.HTTPDuration,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
