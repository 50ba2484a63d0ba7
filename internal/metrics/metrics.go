package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunkfetch"

// Metrics holds the pipeline instruments.
type Metrics struct {
	attempts         prometheus.Counter
	retries          prometheus.Counter
	failures         *prometheus.CounterVec
	cancellations    prometheus.Counter
	processed        prometheus.Counter
	bytes            prometheus.Counter
	downloadDuration prometheus.Histogram
}

// New creates the instruments and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_attempts_total",
			Help:      "Chunk fetch attempts, including retries.",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_retries_total",
			Help:      "Chunk fetch attempts that were retried.",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_failures_total",
			Help:      "Chunks that failed terminally, by phase.",
		}, []string{"phase"}),
		cancellations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_cancellations_total",
			Help:      "Chunk downloads that were cancelled.",
		}),
		processed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_processed_total",
			Help:      "Chunks decompressed and decoded successfully.",
		}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Raw chunk bytes downloaded.",
		}),
		downloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of successful chunk fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// Attempt counts a fetch attempt.
func (m *Metrics) Attempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

// Retry counts a retried attempt.
func (m *Metrics) Retry() {
	if m != nil {
		m.retries.Inc()
	}
}

// Failure counts a terminal failure in phase ("download" or "processing").
func (m *Metrics) Failure(phase string) {
	if m != nil {
		m.failures.WithLabelValues(phase).Inc()
	}
}

// Cancelled counts a cancelled download.
func (m *Metrics) Cancelled() {
	if m != nil {
		m.cancellations.Inc()
	}
}

// Processed records a successfully processed chunk.
func (m *Metrics) Processed(bytes int64, took time.Duration) {
	if m == nil {
		return
	}
	m.processed.Inc()
	m.bytes.Add(float64(bytes))
	if took > 0 {
		m.downloadDuration.Observe(took.Seconds())
	}
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
