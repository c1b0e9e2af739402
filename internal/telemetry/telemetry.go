package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus instruments on a private registry.
// All methods are nil-safe so call sites do not need to guard on whether
// telemetry is enabled.
type Metrics struct {
	registry *prometheus.Registry

	questionsTotal   *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	timeToFirstToken prometheus.Histogram
	passagesReturned prometheus.Histogram
}

// NewMetrics builds and registers the pipeline instruments.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		questionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusqa",
			Name:      "questions_total",
			Help:      "Questions handled, labelled by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusqa",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by namespace and result.",
		}, []string{"namespace", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corpusqa",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		timeToFirstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corpusqa",
			Name:      "time_to_first_token_seconds",
			Help:      "Latency from generation start to the first streamed increment.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		passagesReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corpusqa",
			Name:      "passages_returned",
			Help:      "Fused passages returned per search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		}),
	}
	m.registry.MustRegister(
		m.questionsTotal,
		m.cacheLookups,
		m.stageDuration,
		m.timeToFirstToken,
		m.passagesReturned,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Question outcomes.
const (
	OutcomeCached    = "cached"
	OutcomeGenerated = "generated"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

func (m *Metrics) ObserveQuestion(outcome string) {
	if m == nil {
		return
	}
	m.questionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCacheLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(namespace, result).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveFirstToken(d time.Duration) {
	if m == nil {
		return
	}
	m.timeToFirstToken.Observe(d.Seconds())
}

func (m *Metrics) ObservePassages(n int) {
	if m == nil {
		return
	}
	m.passagesReturned.Observe(float64(n))
}
