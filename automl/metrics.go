package automl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's Prometheus instruments. A nil-safe
// NopMetrics variant keeps tests and embedded use free of a registry.
type Metrics struct {
	runsSubmitted  prometheus.Counter
	runsFinished   *prometheus.CounterVec
	runDuration    prometheus.Histogram
	searchOutcomes *prometheus.CounterVec
	trialsTotal    *prometheus.CounterVec
}

// NewMetrics registers the orchestrator's instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automl_runs_submitted_total",
			Help: "AutoML runs accepted for background execution.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automl_runs_finished_total",
			Help: "AutoML runs reaching a terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "automl_run_duration_seconds",
			Help:    "Wall-clock duration of finished AutoML runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 10),
		}),
		searchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automl_searches_finished_total",
			Help: "Per-algorithm search outcomes.",
		}, []string{"algorithm", "status"}),
		trialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automl_trials_total",
			Help: "Hyperparameter trials executed, by algorithm.",
		}, []string{"algorithm"}),
	}
	reg.MustRegister(m.runsSubmitted, m.runsFinished, m.runDuration, m.searchOutcomes, m.trialsTotal)
	return m
}

// NopMetrics returns instruments that record but are never scraped.
func NopMetrics() *Metrics {
	m := NewMetrics(prometheus.NewRegistry())
	return m
}

func (m *Metrics) RunSubmitted() {
	m.runsSubmitted.Inc()
}

func (m *Metrics) RunFinished(status string, elapsed time.Duration) {
	m.runsFinished.WithLabelValues(status).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SearchFinished(algorithm, status string, trials int) {
	m.searchOutcomes.WithLabelValues(algorithm, status).Inc()
	m.trialsTotal.WithLabelValues(algorithm).Add(float64(trials))
}
