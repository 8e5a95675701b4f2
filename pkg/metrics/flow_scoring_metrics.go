// Package metrics provides prometheus instrumentation for the scoring engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// ScoringMetrics groups the engine and scheduler collectors.
// A nil *ScoringMetrics is valid and records nothing.
type ScoringMetrics struct {
	scores       *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	timeouts     prometheus.Counter
	duration     *prometheus.HistogramVec
	batchEmails  *prometheus.CounterVec
	batchTime    prometheus.Histogram
	decisions    *prometheus.CounterVec
}

// NewScoringMetrics creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewScoringMetrics(reg prometheus.Registerer) *ScoringMetrics {
	m := &ScoringMetrics{
		scores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_scores_computed_total",
				Help: "Attention scores computed, by strategy and category",
			},
			[]string{"strategy", "category"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_score_cache_lookups_total",
				Help: "Score cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flow_scoring_timeouts_total",
			Help: "Strategy computations that exceeded the time budget and fell back to the simple strategy",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flow_scoring_duration_seconds",
				Help:    "Strategy computation time",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
			},
			[]string{"strategy"},
		),
		batchEmails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_batch_emails_total",
				Help: "Emails handled by the rescoring scheduler, by result",
			},
			[]string{"result"}, // updated, failed, skipped
		),
		batchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flow_batch_duration_seconds",
			Help:    "Rescoring batch wall time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_categorization_decisions_total",
				Help: "Category resolutions by method and category",
			},
			[]string{"method", "category"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.scores, m.cacheLookups, m.timeouts, m.duration, m.batchEmails, m.batchTime, m.decisions)
	}
	return m
}

func (m *ScoringMetrics) ObserveScore(strategy, category string, d time.Duration) {
	if m == nil {
		return
	}
	m.scores.WithLabelValues(strategy, category).Inc()
	m.duration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *ScoringMetrics) CacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

func (m *ScoringMetrics) Timeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *ScoringMetrics) Decision(method, category string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(method, category).Inc()
}

// Batch records the outcome of one scheduler batch.
func (m *ScoringMetrics) Batch(updated, failed, skipped int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batchEmails.WithLabelValues("updated").Add(float64(updated))
	m.batchEmails.WithLabelValues("failed").Add(float64(failed))
	m.batchEmails.WithLabelValues("skipped").Add(float64(skipped))
	m.batchTime.Observe(elapsed.Seconds())
}
