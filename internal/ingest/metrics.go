package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/matching"
)

var (
	matchDecisionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainload",
		Subsystem: "ingest",
		Name:      "match_decisions_total",
		Help:      "Matching engine decisions, labeled by outcome.",
	}, []string{"decision"})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainload",
		Subsystem: "ingest",
		Name:      "activities_skipped_total",
		Help:      "Malformed activities skipped during ingestion, labeled by source.",
	}, []string{"source"})

	recomputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trainload",
		Subsystem: "pmc",
		Name:      "recompute_duration_seconds",
		Help:      "Time spent recomputing the daily metrics series.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	recomputedDaysCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trainload",
		Subsystem: "pmc",
		Name:      "recomputed_days_total",
		Help:      "Number of daily metric entries written by recompute passes.",
	})
)

func init() {
	prometheus.MustRegister(matchDecisionCounter, skippedCounter, recomputeDuration, recomputedDaysCounter)
}

func recordMatchDecision(decision matching.Decision) {
	matchDecisionCounter.WithLabelValues(string(decision)).Inc()
}

func recordSkipped(source domain.Source) {
	skippedCounter.WithLabelValues(string(source)).Inc()
}

func observeRecomputeStart() time.Time {
	return time.Now()
}

func observeRecomputeDone(start time.Time, days int) {
	recomputeDuration.Observe(time.Since(start).Seconds())
	recomputedDaysCounter.Add(float64(days))
}
