package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_generation_attempts_total",
			Help: "Total number of generation API attempts, partitioned by outcome.",
		},
		[]string{"outcome"}, // success, transient, terminal, unauthorized
	)
	attemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storyteller_generation_attempt_duration_seconds",
			Help:    "Histogram of generation API attempt durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		},
	)
	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storyteller_generation_retries_total",
			Help: "Total number of scheduled generation retries.",
		},
	)
	resultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_generation_results_total",
			Help: "Total number of finished generate calls, partitioned by result.",
		},
		[]string{"result"}, // success, terminal, exhausted, canceled
	)
)
