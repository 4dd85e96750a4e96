package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// moderationChecks counts finalized submissions by input type and verdict.
	moderationChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brandsafe",
			Name:      "moderation_checks_total",
			Help:      "Total number of moderation checks by input type and result.",
		},
		[]string{"input_type", "result"},
	)

	// classificationLat records classifier wall time in seconds.
	classificationLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "brandsafe",
			Name:      "moderation_classification_seconds",
			Help:      "Time spent classifying a submission, in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"classifier"},
	)
)

func init() {
	prometheus.MustRegister(moderationChecks, classificationLat)
}
