package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NudgesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudge_dispatches_total",
		Help: "Total nudge dispatch attempts by type and outcome.",
	}, []string{"type", "outcome"})

	TrackingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudge_tracking_events_total",
		Help: "Engagement events recorded by the tracking gateway.",
	}, []string{"kind", "outcome"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nudge_batch_duration_seconds",
		Help:    "Duration of one (tenant, type) batch run.",
		Buckets: prometheus.DefBuckets,
	})

	BatchSends = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nudge_batch_sends",
		Help:    "Nudges sent per batch run.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	})
)
