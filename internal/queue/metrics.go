// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcomes recorded by Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
	OutcomeStalled   = "stalled"
)

// Metrics are the runner's Prometheus collectors.
type Metrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the runner collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostshift_queue_jobs_total",
			Help: "Jobs processed by queue and outcome",
		}, []string{"queue", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ghostshift_queue_job_duration_seconds",
			Help:    "Handler run time per job",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"queue"}),
	}
}

func (m *Metrics) observe(queue, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, outcome).Inc()
	if took > 0 {
		m.duration.WithLabelValues(queue).Observe(took.Seconds())
	}
}
