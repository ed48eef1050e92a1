package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

var (
	JobsEnqueued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Background jobs inserted, by kind",
		},
		[]string{"kind"},
	)

	JobsRunning = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Background jobs currently being worked, by kind",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of a single job attempt",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"kind"},
	)

	// JobAttempts labels each finished attempt as ok, retry (River will
	// try again) or discarded (attempt budget exhausted).
	JobAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "attempts_total",
			Help:      "Finished job attempts by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// RiverMetricsHook feeds the jobs_* collectors from River's insert and work
// hooks.
type RiverMetricsHook struct {
	river.HookDefaults
}

func NewRiverMetricsHook() *RiverMetricsHook {
	return &RiverMetricsHook{}
}

func (h *RiverMetricsHook) InsertBegin(_ context.Context, params *rivertype.JobInsertParams) error {
	JobsEnqueued.WithLabelValues(params.Kind).Inc()
	return nil
}

func (h *RiverMetricsHook) WorkBegin(_ context.Context, job *rivertype.JobRow) error {
	JobsRunning.WithLabelValues(job.Kind).Inc()
	return nil
}

func (h *RiverMetricsHook) WorkEnd(_ context.Context, job *rivertype.JobRow, err error) error {
	JobsRunning.WithLabelValues(job.Kind).Dec()
	if job.AttemptedAt != nil {
		JobDuration.WithLabelValues(job.Kind).Observe(time.Since(*job.AttemptedAt).Seconds())
	}
	JobAttempts.WithLabelValues(job.Kind, attemptResult(job, err)).Inc()
	return nil
}

func attemptResult(job *rivertype.JobRow, err error) string {
	switch {
	case err == nil:
		return "ok"
	case job.Attempt >= job.MaxAttempts:
		return "discarded"
	default:
		return "retry"
	}
}
