package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MirrorQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "query_duration_seconds",
			Help:      "Subscriber mirror query latency by repository operation",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	MirrorQueryErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "query_errors_total",
			Help:      "Failed subscriber mirror queries by operation and cause",
		},
		[]string{"operation", "cause"},
	)
)

// RecordQuery observes one repository call. Use it from a deferred closure
// over the named error result:
//
//	defer func(start time.Time) { metrics.RecordQuery("upsert_subscriber", start, err) }(time.Now())
func RecordQuery(operation string, start time.Time, err error) {
	MirrorQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		MirrorQueryErrors.WithLabelValues(operation, queryErrorCause(err)).Inc()
	}
}

// queryErrorCause buckets an error into a low-cardinality label. Postgres
// errors are grouped by SQLSTATE class.
func queryErrorCause(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "no_rows"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &pgErr) && len(pgErr.Code) >= 2:
		switch pgErr.Code[:2] {
		case "23":
			return "constraint"
		case "40":
			return "serialization"
		case "53":
			return "resources"
		case "08":
			return "connection"
		}
		return "sql_" + pgErr.Code[:2]
	}
	return "other"
}

// poolCollector reads pgxpool statistics at scrape time.
type poolCollector struct {
	pool *pgxpool.Pool

	total    *prometheus.Desc
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
	waitTime *prometheus.Desc
}

func newPoolCollector(pool *pgxpool.Pool) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "mirror_pool", name), help, nil, nil)
	}
	return &poolCollector{
		pool:     pool,
		total:    desc("connections", "Open connections in the mirror pool"),
		acquired: desc("connections_acquired", "Connections currently checked out"),
		idle:     desc("connections_idle", "Idle connections"),
		max:      desc("connections_max", "Configured pool size"),
		waits:    desc("acquire_waits_total", "Acquires that had to wait for a free connection"),
		waitTime: desc("acquire_seconds_total", "Cumulative time spent acquiring connections"),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.total, c.acquired, c.idle, c.max, c.waits, c.waitTime} {
		ch <- d
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.waitTime, prometheus.CounterValue, s.AcquireDuration().Seconds())
}

// RegisterPool exposes pool statistics for the mirror. The returned func
// unregisters the collector; call it before closing the pool.
func RegisterPool(pool *pgxpool.Pool) (func(), error) {
	c := newPoolCollector(pool)
	if err := Registry.Register(c); err != nil {
		return nil, err
	}
	return func() { Registry.Unregister(c) }, nil
}
