// Package metrics holds the funnel's Prometheus collectors. Everything is
// registered on Registry, which GET /metrics serves.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "funnel"

// Registry is private to the funnel so tests and the binary see the same
// set of collectors without touching prometheus.DefaultRegisterer.
var Registry = prometheus.NewRegistry()

var (
	AppInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build metadata of the running binary, value is always 1",
		},
		[]string{"version", "commit", "build_date"},
	)

	// HealthStatus is 2 when healthy, 1 when degraded and 0 when unhealthy.
	HealthStatus = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Result of the last /health evaluation (0 unhealthy, 1 degraded, 2 healthy)",
		},
	)

	// HealthCheckStatus is 2 for pass, 1 for warn and 0 for fail.
	HealthCheckStatus = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_status",
			Help:      "Result of each dependency probe (0 fail, 1 warn, 2 pass)",
		},
		[]string{"check"},
	)

	HealthCheckLatency = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_latency_seconds",
			Help:      "Duration of the last run of each dependency probe",
		},
		[]string{"check"},
	)
)

var runtimeOnce sync.Once

// Init adds the Go runtime and process collectors and publishes build
// metadata. Repeated calls only add another build_info series.
func Init(version, commit, buildDate string) {
	runtimeOnce.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
