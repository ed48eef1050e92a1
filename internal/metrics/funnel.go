package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Funnel metrics
var (
	// SubscriptionsTotal counts form submissions by flow and result.
	SubscriptionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_total",
			Help:      "Total number of subscription attempts",
		},
		[]string{"flow", "result"}, // flow: newsletter|interest|signup|application|unsubscribe
	)

	// UpstreamRequestsTotal counts calls to third-party services.
	UpstreamRequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of requests to upstream services",
		},
		[]string{"service", "outcome"}, // service: mailchimp|webhook|telegram|resend, outcome: success|error
	)

	UpstreamRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream request latency in seconds, including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service"},
	)

	WebhookDeliveriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook delivery attempts per endpoint",
		},
		[]string{"endpoint", "outcome"},
	)

	RateLimitedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"tier"},
	)

	EmailsSentTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Total number of transactional emails by template and outcome",
		},
		[]string{"template", "outcome"},
	)

	RetentionDeletedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Total number of rows removed by the retention job",
		},
		[]string{"table"},
	)
)

// ObserveUpstream records one logical upstream call.
func ObserveUpstream(service string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// Outcome maps an error to a metric label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
