package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/webhook"
)

const (
	checkPass = "pass"
	checkWarn = "warn"
	checkFail = "fail"

	healthTimeout = 5 * time.Second
	probeTimeout  = 2 * time.Second
)

// HealthCheck is the body of GET /health.
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult is one dependency's verdict. Status is pass, warn or fail;
// any fail makes the service unhealthy, any warn makes it degraded.
type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AudiencePinger is the Mailchimp client as seen by the health check.
type AudiencePinger interface {
	Configured() bool
	Ping(ctx context.Context) error
}

// RelayHealth is the webhook relay as seen by the health check.
type RelayHealth interface {
	Configured() bool
	Health() []webhook.EndpointStatus
}

// Toggle reports whether an optional integration is switched on.
type Toggle interface {
	Enabled() bool
}

// HealthChecker reports on the mirror database, its migrations, the job
// queue and every upstream integration. A nil pool means relay-only mode.
type HealthChecker struct {
	pool      *pgxpool.Pool
	jobs      *river.Client[pgx.Tx]
	version   string
	gitCommit string

	audience AudiencePinger
	relay    RelayHealth
	telegram Toggle
	email    Toggle

	// Mailchimp rate-limits aggressively, so its ping result is reused
	// for pingTTL.
	pingTTL  time.Duration
	pingMu   sync.Mutex
	pingedAt time.Time
	pingErr  error
}

// HealthOption attaches an upstream integration to the health report.
type HealthOption func(*HealthChecker)

func WithAudience(a AudiencePinger) HealthOption {
	return func(h *HealthChecker) { h.audience = a }
}

func WithRelay(r RelayHealth) HealthOption {
	return func(h *HealthChecker) { h.relay = r }
}

func WithTelegram(t Toggle) HealthOption {
	return func(h *HealthChecker) { h.telegram = t }
}

func WithEmail(e Toggle) HealthOption {
	return func(h *HealthChecker) { h.email = e }
}

func NewHealthChecker(pool *pgxpool.Pool, jobs *river.Client[pgx.Tx], version, gitCommit string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		pool:      pool,
		jobs:      jobs,
		version:   version,
		gitCommit: gitCommit,
		pingTTL:   time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type probe struct {
	name string
	run  func(context.Context) CheckResult
}

func (h *HealthChecker) probes() []probe {
	ps := []probe{
		{"database", h.checkDatabase},
		{"job_queue", h.checkJobQueue},
		{"mailchimp", h.checkMailchimp},
		{"webhook", func(context.Context) CheckResult { return h.checkWebhook() }},
		{"telegram", func(context.Context) CheckResult { return checkToggle(h.telegram, "Telegram notifications") }},
		{"email", func(context.Context) CheckResult { return checkToggle(h.email, "Transactional email") }},
	}
	if h.pool != nil {
		ps = append(ps, probe{"migrations", h.checkMigrations})
	}
	return ps
}

// Health runs every probe concurrently and reports the worst outcome.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Err() != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutting_down"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		probes := h.probes()
		results := make([]CheckResult, len(probes))
		var g errgroup.Group
		for i, p := range probes {
			g.Go(func() error {
				results[i] = p.run(ctx)
				return nil
			})
		}
		_ = g.Wait()

		report := HealthCheck{
			Status:    "healthy",
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    make(map[string]CheckResult, len(probes)),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		for i, p := range probes {
			res := results[i]
			report.Checks[p.name] = res
			metrics.HealthCheckStatus.WithLabelValues(p.name).Set(checkGauge(res.Status))
			metrics.HealthCheckLatency.WithLabelValues(p.name).Set(float64(res.LatencyMs) / 1000)
			switch {
			case res.Status == checkFail:
				report.Status = "unhealthy"
			case res.Status == checkWarn && report.Status == "healthy":
				report.Status = "degraded"
			}
		}
		metrics.HealthStatus.Set(overallGauge(report.Status))

		code := http.StatusOK
		if report.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func checkGauge(status string) float64 {
	switch status {
	case checkPass:
		return 2
	case checkWarn:
		return 1
	}
	return 0
}

func overallGauge(status string) float64 {
	switch status {
	case "healthy":
		return 2
	case "degraded":
		return 1
	}
	return 0
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	if h.pool == nil {
		return CheckResult{
			Status:  checkWarn,
			Message: "Database not configured, running in relay-only mode",
			Details: map[string]any{"remediation": "Set DATABASE_URL to enable the subscriber mirror and job queue"},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	start := time.Now()
	var one int
	err := h.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		message, remediation := diagnoseDBError(err)
		return CheckResult{
			Status:    checkFail,
			Message:   message,
			LatencyMs: latency,
			Details:   map[string]any{"error": err.Error(), "remediation": remediation},
		}
	}

	stat := h.pool.Stat()
	return CheckResult{
		Status:    checkPass,
		Message:   "PostgreSQL connection successful",
		LatencyMs: latency,
		Details: map[string]any{
			"max_connections":      stat.MaxConns(),
			"total_connections":    stat.TotalConns(),
			"idle_connections":     stat.IdleConns(),
			"acquired_connections": stat.AcquiredConns(),
		},
	}
}

// diagnoseDBError maps a connection or query failure to an operator hint.
func diagnoseDBError(err error) (message, remediation string) {
	var pgErr *pgconn.PgError
	var netErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Database query timed out", "Check PostgreSQL load and network latency"
	case errors.As(err, &pgErr) && (pgErr.Code == "28P01" || pgErr.Code == "28000"):
		return "Database authentication failed", "Verify the DATABASE_URL username and password"
	case errors.As(err, &pgErr) && pgErr.Code == "3D000":
		return "Database does not exist", "Create the database or fix the DATABASE_URL database name"
	case errors.As(err, &dnsErr):
		return "Cannot resolve database host", "Check the DATABASE_URL hostname"
	case errors.As(err, &netErr):
		return "Cannot reach database host", "Verify PostgreSQL is running and the DATABASE_URL host and port"
	}
	return "Database query failed", "Check DATABASE_URL and the PostgreSQL service status"
}

func (h *HealthChecker) checkMigrations(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	start := time.Now()

	var (
		version int64
		dirty   bool
	)
	err := h.pool.QueryRow(ctx,
		`SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &dirty)
	latency := time.Since(start).Milliseconds()

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == "42P01":
		return CheckResult{
			Status:    checkFail,
			Message:   "Migrations table not found",
			LatencyMs: latency,
			Details:   map[string]any{"remediation": "Run funnel migrate up"},
		}
	case errors.Is(err, pgx.ErrNoRows):
		return CheckResult{
			Status:    checkFail,
			Message:   "No migrations applied",
			LatencyMs: latency,
			Details:   map[string]any{"remediation": "Run funnel migrate up"},
		}
	case err != nil:
		return CheckResult{
			Status:    checkFail,
			Message:   "Failed to query migration version",
			LatencyMs: latency,
			Details:   map[string]any{"error": err.Error()},
		}
	case dirty:
		return CheckResult{
			Status:    checkFail,
			Message:   "Database in dirty migration state, manual intervention required",
			LatencyMs: latency,
			Details: map[string]any{
				"version":     version,
				"remediation": fmt.Sprintf("Repair the schema, then force version %d with golang-migrate before migrating again", version),
			},
		}
	}
	return CheckResult{
		Status:    checkPass,
		Message:   fmt.Sprintf("Migrations applied successfully (version %d)", version),
		LatencyMs: latency,
		Details:   map[string]any{"version": version},
	}
}

func (h *HealthChecker) checkJobQueue(ctx context.Context) CheckResult {
	if h.jobs == nil || h.pool == nil {
		return CheckResult{Status: checkWarn, Message: "Job queue not initialized, retries are disabled"}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	start := time.Now()

	var present bool
	if err := h.pool.QueryRow(ctx, `SELECT to_regclass('river_job') IS NOT NULL`).Scan(&present); err != nil {
		return CheckResult{
			Status:    checkFail,
			Message:   "Failed to inspect job queue schema",
			LatencyMs: time.Since(start).Milliseconds(),
			Details:   map[string]any{"error": err.Error()},
		}
	}
	if !present {
		return CheckResult{
			Status:    checkWarn,
			Message:   "River job queue table not found",
			LatencyMs: time.Since(start).Milliseconds(),
			Details:   map[string]any{"remediation": "Run funnel migrate up to create the river_job table"},
		}
	}

	var pending, discarded int64
	err := h.pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE state IN ('available', 'running', 'retryable')),
		       count(*) FILTER (WHERE state = 'discarded' AND finalized_at > now() - interval '1 day')
		FROM river_job`).Scan(&pending, &discarded)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{
			Status:    checkFail,
			Message:   "Failed to query job queue",
			LatencyMs: latency,
			Details:   map[string]any{"error": err.Error()},
		}
	}

	res := CheckResult{
		Status:    checkPass,
		Message:   "River job queue operational",
		LatencyMs: latency,
		Details:   map[string]any{"pending_jobs": pending, "discarded_24h": discarded},
	}
	if discarded > 0 {
		res.Status = checkWarn
		res.Message = fmt.Sprintf("%d jobs exhausted their retries in the last 24h", discarded)
	}
	return res
}

func (h *HealthChecker) checkMailchimp(ctx context.Context) CheckResult {
	if h.audience == nil || !h.audience.Configured() {
		return CheckResult{
			Status:  checkWarn,
			Message: "Mailchimp not configured, newsletter subscriptions are stored locally",
			Details: map[string]any{"remediation": "Set MAILCHIMP_API_KEY and MAILCHIMP_AUDIENCE_ID"},
		}
	}

	start := time.Now()
	cached, err := h.ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{
			Status:    checkWarn,
			Message:   "Mailchimp API unreachable",
			LatencyMs: latency,
			Details: map[string]any{
				"error":       err.Error(),
				"cached":      cached,
				"remediation": "Check MAILCHIMP_API_KEY and the Mailchimp status page",
			},
		}
	}
	return CheckResult{
		Status:    checkPass,
		Message:   "Mailchimp API reachable",
		LatencyMs: latency,
		Details:   map[string]any{"cached": cached},
	}
}

func (h *HealthChecker) ping(ctx context.Context) (cached bool, err error) {
	h.pingMu.Lock()
	defer h.pingMu.Unlock()
	if !h.pingedAt.IsZero() && time.Since(h.pingedAt) < h.pingTTL {
		return true, h.pingErr
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	h.pingErr = h.audience.Ping(ctx)
	h.pingedAt = time.Now()
	return false, h.pingErr
}

func (h *HealthChecker) checkWebhook() CheckResult {
	if h.relay == nil || !h.relay.Configured() {
		return CheckResult{
			Status:  checkWarn,
			Message: "No webhook endpoints configured",
			Details: map[string]any{"remediation": "Set N8N_WEBHOOK_URL"},
		}
	}

	endpoints := h.relay.Health()
	for _, e := range endpoints {
		if e.Healthy {
			return CheckResult{
				Status:  checkPass,
				Message: "Webhook endpoints available",
				Details: map[string]any{"endpoints": endpoints},
			}
		}
	}
	return CheckResult{
		Status:  checkWarn,
		Message: "All webhook endpoints failed recently, deliveries are queued for retry",
		Details: map[string]any{"endpoints": endpoints},
	}
}

// checkToggle never fails: Telegram and email are optional.
func checkToggle(t Toggle, name string) CheckResult {
	state := "disabled"
	if t != nil && t.Enabled() {
		state = "enabled"
	}
	return CheckResult{Status: checkPass, Message: name + " " + state}
}

// Healthz is the liveness probe.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
}

// Readyz reports ready once the database answers a ping. Without a database
// the service is always ready.
func Readyz(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness ping failed")
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not_ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
	})
}

type healthResponse struct {
	Status string `json:"status"`
}
