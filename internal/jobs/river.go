package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
)

const (
	JobKindWebhookDelivery  = "webhook_delivery"
	JobKindMailchimpSync    = "mailchimp_sync"
	JobKindRetentionCleanup = "retention_cleanup"
	JobKindTelegramNotify   = "telegram_notify"
)

const (
	QueueWebhooks    = "webhooks"
	QueueMailchimp   = "mailchimp"
	QueueMaintenance = "maintenance"
)

// Backoff describes how one job kind is queued and retried. The delay
// before retry n is Base * 2^(n-1), capped at Max.
type Backoff struct {
	Queue       string
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func (b Backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	return d
}

// defaultBackoff applies to kinds missing from backoffs.
var defaultBackoff = Backoff{Queue: river.QueueDefault, MaxAttempts: 5, Base: time.Minute, Max: time.Hour}

// n8n and Mailchimp outages tend to last minutes, so their jobs keep
// trying for a few hours. Telegram alerts lose value quickly.
var backoffs = map[string]Backoff{
	JobKindWebhookDelivery:  {Queue: QueueWebhooks, MaxAttempts: 10, Base: 30 * time.Second, Max: time.Hour},
	JobKindMailchimpSync:    {Queue: QueueMailchimp, MaxAttempts: 8, Base: time.Minute, Max: time.Hour},
	JobKindTelegramNotify:   {Queue: river.QueueDefault, MaxAttempts: 5, Base: 15 * time.Second, Max: 10 * time.Minute},
	JobKindRetentionCleanup: {Queue: QueueMaintenance, MaxAttempts: 3, Base: 5 * time.Minute, Max: time.Hour},
}

// BackoffFor returns the policy for a job kind.
func BackoffFor(kind string) Backoff {
	if b, ok := backoffs[kind]; ok {
		return b
	}
	return defaultBackoff
}

// RetryPolicy is River's ClientRetryPolicy driven by the per-kind Backoff
// table.
type RetryPolicy struct{}

func (RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	from := time.Now()
	if job.AttemptedAt != nil {
		from = *job.AttemptedAt
	}
	return from.Add(BackoffFor(job.Kind).delay(job.Attempt))
}

// InsertOptsForKind returns the queue and attempt budget for a job kind.
func InsertOptsForKind(kind string) river.InsertOpts {
	b := BackoffFor(kind)
	return river.InsertOpts{Queue: b.Queue, MaxAttempts: b.MaxAttempts}
}

// NewClientConfig builds a River client configuration with the retry
// policy, queues and alerting error handler.
func NewClientConfig(workers *river.Workers, logger zerolog.Logger, alert AlertFunc, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob) *river.Config {
	return &river.Config{
		Workers:      workers,
		RetryPolicy:  RetryPolicy{},
		MaxAttempts:  defaultBackoff.MaxAttempts,
		PeriodicJobs: periodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 5},
			QueueWebhooks:      {MaxWorkers: 5},
			QueueMailchimp:     {MaxWorkers: 2},
			QueueMaintenance:   {MaxWorkers: 1},
		},
		Hooks: hooks,
		// River only speaks slog. Job failures are logged through zerolog
		// by the error handler, so River's own output is kept to warnings.
		Logger:       slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		ErrorHandler: NewAlertingErrorHandler(logger, alert),
	}
}

func NewClient(pool *pgxpool.Pool, config *river.Config) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), config)
}

// NewPeriodicJobs schedules retention cleanup once a day.
func NewPeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				opts := InsertOptsForKind(JobKindRetentionCleanup)
				return RetentionCleanupArgs{}, &opts
			},
			nil,
		),
	}
}

// Migrate applies River's own schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("init river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("migrate river: %w", err)
	}
	return nil
}
