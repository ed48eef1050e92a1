package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/ignite-health/funnel/internal/audit"
	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/ignite-health/funnel/internal/email"
	"github.com/ignite-health/funnel/internal/jobs"
	"github.com/ignite-health/funnel/internal/mailchimp"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/storage/postgres"
	"github.com/ignite-health/funnel/internal/telegram"
	"github.com/ignite-health/funnel/internal/unsubscribe"
	"github.com/ignite-health/funnel/internal/webhook"
)

const connectTimeout = 10 * time.Second

// app holds the process-wide collaborators shared by serve, segments and
// retention. pool, store and river are nil in relay-only mode.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	store    *postgres.Store
	audience *mailchimp.Client
	relay    *webhook.Relay
	notifier *telegram.Notifier
	mailer   *email.Service
	river    *river.Client[pgx.Tx]
	audit    *audit.Logger
	service  *subscribers.Service
}

type appOptions struct {
	// workers registers River workers and periodic jobs. Commands that only
	// enqueue or read leave it false.
	workers bool
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		audience: mailchimp.New(cfg.Mailchimp),
		relay:    webhook.New(cfg.Webhook, logger),
		notifier: telegram.New(cfg.Telegram, logger),
		audit:    audit.NewLogger(logger),
	}

	mailer, err := email.NewService(cfg.Email, cfg.Email.TemplatesDir, cfg.Server.PublicSiteURL, logger)
	if err != nil {
		return nil, fmt.Errorf("email service: %w", err)
	}
	a.mailer = mailer

	if cfg.Database.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		pool, err := postgres.Open(connectCtx, cfg.Database)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.pool = pool
		a.store, err = postgres.NewStore(pool)
		if err != nil {
			a.Close()
			return nil, err
		}

		riverClient, err := jobs.NewClient(pool, a.riverConfig(opts.workers))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("river client: %w", err)
		}
		a.river = riverClient
	} else {
		logger.Warn().Msg("DATABASE_URL not set, running in relay-only mode")
	}

	a.service = subscribers.NewService(a.serviceDeps())
	return a, nil
}

func (a *app) riverConfig(withWorkers bool) *river.Config {
	var (
		workers  *river.Workers
		periodic []*river.PeriodicJob
	)
	if withWorkers {
		deps := jobs.Dependencies{
			Mirror:      a.store.Subscribers(),
			Subscribers: a.store.Subscribers(),
			Submissions: a.store.Submissions(),
			Retention:   a.cfg.Retention,
			Logger:      a.logger,
		}
		if a.relay.Configured() {
			deps.Relay = a.relay
		}
		if a.audience.Configured() {
			deps.Audience = a.audience
		}
		if a.notifier.Enabled() {
			deps.Telegram = a.notifier
		}
		workers = jobs.NewWorkers(deps)
		periodic = jobs.NewPeriodicJobs()
	}

	var alert jobs.AlertFunc
	if a.notifier.Enabled() {
		alert = jobs.TelegramAlert(a.logger, a.notifier.Send, telegram.AlertMessage)
	}
	cfg := jobs.NewClientConfig(workers, a.logger, alert, []rivertype.Hook{metrics.NewRiverMetricsHook()}, periodic)
	if !withWorkers {
		// An insert-only client must not declare queues.
		cfg.Queues = nil
	}
	return cfg
}

func (a *app) serviceDeps() subscribers.Deps {
	d := subscribers.Deps{
		Audience:          a.audience,
		Relay:             a.relay,
		Notifier:          a.notifier,
		Mailer:            a.mailer,
		Tokens:            unsubscribe.NewManager(a.cfg.Unsubscribe.Secret, a.cfg.Unsubscribe.TokenTTL),
		Audit:             a.audit,
		Logger:            a.logger,
		BaseURL:           a.cfg.Server.BaseURL,
		WelcomeWorkflowID: a.cfg.Mailchimp.WelcomeWorkflowID,
		WelcomeEmailID:    a.cfg.Mailchimp.WelcomeEmailID,
	}
	if a.store != nil {
		d.Repo = a.store.Subscribers()
		d.Submissions = a.store.Submissions()
	}
	if a.river != nil {
		d.Queue = jobs.NewQueue(a.river)
	}
	return d
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
