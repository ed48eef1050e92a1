package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/domain/segments"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/ignite-health/funnel/internal/mailchimp"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/webhook"
)

// DeliverWebhookArgs retries an n8n relay that failed synchronously.
type DeliverWebhookArgs struct {
	Payload map[string]any `json:"payload"`
	Source  string         `json:"source"`
}

func (DeliverWebhookArgs) Kind() string { return JobKindWebhookDelivery }

// SyncMailchimpArgs pushes the mirrored subscriber to Mailchimp.
type SyncMailchimpArgs struct {
	Email string `json:"email"`
}

func (SyncMailchimpArgs) Kind() string { return JobKindMailchimpSync }

type NotifyTelegramArgs struct {
	Text string `json:"text"`
}

func (NotifyTelegramArgs) Kind() string { return JobKindTelegramNotify }

type RetentionCleanupArgs struct{}

func (RetentionCleanupArgs) Kind() string { return JobKindRetentionCleanup }

// WebhookDeliverer is satisfied by *webhook.Relay.
type WebhookDeliverer interface {
	Deliver(ctx context.Context, payload webhook.Payload) (string, error)
}

type DeliverWebhookWorker struct {
	river.WorkerDefaults[DeliverWebhookArgs]
	Relay  WebhookDeliverer
	Logger zerolog.Logger
}

func (DeliverWebhookWorker) Kind() string { return JobKindWebhookDelivery }

func (w DeliverWebhookWorker) Work(ctx context.Context, job *river.Job[DeliverWebhookArgs]) error {
	if w.Relay == nil {
		return fmt.Errorf("webhook relay not configured")
	}
	if len(job.Args.Payload) == 0 {
		return river.JobCancel(fmt.Errorf("empty webhook payload"))
	}

	endpoint, err := w.Relay.Deliver(ctx, webhook.Payload(job.Args.Payload))
	if errors.Is(err, webhook.ErrNoEndpoints) {
		return river.JobCancel(err)
	}
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	w.Logger.Info().
		Str("endpoint", endpoint).
		Str("source", job.Args.Source).
		Int("attempt", job.Attempt).
		Msg("queued webhook delivered")
	return nil
}

// MirrorReader loads subscribers from the local mirror.
type MirrorReader interface {
	GetByEmail(ctx context.Context, email string) (*subscribers.Subscriber, error)
}

// AudienceWriter is the subset of the Mailchimp client the sync job uses.
type AudienceWriter interface {
	UpsertMember(ctx context.Context, m mailchimp.Member) (*mailchimp.MemberInfo, error)
	UpdateTags(ctx context.Context, email string, tags []mailchimp.Tag) error
}

type SyncMailchimpWorker struct {
	river.WorkerDefaults[SyncMailchimpArgs]
	Repo     MirrorReader
	Audience AudienceWriter
	Logger   zerolog.Logger
}

func (SyncMailchimpWorker) Kind() string { return JobKindMailchimpSync }

func (w SyncMailchimpWorker) Work(ctx context.Context, job *river.Job[SyncMailchimpArgs]) error {
	if w.Repo == nil || w.Audience == nil {
		return fmt.Errorf("mailchimp sync not configured")
	}

	sub, err := w.Repo.GetByEmail(ctx, job.Args.Email)
	if errors.Is(err, subscribers.ErrNotFound) {
		return river.JobCancel(fmt.Errorf("subscriber %s no longer mirrored", job.Args.Email))
	}
	if err != nil {
		return fmt.Errorf("load subscriber: %w", err)
	}
	if sub.Status == subscribers.StatusUnsubscribed {
		w.Logger.Info().Str("subscriber_id", sub.ID).Msg("skipping sync for unsubscribed subscriber")
		return nil
	}

	_, err = w.Audience.UpsertMember(ctx, mailchimp.Member{
		EmailAddress: sub.Email,
		StatusIfNew:  mailchimp.StatusSubscribed,
		MergeFields:  sub.MergeFields(),
		IPSignup:     sub.ConsentIP,
	})
	if err != nil {
		return syncError("upsert member", err)
	}

	tags := mailchimp.ActiveTags(segments.Tags(string(sub.UserType), sub.CofounderInterest)...)
	if err := w.Audience.UpdateTags(ctx, sub.Email, tags); err != nil {
		return syncError("update tags", err)
	}
	return nil
}

// syncError cancels the job on errors Mailchimp will keep rejecting.
func syncError(op string, err error) error {
	if mailchimp.IsTemporary(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var apiErr *mailchimp.APIError
	if errors.As(err, &apiErr) {
		return river.JobCancel(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

type MessageSender interface {
	Send(ctx context.Context, text string) error
}

type NotifyTelegramWorker struct {
	river.WorkerDefaults[NotifyTelegramArgs]
	Sender MessageSender
}

func (NotifyTelegramWorker) Kind() string { return JobKindTelegramNotify }

func (w NotifyTelegramWorker) Work(ctx context.Context, job *river.Job[NotifyTelegramArgs]) error {
	if w.Sender == nil {
		return fmt.Errorf("telegram notifier not configured")
	}
	if err := w.Sender.Send(ctx, job.Args.Text); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// RetentionStore is the subset of the mirror the cleanup job prunes.
type RetentionStore interface {
	DeleteUnsubscribedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteUnsubscribeLogBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SubmissionPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionCleanupWorker removes unsubscribed subscribers and old
// applications once they pass their retention windows.
type RetentionCleanupWorker struct {
	river.WorkerDefaults[RetentionCleanupArgs]
	Subscribers RetentionStore
	Submissions SubmissionPruner
	Config      config.RetentionConfig
	Logger      zerolog.Logger
	Now         func() time.Time
}

func (RetentionCleanupWorker) Kind() string { return JobKindRetentionCleanup }

func (w RetentionCleanupWorker) Work(ctx context.Context, job *river.Job[RetentionCleanupArgs]) error {
	_, err := w.Run(ctx)
	return err
}

// RetentionResult counts the rows removed per table.
type RetentionResult struct {
	Subscribers    int64
	Submissions    int64
	UnsubscribeLog int64
}

// Run performs one cleanup pass. Zero or negative windows disable the
// corresponding deletion.
func (w RetentionCleanupWorker) Run(ctx context.Context) (RetentionResult, error) {
	var res RetentionResult
	if w.Subscribers == nil || w.Submissions == nil {
		return res, fmt.Errorf("retention stores not configured")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	today := now().UTC()

	if days := w.Config.UnsubscribedDays; days > 0 {
		cutoff := today.AddDate(0, 0, -days)
		n, err := w.Subscribers.DeleteUnsubscribedBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("delete unsubscribed subscribers: %w", err)
		}
		res.Subscribers = n
		metrics.RetentionDeletedTotal.WithLabelValues("subscribers").Add(float64(n))

		n, err = w.Subscribers.DeleteUnsubscribeLogBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("delete unsubscribe log: %w", err)
		}
		res.UnsubscribeLog = n
		metrics.RetentionDeletedTotal.WithLabelValues("unsubscribe_log").Add(float64(n))
	}

	if days := w.Config.SubmissionsDays; days > 0 {
		n, err := w.Submissions.DeleteBefore(ctx, today.AddDate(0, 0, -days))
		if err != nil {
			return res, fmt.Errorf("delete submissions: %w", err)
		}
		res.Submissions = n
		metrics.RetentionDeletedTotal.WithLabelValues("submissions").Add(float64(n))
	}

	w.Logger.Info().
		Int64("subscribers", res.Subscribers).
		Int64("submissions", res.Submissions).
		Int64("unsubscribe_log", res.UnsubscribeLog).
		Msg("retention cleanup completed")
	return res, nil
}

// Dependencies wires workers to their collaborators. Nil members leave the
// corresponding worker unregistered.
type Dependencies struct {
	Relay       WebhookDeliverer
	Mirror      MirrorReader
	Audience    AudienceWriter
	Telegram    MessageSender
	Subscribers RetentionStore
	Submissions SubmissionPruner
	Retention   config.RetentionConfig
	Logger      zerolog.Logger
}

func NewWorkers(deps Dependencies) *river.Workers {
	logger := deps.Logger.With().Str("component", "jobs").Logger()
	workers := river.NewWorkers()
	if deps.Relay != nil {
		river.AddWorker[DeliverWebhookArgs](workers, DeliverWebhookWorker{Relay: deps.Relay, Logger: logger})
	}
	if deps.Mirror != nil && deps.Audience != nil {
		river.AddWorker[SyncMailchimpArgs](workers, SyncMailchimpWorker{Repo: deps.Mirror, Audience: deps.Audience, Logger: logger})
	}
	if deps.Telegram != nil {
		river.AddWorker[NotifyTelegramArgs](workers, NotifyTelegramWorker{Sender: deps.Telegram})
	}
	if deps.Subscribers != nil && deps.Submissions != nil {
		river.AddWorker[RetentionCleanupArgs](workers, RetentionCleanupWorker{
			Subscribers: deps.Subscribers,
			Submissions: deps.Submissions,
			Config:      deps.Retention,
			Logger:      logger,
		})
	}
	return workers
}
