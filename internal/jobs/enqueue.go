package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Inserter is satisfied by *river.Client.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Queue enqueues the funnel's background work.
type Queue struct {
	client Inserter
}

func NewQueue(client Inserter) *Queue {
	return &Queue{client: client}
}

func (q *Queue) insert(ctx context.Context, args river.JobArgs) error {
	opts := InsertOptsForKind(args.Kind())
	if _, err := q.client.Insert(ctx, args, &opts); err != nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

func (q *Queue) EnqueueWebhook(ctx context.Context, payload map[string]any, source string) error {
	return q.insert(ctx, DeliverWebhookArgs{Payload: payload, Source: source})
}

func (q *Queue) EnqueueMailchimpSync(ctx context.Context, email string) error {
	return q.insert(ctx, SyncMailchimpArgs{Email: email})
}

func (q *Queue) EnqueueTelegram(ctx context.Context, text string) error {
	return q.insert(ctx, NotifyTelegramArgs{Text: text})
}

func (q *Queue) EnqueueRetention(ctx context.Context) error {
	return q.insert(ctx, RetentionCleanupArgs{})
}
