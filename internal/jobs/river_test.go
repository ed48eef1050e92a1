package jobs

import (
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		kind  string
		queue string
		max   int
	}{
		{JobKindWebhookDelivery, QueueWebhooks, 10},
		{JobKindMailchimpSync, QueueMailchimp, 8},
		{JobKindTelegramNotify, river.QueueDefault, 5},
		{JobKindRetentionCleanup, QueueMaintenance, 3},
		{"something_new", river.QueueDefault, 5},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			b := BackoffFor(tt.kind)
			assert.Equal(t, tt.queue, b.Queue)
			assert.Equal(t, tt.max, b.MaxAttempts)

			opts := InsertOptsForKind(tt.kind)
			assert.Equal(t, tt.queue, opts.Queue)
			assert.Equal(t, tt.max, opts.MaxAttempts)
		})
	}
}

func TestRetryPolicy_NextRetry(t *testing.T) {
	attempted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		kind    string
		attempt int
		want    time.Duration
	}{
		{"webhook first retry", JobKindWebhookDelivery, 1, 30 * time.Second},
		{"webhook third retry", JobKindWebhookDelivery, 3, 2 * time.Minute},
		{"webhook capped", JobKindWebhookDelivery, 10, time.Hour},
		{"mailchimp second retry", JobKindMailchimpSync, 2, 2 * time.Minute},
		{"telegram capped early", JobKindTelegramNotify, 8, 10 * time.Minute},
		{"unknown kind uses default", "other", 1, time.Minute},
		{"attempt zero treated as first", JobKindMailchimpSync, 0, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &rivertype.JobRow{Kind: tt.kind, Attempt: tt.attempt, AttemptedAt: &attempted}
			assert.Equal(t, attempted.Add(tt.want), RetryPolicy{}.NextRetry(job))
		})
	}
}

func TestRetryPolicy_NeverAttempted(t *testing.T) {
	before := time.Now()
	next := RetryPolicy{}.NextRetry(&rivertype.JobRow{Kind: JobKindWebhookDelivery, Attempt: 1})
	assert.WithinRange(t, next, before.Add(30*time.Second), time.Now().Add(30*time.Second))
}

func TestNewClientConfig(t *testing.T) {
	workers := river.NewWorkers()
	periodic := NewPeriodicJobs()
	cfg := NewClientConfig(workers, zerolog.Nop(), nil, nil, periodic)

	assert.Same(t, workers, cfg.Workers)
	assert.Len(t, cfg.PeriodicJobs, 1)
	assert.Equal(t, 5, cfg.MaxAttempts)
	for _, q := range []string{river.QueueDefault, QueueWebhooks, QueueMailchimp, QueueMaintenance} {
		assert.Contains(t, cfg.Queues, q)
	}
	assert.NotNil(t, cfg.ErrorHandler)
	assert.NotNil(t, cfg.Logger)
	assert.IsType(t, RetryPolicy{}, cfg.RetryPolicy)
}

func TestArgsKinds(t *testing.T) {
	assert.Equal(t, JobKindWebhookDelivery, DeliverWebhookArgs{}.Kind())
	assert.Equal(t, JobKindMailchimpSync, SyncMailchimpArgs{}.Kind())
	assert.Equal(t, JobKindTelegramNotify, NotifyTelegramArgs{}.Kind())
	assert.Equal(t, JobKindRetentionCleanup, RetentionCleanupArgs{}.Kind())
}
