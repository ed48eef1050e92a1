package subscribers

import (
	"context"
	"time"
)

// Repository is the local subscriber mirror.
type Repository interface {
	// Upsert inserts or updates the subscriber keyed by lowercased email.
	// Updating an unsubscribed row reactivates it.
	Upsert(ctx context.Context, s *Subscriber) (id string, isNew bool, err error)
	SetSegments(ctx context.Context, subscriberID string, segments []string) error
	Segments(ctx context.Context, subscriberID string) ([]string, error)
	GetByEmail(ctx context.Context, email string) (*Subscriber, error)
	MarkUnsubscribed(ctx context.Context, email, reason string) error
	UpdatePreferences(ctx context.Context, email string, p Preferences) error
	Preferences(ctx context.Context, email string) (*Preferences, error)
	ListForDistribution(ctx context.Context, segments []string, limit, offset int) ([]Subscriber, error)
	CountsByType(ctx context.Context) (Counts, error)
	ListAll(ctx context.Context) ([]Subscriber, error)
	DeleteUnsubscribedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteUnsubscribeLogBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission) error
	Stats(ctx context.Context, since time.Time) (SubmissionStats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
