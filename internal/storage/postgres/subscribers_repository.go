package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/ignite-health/funnel/internal/metrics"
)

// SubscriberRepository mirrors the Mailchimp audience.
type SubscriberRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewSubscriberRepository(pool *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{pool: pool}
}

const subscriberColumns = `id::text, email, first_name, last_name, user_type, specialty, practice_model,
	emr_system, challenge, linkedin_url, cofounder_interest, involvement, consent, consent_at,
	consent_ip, source, status, mailchimp_id, created_at, updated_at, unsubscribed_at`

// Upsert writes s keyed by its lowercased email. Empty fields in s keep the
// stored value, and co-founder interest is sticky once set.
func (r *SubscriberRepository) Upsert(ctx context.Context, s *subscribers.Subscriber) (id string, isNew bool, err error) {
	defer func(start time.Time) { metrics.RecordQuery("upsert_subscriber", start, err) }(time.Now())

	email := strings.ToLower(strings.TrimSpace(s.Email))
	if email == "" {
		return "", false, fmt.Errorf("upsert subscriber: email is required")
	}
	status := s.Status
	if status == "" {
		status = subscribers.StatusSubscribed
	}

	const query = `
		INSERT INTO subscribers (
			id, email, first_name, last_name, user_type, specialty, practice_model, emr_system,
			challenge, linkedin_url, cofounder_interest, involvement, consent, consent_at,
			consent_ip, source, status, mailchimp_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (email) DO UPDATE SET
			first_name         = COALESCE(NULLIF(EXCLUDED.first_name, ''), subscribers.first_name),
			last_name          = COALESCE(NULLIF(EXCLUDED.last_name, ''), subscribers.last_name),
			user_type          = COALESCE(NULLIF(EXCLUDED.user_type, ''), subscribers.user_type),
			specialty          = COALESCE(NULLIF(EXCLUDED.specialty, ''), subscribers.specialty),
			practice_model     = COALESCE(NULLIF(EXCLUDED.practice_model, ''), subscribers.practice_model),
			emr_system         = COALESCE(NULLIF(EXCLUDED.emr_system, ''), subscribers.emr_system),
			challenge          = COALESCE(NULLIF(EXCLUDED.challenge, ''), subscribers.challenge),
			linkedin_url       = COALESCE(NULLIF(EXCLUDED.linkedin_url, ''), subscribers.linkedin_url),
			cofounder_interest = subscribers.cofounder_interest OR EXCLUDED.cofounder_interest,
			involvement        = COALESCE(NULLIF(EXCLUDED.involvement, ''), subscribers.involvement),
			consent            = subscribers.consent OR EXCLUDED.consent,
			consent_at         = COALESCE(EXCLUDED.consent_at, subscribers.consent_at),
			consent_ip         = COALESCE(NULLIF(EXCLUDED.consent_ip, ''), subscribers.consent_ip),
			source             = COALESCE(NULLIF(EXCLUDED.source, ''), subscribers.source),
			status             = EXCLUDED.status,
			mailchimp_id       = COALESCE(NULLIF(EXCLUDED.mailchimp_id, ''), subscribers.mailchimp_id),
			updated_at         = now(),
			unsubscribed_at    = CASE WHEN EXCLUDED.status = 'unsubscribed' THEN subscribers.unsubscribed_at ELSE NULL END
		RETURNING id::text, (xmax = 0) AS inserted`

	var rowID string
	err = pick(r.pool, r.tx).QueryRow(ctx, query,
		uuid.NewString(), email, s.FirstName, s.LastName, string(s.UserType), s.Specialty, s.PracticeModel,
		s.EMRSystem, s.Challenge, s.LinkedInURL, s.CofounderInterest, s.Involvement, s.Consent,
		s.ConsentAt, s.ConsentIP, s.Source, string(status), s.MailchimpID,
	).Scan(&rowID, &isNew)
	if err != nil {
		return "", false, fmt.Errorf("upsert subscriber: %w", err)
	}
	return rowID, isNew, nil
}

// SetSegments replaces the subscriber's mirror segment memberships. Unknown
// segment names are ignored.
func (r *SubscriberRepository) SetSegments(ctx context.Context, subscriberID string, names []string) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("set_segments", start, err) }(time.Now())

	if _, err := uuid.Parse(subscriberID); err != nil {
		return fmt.Errorf("set segments: invalid subscriber id: %w", err)
	}
	id := subscriberID
	if names == nil {
		names = []string{}
	}
	return inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM subscriber_segment_memberships WHERE subscriber_id = $1`, id); err != nil {
			return fmt.Errorf("clear segments: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO subscriber_segment_memberships (subscriber_id, segment_id)
			SELECT $1, id FROM subscriber_segments WHERE name = ANY($2)
			ON CONFLICT DO NOTHING`, id, names); err != nil {
			return fmt.Errorf("insert segments: %w", err)
		}
		return nil
	})
}

func (r *SubscriberRepository) Segments(ctx context.Context, subscriberID string) ([]string, error) {
	if _, err := uuid.Parse(subscriberID); err != nil {
		return nil, fmt.Errorf("segments: invalid subscriber id: %w", err)
	}
	id := subscriberID
	rows, err := pick(r.pool, r.tx).Query(ctx, `
		SELECT g.name
		  FROM subscriber_segment_memberships m
		  JOIN subscriber_segments g ON g.id = m.segment_id
		 WHERE m.subscriber_id = $1
		 ORDER BY g.name`, id)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan segments: %w", err)
	}
	return names, nil
}

func (r *SubscriberRepository) GetByEmail(ctx context.Context, email string) (*subscribers.Subscriber, error) {
	row := pick(r.pool, r.tx).QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	s, err := scanSubscriber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscribers.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return s, nil
}

// MarkUnsubscribed flips the mirror row to unsubscribed and records the
// opt-out. The log entry is written even when the email is not mirrored,
// in which case ErrNotFound is returned.
func (r *SubscriberRepository) MarkUnsubscribed(ctx context.Context, email, reason string) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("mark_unsubscribed", start, err) }(time.Now())

	email = strings.ToLower(strings.TrimSpace(email))
	var updated int64
	err = inTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscribers
			   SET status = 'unsubscribed',
			       unsubscribed_at = COALESCE(unsubscribed_at, now()),
			       updated_at = now()
			 WHERE email = $1`, email)
		if err != nil {
			return fmt.Errorf("update subscriber: %w", err)
		}
		updated = tag.RowsAffected()
		if _, err := tx.Exec(ctx,
			`INSERT INTO unsubscribe_log (email, reason) VALUES ($1, $2)`, email, reason); err != nil {
			return fmt.Errorf("insert unsubscribe log: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if updated == 0 {
		return subscribers.ErrNotFound
	}
	return nil
}

func (r *SubscriberRepository) UpdatePreferences(ctx context.Context, email string, p subscribers.Preferences) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("update_preferences", start, err) }(time.Now())

	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}
	frequency := p.EmailFrequency
	if frequency == "" {
		frequency = subscribers.DefaultPreferences().EmailFrequency
	}

	tag, err := pick(r.pool, r.tx).Exec(ctx, `
		INSERT INTO subscriber_preferences (subscriber_id, email_frequency, html_preference, categories)
		SELECT id, $2, $3, $4 FROM subscribers WHERE email = $1
		ON CONFLICT (subscriber_id) DO UPDATE SET
			email_frequency = EXCLUDED.email_frequency,
			html_preference = EXCLUDED.html_preference,
			categories      = EXCLUDED.categories,
			updated_at      = now()`,
		strings.ToLower(strings.TrimSpace(email)), frequency, p.HTMLPreference, categories)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscribers.ErrNotFound
	}
	return nil
}

// Preferences returns the stored preferences, or the defaults for a
// subscriber that never set any.
func (r *SubscriberRepository) Preferences(ctx context.Context, email string) (*subscribers.Preferences, error) {
	defaults := subscribers.DefaultPreferences()
	var p subscribers.Preferences
	err := pick(r.pool, r.tx).QueryRow(ctx, `
		SELECT COALESCE(p.email_frequency, $2), COALESCE(p.html_preference, $3), COALESCE(p.categories, '{}')
		  FROM subscribers s
		  LEFT JOIN subscriber_preferences p ON p.subscriber_id = s.id
		 WHERE s.email = $1`,
		strings.ToLower(strings.TrimSpace(email)), defaults.EmailFrequency, defaults.HTMLPreference,
	).Scan(&p.EmailFrequency, &p.HTMLPreference, &p.Categories)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscribers.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &p, nil
}

// ListForDistribution pages subscribed members of any of the named
// segments in signup order.
func (r *SubscriberRepository) ListForDistribution(ctx context.Context, segments []string, limit, offset int) (_ []subscribers.Subscriber, err error) {
	defer func(start time.Time) { metrics.RecordQuery("list_for_distribution", start, err) }(time.Now())

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := pick(r.pool, r.tx).Query(ctx, `
		SELECT `+subscriberColumns+`
		  FROM subscribers s
		 WHERE s.status = 'subscribed'
		   AND EXISTS (
			SELECT 1
			  FROM subscriber_segment_memberships m
			  JOIN subscriber_segments g ON g.id = m.segment_id
			 WHERE m.subscriber_id = s.id AND g.name = ANY($1))
		 ORDER BY s.created_at, s.id
		 LIMIT $2 OFFSET $3`, segments, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list for distribution: %w", err)
	}
	return collectSubscribers(rows)
}

func (r *SubscriberRepository) CountsByType(ctx context.Context) (subscribers.Counts, error) {
	counts := subscribers.Counts{ByType: map[string]int{}}
	rows, err := pick(r.pool, r.tx).Query(ctx, `
		SELECT COALESCE(NULLIF(user_type, ''), 'newsletter'), status, count(*)
		  FROM subscribers
		 GROUP BY 1, 2`)
	if err != nil {
		return counts, fmt.Errorf("count subscribers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userType, status string
		var n int
		if err := rows.Scan(&userType, &status, &n); err != nil {
			return counts, fmt.Errorf("scan counts: %w", err)
		}
		counts.Total += n
		switch subscribers.Status(status) {
		case subscribers.StatusSubscribed:
			counts.Subscribed += n
			counts.ByType[userType] += n
		case subscribers.StatusUnsubscribed:
			counts.Unsubscribed += n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

func (r *SubscriberRepository) ListAll(ctx context.Context) ([]subscribers.Subscriber, error) {
	rows, err := pick(r.pool, r.tx).Query(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return collectSubscribers(rows)
}

func (r *SubscriberRepository) DeleteUnsubscribedBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer func(start time.Time) { metrics.RecordQuery("delete_unsubscribed", start, err) }(time.Now())

	tag, err := pick(r.pool, r.tx).Exec(ctx, `
		DELETE FROM subscribers
		 WHERE status = 'unsubscribed' AND unsubscribed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete unsubscribed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SubscriberRepository) DeleteUnsubscribeLogBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM unsubscribe_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete unsubscribe log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectSubscribers(rows pgx.Rows) ([]subscribers.Subscriber, error) {
	defer rows.Close()
	var out []subscribers.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return out, nil
}

func scanSubscriber(row pgx.Row) (*subscribers.Subscriber, error) {
	var (
		s        subscribers.Subscriber
		userType string
		status   string
	)
	err := row.Scan(
		&s.ID, &s.Email, &s.FirstName, &s.LastName, &userType, &s.Specialty, &s.PracticeModel,
		&s.EMRSystem, &s.Challenge, &s.LinkedInURL, &s.CofounderInterest, &s.Involvement,
		&s.Consent, &s.ConsentAt, &s.ConsentIP, &s.Source, &status, &s.MailchimpID,
		&s.CreatedAt, &s.UpdatedAt, &s.UnsubscribedAt,
	)
	if err != nil {
		return nil, err
	}
	s.UserType = subscribers.UserType(userType)
	s.Status = subscribers.Status(status)
	return &s, nil
}
