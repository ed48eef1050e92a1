package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/ignite-health/funnel/internal/metrics"
)

const recentSubmissionsLimit = 5

// SubmissionRepository stores waitlist applications.
type SubmissionRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Create inserts s, assigning a ULID and creation time when unset.
func (r *SubmissionRepository) Create(ctx context.Context, s *subscribers.Submission) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("create_submission", start, err) }(time.Now())

	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err = pick(r.pool, r.tx).Exec(ctx, `
		INSERT INTO submissions (id, full_name, email, specialty, practice, practice_model,
			challenge, council_interest, source, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.FullName, strings.ToLower(s.Email), s.Specialty, s.Practice, s.PracticeModel,
		s.Challenge, s.CouncilInterest, s.Source, s.IP, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Stats aggregates all submissions. RecentWeek counts rows created at or
// after since.
func (r *SubmissionRepository) Stats(ctx context.Context, since time.Time) (_ subscribers.SubmissionStats, err error) {
	defer func(start time.Time) { metrics.RecordQuery("submission_stats", start, err) }(time.Now())

	stats := subscribers.SubmissionStats{
		PracticeModels: map[string]int{},
		Specialties:    map[string]int{},
		Recent:         []subscribers.Submission{},
	}
	q := pick(r.pool, r.tx)

	var avg float64
	err = q.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE council_interest),
		       count(*) FILTER (WHERE created_at >= $1),
		       COALESCE(avg(char_length(challenge)), 0)
		  FROM submissions`, since,
	).Scan(&stats.Total, &stats.CouncilInterest, &stats.RecentWeek, &avg)
	if err != nil {
		return stats, fmt.Errorf("submission totals: %w", err)
	}
	stats.AvgChallengeLength = int(avg + 0.5)

	if err := countInto(ctx, q, "practice_model", stats.PracticeModels); err != nil {
		return stats, err
	}
	if err := countInto(ctx, q, "specialty", stats.Specialties); err != nil {
		return stats, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, full_name, specialty, practice_model, council_interest, created_at
		  FROM submissions
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`, recentSubmissionsLimit)
	if err != nil {
		return stats, fmt.Errorf("recent submissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s subscribers.Submission
		if err := rows.Scan(&s.ID, &s.FullName, &s.Specialty, &s.PracticeModel, &s.CouncilInterest, &s.CreatedAt); err != nil {
			return stats, fmt.Errorf("scan submission: %w", err)
		}
		stats.Recent = append(stats.Recent, s)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate submissions: %w", err)
	}
	return stats, nil
}

// countInto fills into with per-value counts of a whitelisted column.
func countInto(ctx context.Context, q queryer, column string, into map[string]int) error {
	switch column {
	case "practice_model", "specialty":
	default:
		return fmt.Errorf("count submissions: unsupported column %q", column)
	}
	rows, err := q.Query(ctx, `SELECT `+column+`, count(*) FROM submissions WHERE `+column+` <> '' GROUP BY 1`)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[value] = n
	}
	return rows.Err()
}

func (r *SubmissionRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer func(start time.Time) { metrics.RecordQuery("delete_submissions", start, err) }(time.Now())

	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM submissions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}
