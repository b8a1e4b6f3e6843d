package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/applyloop/agent/internal/domain/application"
	"github.com/applyloop/agent/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresTracker struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPostgresTracker(pool *pgxpool.Pool, prom *observability.Prom) *PostgresTracker {
	return &PostgresTracker{pool: pool, prom: prom}
}

func (t *PostgresTracker) observe(op string, fn func() error) error {
	if t.prom != nil {
		return t.prom.ObserveDB(op, fn)
	}
	return fn()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertAttempt mirrors the teacher's insert-if-missing / claim-failed-for-
// retry / determine-in-progress-or-terminal shape for single-flighting
// notification deliveries, applied here to (user_id, job_id) attempts.
func (t *PostgresTracker) UpsertAttempt(ctx context.Context, rec application.Record) error {
	return t.observe("tracker.upsert_attempt", func() error {
		_, err := t.pool.Exec(ctx, `
			INSERT INTO applications (user_id, job_id, job_title, company, status, match_score, match_reasoning, retry_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW())
		`, rec.UserID, rec.JobID, rec.JobTitle, rec.Company, rec.Status, rec.MatchScore, rec.MatchReasoning)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}

		tag, uErr := t.pool.Exec(ctx, `
			UPDATE applications
			SET status = $3,
			    job_title = $4,
			    company = $5,
			    match_score = $6,
			    match_reasoning = $7,
			    error = NULL,
			    retry_count = retry_count + 1,
			    updated_at = NOW()
			WHERE user_id = $1 AND job_id = $2 AND status = 'failed'
		`, rec.UserID, rec.JobID, rec.Status, rec.JobTitle, rec.Company, rec.MatchScore, rec.MatchReasoning)
		if uErr != nil {
			return uErr
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var status string
		qErr := t.pool.QueryRow(ctx, `
			SELECT status FROM applications WHERE user_id = $1 AND job_id = $2
		`, rec.UserID, rec.JobID).Scan(&status)
		if qErr != nil {
			if errors.Is(qErr, pgx.ErrNoRows) {
				return nil
			}
			return qErr
		}

		if status == string(application.StatusSubmitted) {
			return application.ErrAlreadySubmitted
		}
		return application.ErrInProgress
	})
}

func (t *PostgresTracker) MarkResult(ctx context.Context, userID, jobID string, status application.Status, confirmationID, errMsg string) error {
	return t.observe("tracker.mark_result", func() error {
		var submittedAt any
		if status == application.StatusSubmitted {
			submittedAt = time.Now()
		}
		_, err := t.pool.Exec(ctx, `
			UPDATE applications
			SET status = $3, confirmation_id = $4, error = $5, submitted_at = COALESCE($6, submitted_at), updated_at = NOW()
			WHERE user_id = $1 AND job_id = $2
		`, userID, jobID, status, confirmationID, errMsg, submittedAt)
		return err
	})
}

func (t *PostgresTracker) List(ctx context.Context, userID string, statusFilter *application.Status) ([]application.Record, error) {
	var rows pgx.Rows
	var err error
	err = t.observe("tracker.list", func() error {
		if statusFilter != nil {
			rows, err = t.pool.Query(ctx, `
				SELECT user_id, job_id, job_title, company, status, match_score, match_reasoning,
				       confirmation_id, error, retry_count, submitted_at, updated_at
				FROM applications
				WHERE user_id = $1 AND status = $2
				ORDER BY submitted_at DESC NULLS LAST
			`, userID, *statusFilter)
		} else {
			rows, err = t.pool.Query(ctx, `
				SELECT user_id, job_id, job_title, company, status, match_score, match_reasoning,
				       confirmation_id, error, retry_count, submitted_at, updated_at
				FROM applications
				WHERE user_id = $1
				ORDER BY submitted_at DESC NULLS LAST
			`, userID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.Record
	for rows.Next() {
		var rec application.Record
		if err := rows.Scan(&rec.UserID, &rec.JobID, &rec.JobTitle, &rec.Company, &rec.Status,
			&rec.MatchScore, &rec.MatchReasoning, &rec.ConfirmationID, &rec.Error, &rec.RetryCount,
			&rec.SubmittedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *PostgresTracker) CountSubmittedToday(ctx context.Context, userID string) (int, error) {
	var count int
	err := t.observe("tracker.count_submitted_today", func() error {
		return t.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM applications
			WHERE user_id = $1 AND status = 'submitted' AND submitted_at >= NOW() - interval '24 hours'
		`, userID).Scan(&count)
	})
	return count, err
}

// ListStale returns records the reconciliation sweep should look at: attempts
// still in a non-terminal status (queued/retried) that have sat untouched
// longer than olderThan, and submitted records that carry a confirmation ID
// worth re-checking against the portal.
func (t *PostgresTracker) ListStale(ctx context.Context, olderThan time.Duration) ([]application.Record, error) {
	var rows pgx.Rows
	var err error
	err = t.observe("tracker.list_stale", func() error {
		rows, err = t.pool.Query(ctx, `
			SELECT user_id, job_id, job_title, company, status, match_score, match_reasoning,
			       confirmation_id, error, retry_count, submitted_at, updated_at
			FROM applications
			WHERE (status IN ('queued', 'retried') AND updated_at < NOW() - $1::interval)
			   OR (status = 'submitted' AND confirmation_id IS NOT NULL AND confirmation_id != '')
			ORDER BY updated_at ASC
		`, olderThan.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.Record
	for rows.Next() {
		var rec application.Record
		if err := rows.Scan(&rec.UserID, &rec.JobID, &rec.JobTitle, &rec.Company, &rec.Status,
			&rec.MatchScore, &rec.MatchReasoning, &rec.ConfirmationID, &rec.Error, &rec.RetryCount,
			&rec.SubmittedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *PostgresTracker) Clear(ctx context.Context, userID string) error {
	return t.observe("tracker.clear", func() error {
		_, err := t.pool.Exec(ctx, `DELETE FROM applications WHERE user_id = $1`, userID)
		return err
	})
}
