package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/streamvault/backend/internal/queue"
)

var ErrJobNotFound = errors.New("job not found")

// JobRecord is the durable trace of a job. The live scheduler owns the
// authoritative in-flight state; this table is the terminal history.
type JobRecord struct {
	ID          string
	Kind        string
	URL         string
	Priority    int
	Status      string
	Result      sql.NullString
	Error       sql.NullString
	ErrorCode   sql.NullString
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// RecordTerminal persists a job that reached a terminal state. Upsert
// keyed by id: replays after a crash-restart are harmless.
func (r *JobRepository) RecordTerminal(ctx context.Context, job *queue.Job, state queue.JobState) error {
	query := `
		INSERT INTO job_history (id, kind, url, priority, status, result, error, error_code, submitted_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			error_code = EXCLUDED.error_code,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, string(job.Kind), job.URL, job.Priority, string(state.Status),
		nullable(state.Result), nullable(state.Error), nullable(state.ErrorCode),
		job.SubmittedAt, state.StartedAt, state.CompletedAt,
	)
	return err
}

// GetByID returns one historical record.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*JobRecord, error) {
	query := `
		SELECT id, kind, url, priority, status, result, error, error_code, submitted_at, started_at, completed_at
		FROM job_history
		WHERE id = $1
	`
	rec := &JobRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Kind, &rec.URL, &rec.Priority, &rec.Status,
		&rec.Result, &rec.Error, &rec.ErrorCode,
		&rec.SubmittedAt, &rec.StartedAt, &rec.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns recent history, newest first.
func (r *JobRepository) List(ctx context.Context, status string, limit, offset int) ([]JobRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	countQuery := `SELECT COUNT(*) FROM job_history WHERE ($1 = '' OR status = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, kind, url, priority, status, result, error, error_code, submitted_at, started_at, completed_at
		FROM job_history
		WHERE ($1 = '' OR status = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var rec JobRecord
		if err := rows.Scan(
			&rec.ID, &rec.Kind, &rec.URL, &rec.Priority, &rec.Status,
			&rec.Result, &rec.Error, &rec.ErrorCode,
			&rec.SubmittedAt, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// PurgeOlderThan removes history past the retention window and returns the
// number of rows deleted.
func (r *JobRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM job_history WHERE submitted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
