package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidJob is returned when a submission is missing required fields.
var ErrInvalidJob = errors.New("queue: invalid job")

// CreateJob persists a new job in pending_transcription. Resubmitting an
// existing ID returns the stored job unchanged.
func (s *Store) CreateJob(ctx context.Context, req NewJob) (*Job, error) {
	if strings.TrimSpace(req.TestID) == "" {
		return nil, fmt.Errorf("%w: test id is required", ErrInvalidJob)
	}
	if len(req.Segments) == 0 {
		return nil, fmt.Errorf("%w: at least one segment is required", ErrInvalidJob)
	}
	for key, ref := range req.Segments {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(ref) == "" {
			return nil, fmt.Errorf("%w: segment %q has an empty key or audio reference", ErrInvalidJob, key)
		}
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	segments, err := json.Marshal(req.Segments)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	var durations any
	if len(req.Durations) > 0 {
		raw, err := json.Marshal(req.Durations)
		if err != nil {
			return nil, fmt.Errorf("encode durations: %w", err)
		}
		durations = string(raw)
	}
	now := formatTime(s.now())

	if _, err := s.exec(ctx,
		`INSERT INTO evaluation_jobs (
            id, owner, test_id, stage, status, provider, segments_json, durations_json,
            topic, difficulty, fluency_flag, evaluation_mode, retry_count, max_retries,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
        ON CONFLICT(id) DO NOTHING`,
		id,
		nullableString(req.Owner),
		req.TestID,
		StagePendingTranscription,
		StatusPending,
		nullableString(req.Provider),
		string(segments),
		durations,
		nullableString(req.Topic),
		nullableString(req.Difficulty),
		boolToInt(req.FluencyFlag),
		nullableString(req.EvaluationMode),
		maxRetries,
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by ID. It returns nil, nil when no job exists.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(orBackground(ctx),
		`SELECT `+jobColumns+` FROM evaluation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status, newest first. No statuses lists all jobs.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM evaluation_jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC`
	return s.queryJobs(ctx, query, args...)
}

// DispatchableJobs returns pending jobs at a dispatchable stage, oldest first.
func (s *Store) DispatchableJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM evaluation_jobs
        WHERE status = ? AND stage IN (?, ?)
        ORDER BY created_at ASC LIMIT ?`,
		StatusPending, StagePendingTranscription, StagePendingEval, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(orBackground(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// IsCancelled reports whether the job has been cancelled. A missing job
// counts as cancelled so in-flight work stops.
func (s *Store) IsCancelled(ctx context.Context, id string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(orBackground(ctx),
		`SELECT status FROM evaluation_jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cancellation: %w", err)
	}
	return Status(status) == StatusCancelled, nil
}

// CancelJob moves a non-terminal job to cancelled and releases any lock.
// It reports whether the job changed.
func (s *Store) CancelJob(ctx context.Context, id, reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		reason = UserCancelReason
	}
	res, err := s.exec(ctx,
		`UPDATE evaluation_jobs
        SET status = ?, last_error = ?, lock_token = NULL, lock_expires_at = NULL, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, reason, formatTime(s.now()), id, StatusPending, StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
