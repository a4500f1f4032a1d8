package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AcquireLock claims a pending job for one worker by check-and-set on the
// lock token. It returns the claimed job and true, or false when the job is
// terminal, already claimed, or not at a dispatchable stage.
func (s *Store) AcquireLock(ctx context.Context, id, token string, ttl time.Duration) (*Job, bool, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if job == nil || job.IsTerminal() || job.Status != StatusPending {
		return job, false, nil
	}
	processing, ok := ProcessingStage(job.Stage)
	if !ok {
		return job, false, nil
	}
	if strings.TrimSpace(token) == "" {
		token = uuid.NewString()
	}
	now := s.now()
	expires := now.Add(ttl)
	res, err := s.exec(ctx,
		`UPDATE evaluation_jobs
        SET stage = ?, status = ?, lock_token = ?, lock_expires_at = ?, heartbeat_at = ?, updated_at = ?
        WHERE id = ? AND status = ? AND stage = ?
          AND (lock_token IS NULL OR lock_expires_at IS NULL OR lock_expires_at < ?)`,
		processing, StatusProcessing, token, formatTime(expires), formatTime(now), formatTime(now),
		id, StatusPending, job.Stage, formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("acquire job lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return job, false, nil
	}
	job.Stage = processing
	job.Status = StatusProcessing
	job.LockToken = token
	job.LockExpiresAt = &expires
	job.HeartbeatAt = &now
	return job, true, nil
}

// Heartbeat refreshes liveness and extends the lock for its current holder.
func (s *Store) Heartbeat(ctx context.Context, id, token string, ttl time.Duration) error {
	now := s.now()
	res, err := s.exec(ctx,
		`UPDATE evaluation_jobs SET heartbeat_at = ?, lock_expires_at = ?, updated_at = ?
        WHERE id = ? AND lock_token = ? AND status = ?`,
		formatTime(now), formatTime(now.Add(ttl)), formatTime(now), id, token, StatusProcessing)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return requireOneRow(res)
}

// CompleteTranscription stores merged transcripts and advances the job to pending_eval.
func (s *Store) CompleteTranscription(ctx context.Context, id, token, transcriptionJSON string) error {
	res, err := s.exec(ctx,
		`UPDATE evaluation_jobs
        SET stage = ?, status = ?, transcription_json = ?, lock_token = NULL, lock_expires_at = NULL,
            last_error = NULL, updated_at = ?
        WHERE id = ? AND lock_token = ? AND status = ?`,
		StagePendingEval, StatusPending, transcriptionJSON, formatTime(s.now()), id, token, StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete transcription: %w", err)
	}
	return requireOneRow(res)
}

// CompleteEvaluation writes the result and marks the job completed in one
// transaction. A job gets at most one result row; if the lock was lost the
// result write is rolled back.
func (s *Store) CompleteEvaluation(ctx context.Context, id, token string, result Result) (string, error) {
	resultID := strings.TrimSpace(result.ID)
	if resultID == "" {
		resultID = uuid.NewString()
	}
	now := formatTime(s.now())
	var stored string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evaluation_results (id, job_id, overall_band, result_json, model, credential_id, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(job_id) DO NOTHING`,
			resultID, id, result.OverallBand, result.Payload,
			nullableString(result.Model), nullableString(result.CredentialID), now,
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM evaluation_results WHERE job_id = ?`, id).Scan(&stored); err != nil {
			return fmt.Errorf("read result id: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE evaluation_jobs
            SET stage = ?, status = ?, result_id = ?, lock_token = NULL, lock_expires_at = NULL,
                last_error = NULL, updated_at = ?
            WHERE id = ? AND lock_token = ? AND status = ?`,
			StageCompleted, StatusCompleted, stored, now, id, token, StatusProcessing)
		if err != nil {
			return fmt.Errorf("mark job completed: %w", err)
		}
		return requireOneRow(res)
	})
	if err != nil {
		return "", err
	}
	return stored, nil
}

// FailJob marks a locked job permanently failed.
func (s *Store) FailJob(ctx context.Context, id, token, message string) error {
	res, err := s.exec(ctx,
		`UPDATE evaluation_jobs
        SET stage = ?, status = ?, last_error = ?, lock_token = NULL, lock_expires_at = NULL, updated_at = ?
        WHERE id = ? AND lock_token = ? AND status = ?`,
		StageFailed, StatusFailed, message, formatTime(s.now()), id, token, StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return requireOneRow(res)
}

// ReleaseLock returns a locked job to its retry-safe stage without spending
// a retry. Used when a worker stops before finishing, such as on shutdown.
func (s *Store) ReleaseLock(ctx context.Context, id, token string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil || job.Status != StatusProcessing || job.LockToken != token {
		return ErrLockLost
	}
	res, err := s.exec(ctx,
		`UPDATE evaluation_jobs
        SET stage = ?, status = ?, lock_token = NULL, lock_expires_at = NULL, updated_at = ?
        WHERE id = ? AND lock_token = ? AND status = ?`,
		RetrySafeStage(job.Stage), StatusPending, formatTime(s.now()), id, token, StatusProcessing)
	if err != nil {
		return fmt.Errorf("release job lock: %w", err)
	}
	return requireOneRow(res)
}

// StaleJobs returns processing jobs whose heartbeat is older than
// heartbeatTimeout or whose lock has expired.
func (s *Store) StaleJobs(ctx context.Context, heartbeatTimeout time.Duration) ([]*Job, error) {
	now := s.now()
	cutoff := now.Add(-heartbeatTimeout)
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM evaluation_jobs
        WHERE status = ?
          AND (heartbeat_at IS NULL OR heartbeat_at < ? OR lock_expires_at IS NULL OR lock_expires_at < ?)
        ORDER BY updated_at ASC`,
		StatusProcessing, formatTime(cutoff), formatTime(now))
}

// ApplyRecovery writes a recovery plan for a processing job. The update only
// lands if the job still holds the same lock token and retry count it had when
// the plan was made, so a concurrent heartbeat or a second watchdog pass
// cannot apply it twice.
func (s *Store) ApplyRecovery(ctx context.Context, job *Job, plan Recovery) (bool, error) {
	if job == nil {
		return false, errors.New("apply recovery: nil job")
	}
	now := formatTime(s.now())
	var (
		res sql.Result
		err error
	)
	switch plan.Action {
	case RecoveryFail:
		res, err = s.exec(ctx,
			`UPDATE evaluation_jobs
            SET stage = ?, status = ?, last_error = ?, lock_token = NULL, lock_expires_at = NULL, updated_at = ?
            WHERE id = ? AND status = ? AND retry_count = ? AND COALESCE(lock_token, '') = ?`,
			StageFailed, StatusFailed, plan.Message, now,
			job.ID, StatusProcessing, job.RetryCount, job.LockToken)
	case RecoverySwitchProvider:
		res, err = s.exec(ctx,
			`UPDATE evaluation_jobs
            SET stage = ?, status = ?, provider = ?, retry_count = 0, last_error = ?,
                lock_token = NULL, lock_expires_at = NULL, heartbeat_at = NULL, updated_at = ?
            WHERE id = ? AND status = ? AND retry_count = ? AND COALESCE(lock_token, '') = ?`,
			plan.Stage, StatusPending, plan.Provider, plan.Message, now,
			job.ID, StatusProcessing, job.RetryCount, job.LockToken)
	default:
		res, err = s.exec(ctx,
			`UPDATE evaluation_jobs
            SET stage = ?, status = ?, retry_count = retry_count + 1, last_error = ?,
                lock_token = NULL, lock_expires_at = NULL, heartbeat_at = NULL, updated_at = ?
            WHERE id = ? AND status = ? AND retry_count = ? AND COALESCE(lock_token, '') = ?`,
			plan.Stage, StatusPending, plan.Message, now,
			job.ID, StatusProcessing, job.RetryCount, job.LockToken)
	}
	if err != nil {
		return false, fmt.Errorf("apply recovery: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RetryFailed moves failed jobs back to their retry-safe stage with a fresh
// retry budget. Jobs with stored transcripts resume at pending_eval.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE evaluation_jobs
        SET stage = CASE WHEN transcription_json IS NOT NULL AND transcription_json != '' THEN ? ELSE ? END,
            status = ?, retry_count = 0, last_error = NULL, lock_token = NULL, lock_expires_at = NULL,
            heartbeat_at = NULL, updated_at = ?
        WHERE status = ?`
	args := []any{StagePendingEval, StagePendingTranscription, StatusPending, formatTime(s.now()), StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLockLost
	}
	return nil
}
