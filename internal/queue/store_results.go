package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ResultForJob returns the stored result for a job, or nil when none exists.
func (s *Store) ResultForJob(ctx context.Context, jobID string) (*Result, error) {
	var (
		result       Result
		model        sql.NullString
		credentialID sql.NullString
		createdRaw   string
	)
	err := s.db.QueryRowContext(orBackground(ctx),
		`SELECT id, job_id, overall_band, result_json, model, credential_id, created_at
        FROM evaluation_results WHERE job_id = ?`, jobID,
	).Scan(&result.ID, &result.JobID, &result.OverallBand, &result.Payload, &model, &credentialID, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	result.Model = model.String
	result.CredentialID = credentialID.String
	if created, err := parseTimeString(createdRaw); err == nil {
		result.CreatedAt = created
	}
	return &result, nil
}
