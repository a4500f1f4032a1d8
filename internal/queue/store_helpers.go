package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const jobColumns = "id, owner, test_id, stage, status, provider, segments_json, durations_json, topic, difficulty, fluency_flag, evaluation_mode, retry_count, max_retries, heartbeat_at, lock_token, lock_expires_at, transcription_json, result_id, last_error, created_at, updated_at"

// timeLayout is fixed width so lexical comparison in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id             string
		owner          sql.NullString
		testID         string
		stageStr       string
		statusStr      string
		provider       sql.NullString
		segmentsRaw    string
		durationsRaw   sql.NullString
		topic          sql.NullString
		difficulty     sql.NullString
		fluencyFlag    sql.NullInt64
		evaluationMode sql.NullString
		retryCount     int
		maxRetries     int
		heartbeatRaw   sql.NullString
		lockToken      sql.NullString
		lockExpiresRaw sql.NullString
		transcription  sql.NullString
		resultID       sql.NullString
		lastError      sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&owner,
		&testID,
		&stageStr,
		&statusStr,
		&provider,
		&segmentsRaw,
		&durationsRaw,
		&topic,
		&difficulty,
		&fluencyFlag,
		&evaluationMode,
		&retryCount,
		&maxRetries,
		&heartbeatRaw,
		&lockToken,
		&lockExpiresRaw,
		&transcription,
		&resultID,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		Owner:          owner.String,
		TestID:         testID,
		Stage:          Stage(stageStr),
		Status:         Status(statusStr),
		Provider:       provider.String,
		Topic:          topic.String,
		Difficulty:     difficulty.String,
		FluencyFlag:    fluencyFlag.Valid && fluencyFlag.Int64 != 0,
		EvaluationMode: evaluationMode.String,
		RetryCount:     retryCount,
		MaxRetries:     maxRetries,
		LockToken:      lockToken.String,
		Transcription:  transcription.String,
		ResultID:       resultID.String,
		LastError:      lastError.String,
	}
	if err := json.Unmarshal([]byte(segmentsRaw), &job.Segments); err != nil {
		return nil, err
	}
	if durationsRaw.Valid && durationsRaw.String != "" {
		if err := json.Unmarshal([]byte(durationsRaw.String), &job.Durations); err != nil {
			return nil, err
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if ts, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.HeartbeatAt = &ts
		}
	}
	if lockExpiresRaw.Valid {
		if ts, err := parseTimeString(lockExpiresRaw.String); err == nil {
			job.LockExpiresAt = &ts
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
