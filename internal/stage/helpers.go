package stage

import (
	"context"
	"encoding/json"
	"strings"

	"speecheval/internal/merge"
	"speecheval/internal/services"
)

// CancelChecker reports whether a job was cancelled while in flight.
type CancelChecker interface {
	IsCancelled(ctx context.Context, id string) (bool, error)
}

// CheckCancelled returns services.ErrCancelled when the job has been
// cancelled. Store errors are returned as-is so the caller can retry.
func CheckCancelled(ctx context.Context, checker CancelChecker, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if checker == nil {
		return nil
	}
	cancelled, err := checker.IsCancelled(ctx, jobID)
	if err != nil {
		return err
	}
	if cancelled {
		stageName, ok := services.StageFromContext(ctx)
		if !ok {
			stageName = "stage"
		}
		return services.Wrap(services.ErrCancelled, stageName, "check cancellation", "job cancelled", nil)
	}
	return nil
}

// ParseTranscription decodes the merged transcripts persisted by the
// transcription stage. On failure it returns a services.ErrValidation
// suitable for stage Execute methods.
func ParseTranscription(raw string) (map[string]merge.Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse transcription",
			"Transcription missing; rerun the transcription stage", nil)
	}
	var out map[string]merge.Result
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse transcription",
			"Transcription invalid; rerun the transcription stage", err)
	}
	return out, nil
}

// EncodeTranscription serializes merged transcripts for storage on the job row.
func EncodeTranscription(results map[string]merge.Result) (string, error) {
	data, err := json.Marshal(results)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "stage", "encode transcription", "", err)
	}
	return string(data), nil
}
