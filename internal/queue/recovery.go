package queue

import (
	"fmt"
	"strings"
)

// RecoveryAction is what happens to a job whose worker stopped making progress.
type RecoveryAction int

const (
	// RecoveryRequeue returns the job to its retry-safe stage and spends one retry.
	RecoveryRequeue RecoveryAction = iota
	// RecoveryFail marks the job failed because its retry budget is spent.
	RecoveryFail
	// RecoverySwitchProvider moves the job to the next ASR provider with a fresh budget.
	RecoverySwitchProvider
)

func (a RecoveryAction) String() string {
	switch a {
	case RecoveryFail:
		return "fail"
	case RecoverySwitchProvider:
		return "switch_provider"
	default:
		return "requeue"
	}
}

// Recovery is the planned outcome for one stalled or failed job.
type Recovery struct {
	Action   RecoveryAction
	Stage    Stage
	Provider string
	Message  string
}

// NextProviderFunc returns the provider that follows current, if one is configured.
type NextProviderFunc func(current string) (string, bool)

// PlanRecovery decides how to recover a processing job. Below the retry
// budget the job goes back to its retry-safe stage. Once the budget is spent
// a transcription-stage job may move to the next ASR provider when
// nextProvider offers one; otherwise the job fails with the attempt count in
// its error.
func PlanRecovery(job *Job, reason string, nextProvider NextProviderFunc) Recovery {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "worker stopped responding"
	}
	safe := RetrySafeStage(job.Stage)
	if job.RetryCount < job.MaxRetries {
		return Recovery{
			Action:  RecoveryRequeue,
			Stage:   safe,
			Message: fmt.Sprintf("retry %d/%d: %s", job.RetryCount+1, job.MaxRetries, reason),
		}
	}
	if safe == StagePendingTranscription && nextProvider != nil {
		if next, ok := nextProvider(job.Provider); ok && next != "" {
			return Recovery{
				Action:   RecoverySwitchProvider,
				Stage:    StagePendingTranscription,
				Provider: next,
				Message:  fmt.Sprintf("switched to provider %s after %d attempts: %s", next, job.RetryCount, reason),
			}
		}
	}
	return Recovery{
		Action:  RecoveryFail,
		Stage:   StageFailed,
		Message: fmt.Sprintf("failed after %d attempts: %s", job.RetryCount, reason),
	}
}
