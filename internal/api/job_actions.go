package api

import "context"

// ActionOutcome describes what a cancel or retry did to one job.
type ActionOutcome string

const (
	OutcomeCancelled       ActionOutcome = "cancelled"
	OutcomeRetried         ActionOutcome = "retried"
	OutcomeNotFound        ActionOutcome = "not_found"
	OutcomeForbidden       ActionOutcome = "forbidden"
	OutcomeAlreadyTerminal ActionOutcome = "already_terminal"
	OutcomeNotFailed       ActionOutcome = "not_failed"
)

// JobActionResult is the per-job outcome of a batch action.
type JobActionResult struct {
	ID      string        `json:"id"`
	Outcome ActionOutcome `json:"outcome"`
}

// JobActionsResult summarizes a batch action.
type JobActionsResult struct {
	UpdatedCount int               `json:"updatedCount"`
	Jobs         []JobActionResult `json:"jobs"`
}

// CancelJobsByID cancels each job that is still in flight.
func CancelJobsByID(ctx context.Context, service *JobService, reason string, ids []string) (JobActionsResult, error) {
	result := JobActionsResult{Jobs: make([]JobActionResult, 0, len(ids))}
	for _, id := range ids {
		outcome, err := service.Cancel(ctx, id, "", reason)
		if err != nil {
			return JobActionsResult{}, err
		}
		if outcome == OutcomeCancelled {
			result.UpdatedCount++
		}
		result.Jobs = append(result.Jobs, JobActionResult{ID: id, Outcome: outcome})
	}
	return result, nil
}

// RetryFailedJobsByID retries only failed jobs.
func RetryFailedJobsByID(ctx context.Context, service *JobService, ids []string) (JobActionsResult, error) {
	result := JobActionsResult{Jobs: make([]JobActionResult, 0, len(ids))}
	for _, id := range ids {
		outcome, err := service.Retry(ctx, id)
		if err != nil {
			return JobActionsResult{}, err
		}
		if outcome == OutcomeRetried {
			result.UpdatedCount++
		}
		result.Jobs = append(result.Jobs, JobActionResult{ID: id, Outcome: outcome})
	}
	return result, nil
}
