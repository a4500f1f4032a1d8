package api

import (
	"encoding/json"
	"sort"
	"time"

	"speecheval/internal/queue"
	"speecheval/internal/stage"
	"speecheval/internal/workflow"
)

// FromJob converts a queue job into its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	segments := make([]string, 0, len(job.Segments))
	for key := range job.Segments {
		segments = append(segments, key)
	}
	sort.Strings(segments)
	return Job{
		ID:             job.ID,
		Owner:          job.Owner,
		TestID:         job.TestID,
		Stage:          string(job.Stage),
		Status:         string(job.Status),
		Provider:       job.Provider,
		Segments:       segments,
		Topic:          job.Topic,
		Difficulty:     job.Difficulty,
		EvaluationMode: job.EvaluationMode,
		RetryCount:     job.RetryCount,
		MaxRetries:     job.MaxRetries,
		HeartbeatAt:    formatOptionalTime(job.HeartbeatAt),
		HasTranscript:  job.HasTranscription(),
		ResultID:       job.ResultID,
		LastError:      job.LastError,
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
	}
}

// FromJobs converts a slice of queue jobs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromResult converts a stored result. A payload that is not valid JSON is
// passed through as a JSON string.
func FromResult(result *queue.Result) Result {
	if result == nil {
		return Result{}
	}
	payload := json.RawMessage(result.Payload)
	if !json.Valid(payload) {
		encoded, _ := json.Marshal(result.Payload)
		payload = encoded
	}
	return Result{
		ID:          result.ID,
		JobID:       result.JobID,
		OverallBand: result.OverallBand,
		Model:       result.Model,
		CreatedAt:   formatTime(result.CreatedAt),
		Payload:     payload,
	}
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastJob != nil {
		job := FromJob(summary.LastJob)
		status.LastJob = &job
	}
	return status
}

// MergeQueueStats keys counts by status string and includes every status.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// StageHealthSlice orders stage health by stage name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
