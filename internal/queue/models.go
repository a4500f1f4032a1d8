package queue

import (
	"strings"
	"time"
)

// Stage is the pipeline position of an evaluation job.
type Stage string

const (
	StagePendingTranscription Stage = "pending_transcription"
	StageTranscribing         Stage = "transcribing"
	StagePendingEval          Stage = "pending_eval"
	StageEvaluating           Stage = "evaluating"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
)

// Status is the coarse lifecycle state of an evaluation job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// UserCancelReason is recorded when a caller cancels a job.
const UserCancelReason = "Cancelled by user"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

type stageTransition struct {
	from Stage
	to   Stage
}

// stageRollbackTransitions maps in-flight stages to the retry-safe stage the
// watchdog returns them to.
var stageRollbackTransitions = []stageTransition{
	{from: StageTranscribing, to: StagePendingTranscription},
	{from: StageEvaluating, to: StagePendingEval},
}

// processingStageFor maps a dispatchable stage to the stage it holds while a
// worker owns the lock.
var processingStageFor = map[Stage]Stage{
	StagePendingTranscription: StageTranscribing,
	StagePendingEval:          StageEvaluating,
}

// ParseStatus converts a string into a Status if recognized.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// AllStatuses returns all known job statuses in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// RetrySafeStage returns the stage an in-flight job rolls back to.
func RetrySafeStage(stage Stage) Stage {
	for _, transition := range stageRollbackTransitions {
		if transition.from == stage {
			return transition.to
		}
	}
	return stage
}

// ProcessingStage returns the in-flight stage for a dispatchable stage.
func ProcessingStage(stage Stage) (Stage, bool) {
	next, ok := processingStageFor[stage]
	return next, ok
}

// IsTerminalStatus reports whether a status ends the job's lifecycle.
func IsTerminalStatus(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one asynchronous evaluation of a recorded speaking test.
type Job struct {
	ID             string
	Owner          string
	TestID         string
	Stage          Stage
	Status         Status
	Provider       string
	Segments       map[string]string
	Durations      map[string]float64
	Topic          string
	Difficulty     string
	FluencyFlag    bool
	EvaluationMode string
	RetryCount     int
	MaxRetries     int
	HeartbeatAt    *time.Time
	LockToken      string
	LockExpiresAt  *time.Time
	Transcription  string
	ResultID       string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal reports whether the job can no longer be dispatched.
func (j *Job) IsTerminal() bool {
	if j == nil {
		return true
	}
	return IsTerminalStatus(j.Status)
}

// HasTranscription reports whether merged transcripts are already persisted.
func (j *Job) HasTranscription() bool {
	return j != nil && strings.TrimSpace(j.Transcription) != ""
}

// NewJob holds the fields supplied when a job is submitted.
type NewJob struct {
	ID             string
	Owner          string
	TestID         string
	Provider       string
	Segments       map[string]string
	Durations      map[string]float64
	Topic          string
	Difficulty     string
	FluencyFlag    bool
	EvaluationMode string
	MaxRetries     int
}

// Result is the persisted evaluation outcome for a completed job.
type Result struct {
	ID           string
	JobID        string
	OverallBand  float64
	Payload      string
	Model        string
	CredentialID string
	CreatedAt    time.Time
}

// HealthSummary captures aggregate queue counts for health endpoints.
type HealthSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

// DatabaseHealth describes the state of the backing SQLite file.
type DatabaseHealth struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    int      `json:"schema_version"`
	TableExists      bool     `json:"table_exists"`
	ColumnsPresent   []string `json:"columns_present"`
	MissingColumns   []string `json:"missing_columns"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalJobs        int      `json:"total_jobs"`
	Error            string   `json:"error,omitempty"`
}
