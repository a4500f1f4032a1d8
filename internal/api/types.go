package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	ID             string             `json:"id,omitempty"`
	TestID         string             `json:"testId"`
	FilePaths      map[string]string  `json:"filePaths"`
	Durations      map[string]float64 `json:"durations,omitempty"`
	Topic          string             `json:"topic,omitempty"`
	Difficulty     string             `json:"difficulty,omitempty"`
	FluencyFlag    bool               `json:"fluencyFlag,omitempty"`
	EvaluationMode string             `json:"evaluationMode,omitempty"`
	Owner          string             `json:"owner,omitempty"`
	Provider       string             `json:"provider,omitempty"`
}

// CreateJobResponse acknowledges an accepted job.
type CreateJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// Job describes an evaluation job in a transport-friendly format.
type Job struct {
	ID             string   `json:"id"`
	Owner          string   `json:"owner,omitempty"`
	TestID         string   `json:"testId"`
	Stage          string   `json:"stage"`
	Status         string   `json:"status"`
	Provider       string   `json:"provider,omitempty"`
	Segments       []string `json:"segments"`
	Topic          string   `json:"topic,omitempty"`
	Difficulty     string   `json:"difficulty,omitempty"`
	EvaluationMode string   `json:"evaluationMode,omitempty"`
	RetryCount     int      `json:"retryCount"`
	MaxRetries     int      `json:"maxRetries"`
	HeartbeatAt    string   `json:"heartbeatAt,omitempty"`
	HasTranscript  bool     `json:"hasTranscript"`
	ResultID       string   `json:"resultId,omitempty"`
	LastError      string   `json:"lastError,omitempty"`
	CreatedAt      string   `json:"createdAt,omitempty"`
	UpdatedAt      string   `json:"updatedAt,omitempty"`
}

// Result is a stored evaluation outcome.
type Result struct {
	ID          string          `json:"id"`
	JobID       string          `json:"jobId"`
	OverallBand float64         `json:"overallBand"`
	Model       string          `json:"model,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string          `json:"status"`
	Database DatabaseStatus  `json:"database"`
	Workflow *WorkflowStatus `json:"workflow,omitempty"`
	Bus      *BusStatus      `json:"bus,omitempty"`
}

// DatabaseStatus reports the job database check.
type DatabaseStatus struct {
	Path          string `json:"path"`
	Readable      bool   `json:"readable"`
	SchemaVersion int    `json:"schemaVersion"`
	Integrity     bool   `json:"integrity"`
	TotalJobs     int    `json:"totalJobs"`
	Error         string `json:"error,omitempty"`
}

// BusStatus reports the NATS connection.
type BusStatus struct {
	Connected bool `json:"connected"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// CancelRequest is the optional body of POST /api/jobs/:id/cancel.
type CancelRequest struct {
	Owner  string `json:"owner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ActionResponse reports the outcome of a cancel or retry.
type ActionResponse struct {
	JobID   string `json:"jobId"`
	Outcome string `json:"outcome"`
	Status  string `json:"status,omitempty"`
}

// ErrorResponse is returned for every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
