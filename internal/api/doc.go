// Package api defines the HTTP job API and the wire-format types shared by
// the daemon and the evalctl CLI.
//
// # Routes
//
//	POST /api/jobs              submit a job, 202 {jobId, status}
//	GET  /api/jobs              list jobs, optionally filtered by ?status=
//	GET  /api/jobs/:id          job status, stage, result id, and last error
//	GET  /api/jobs/:id/result   stored evaluation payload
//	POST /api/jobs/:id/cancel   cancel a pending or processing job
//	POST /api/jobs/:id/retry    return a failed job to its retry-safe stage
//	GET  /api/health            store and workflow health
//
// The daemon mounts the Prometheus handler next to these routes when
// metrics are enabled.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (queue.Stage, queue.Status)
// are exposed as lowercase strings. Timestamps use RFC3339 with
// milliseconds. Stored evaluation payloads are passed through as
// json.RawMessage to avoid double-encoding.
package api
