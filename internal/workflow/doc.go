// Package workflow moves evaluation jobs through their stages.
//
// The Manager runs stage workers fed by a TaskQueue. A worker claims a job
// by check-and-set on its lock token, keeps the lease alive with heartbeats
// while the stage handler runs, and on success hands the job to the next
// stage by enqueuing a new task. A worker that fails to claim a job exits
// without side effects, so dispatching the same job twice, or dispatching a
// finished job, is harmless.
//
// The durable record is the job row. A reconciler re-enqueues pending jobs
// every poll interval, and the Watchdog returns stalled jobs to their
// retry-safe stage (transcribing to pending_transcription, evaluating to
// pending_eval) until the retry budget is spent. Once it is spent a job in
// transcription may switch to the next configured ASR provider; otherwise it
// fails with the attempt count in its error.
//
// Add new stages by extending StageSet and the queue stage enums; this
// package is the authoritative home for that coordination logic.
package workflow
